// Package planner turns a user request plus the registry's candidate
// tools into a validated, ordered execution plan.
//
// The planner does not interpret language itself: tool selection is
// delegated to an external completion collaborator through one narrow
// JSON-mode call. Whatever happens — collaborator outage, unparsable
// output — the planner never fails past its boundary; it returns an
// empty plan with confidence 0 so downstream code has a uniform contract.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/risk"
	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CompletionClient is the narrow surface of the external completion
// collaborator: one JSON-mode call that must fill out with a structured
// result.
type CompletionClient interface {
	CompleteJSON(ctx context.Context, messages []models.ChatMessage, out any) error
}

// Planner builds plans from user messages and available tool manifests.
type Planner struct {
	completion CompletionClient
	classifier *risk.Classifier
}

// New creates a planner.
func New(completion CompletionClient, classifier *risk.Classifier) *Planner {
	return &Planner{completion: completion, classifier: classifier}
}

const planningSystemPrompt = `You are the planning component of a multi-service assistant.
Given the user's message and the available tools, respond with JSON only:
{"calls":[{"service_id":"...","tool_name":"...","params":{...},"depends_on":["..."],"purpose":"..."}],
 "execution_mode":"single|parallel|sequential|mixed","confidence":0.0,"reasoning":"..."}
Reference earlier calls in depends_on by their zero-based index as a string.
Use only the listed services and tools. Return {"calls":[]} if nothing fits.`

// Plan builds a plan for the message. available maps service id to its
// current tool manifest. The returned plan is complete but unvalidated;
// callers must run Validate before executing it.
func (p *Planner) Plan(ctx context.Context, message string, auth *models.AuthContext, available map[string]*models.ToolManifest) *models.Plan {
	plan := &models.Plan{
		ID:        uuid.New().String(),
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	toolsJSON, err := json.Marshal(manifestSummary(available))
	if err != nil {
		plan.Reasoning = fmt.Sprintf("planning failed: could not describe available tools: %v", err)
		plan.ExecutionOrder = [][]string{}
		return plan
	}

	messages := []models.ChatMessage{
		{Role: "system", Content: planningSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Available tools:\n%s\n\nUser message:\n%s", toolsJSON, message)},
	}

	var draft models.PlanDraft
	if err := p.completion.CompleteJSON(ctx, messages, &draft); err != nil {
		log.Warn().Err(err).Msg("completion collaborator failed; returning empty plan")
		plan.Reasoning = fmt.Sprintf("planning failed: %v", err)
		plan.ExecutionOrder = [][]string{}
		return plan
	}

	plan.Confidence = clamp01(draft.Confidence)
	plan.Reasoning = draft.Reasoning
	plan.ToolCalls = p.convertCalls(draft.Calls, available)
	plan.ExecutionOrder = ComputeExecutionOrder(plan.ToolCalls)
	plan.Mode = deriveMode(draft.Mode, plan)
	return plan
}

// convertCalls assigns deterministic ids, resolves index-based dependency
// references, and tags each call with its assessed risk level.
func (p *Planner) convertCalls(drafts []models.DraftCall, available map[string]*models.ToolManifest) []models.ToolCall {
	ids := make([]string, len(drafts))
	for i, d := range drafts {
		ids[i] = fmt.Sprintf("call_%d_%s", i, d.ToolName)
	}

	calls := make([]models.ToolCall, 0, len(drafts))
	for i, d := range drafts {
		call := models.ToolCall{
			ID:        ids[i],
			ServiceID: d.ServiceID,
			ToolName:  d.ToolName,
			Params:    d.Params,
			Purpose:   d.Purpose,
			RiskLevel: models.RiskLow,
		}
		for _, dep := range d.DependsOn {
			call.DependsOn = append(call.DependsOn, resolveDependencyRef(dep, ids))
		}

		var schema *models.ToolSchema
		if manifest, ok := available[d.ServiceID]; ok {
			if s, ok := manifest.Tool(d.ToolName); ok {
				schema = s
				if s.RiskLevel != "" {
					call.RiskLevel = s.RiskLevel
				}
			}
		}
		assessment := p.classifier.Assess(&call, schema)
		call.RiskLevel = assessment.Level
		calls = append(calls, call)
	}
	return calls
}

// resolveDependencyRef maps a draft dependency reference to a call id.
// The collaborator may reference calls by zero-based index or by the
// already-assigned id; anything else passes through and is caught by
// validation as a dangling reference.
func resolveDependencyRef(ref string, ids []string) string {
	var idx int
	if _, err := fmt.Sscanf(ref, "%d", &idx); err == nil && fmt.Sprintf("%d", idx) == ref {
		if idx >= 0 && idx < len(ids) {
			return ids[idx]
		}
	}
	return ref
}

// manifestSummary reduces manifests to the fields the collaborator needs.
func manifestSummary(available map[string]*models.ToolManifest) []map[string]any {
	out := make([]map[string]any, 0, len(available))
	for serviceID, manifest := range available {
		tools := make([]map[string]any, 0, len(manifest.Tools))
		for _, t := range manifest.Tools {
			tools = append(tools, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		out = append(out, map[string]any{
			"service_id": serviceID,
			"tools":      tools,
		})
	}
	return out
}

// deriveMode uses the collaborator's declared mode when present, otherwise
// derives one from the plan's shape.
func deriveMode(declared models.ExecutionMode, plan *models.Plan) models.ExecutionMode {
	switch declared {
	case models.ModeSingle, models.ModeParallel, models.ModeSequential, models.ModeMixed:
		return declared
	}
	switch {
	case len(plan.ToolCalls) <= 1:
		return models.ModeSingle
	case len(plan.ExecutionOrder) == 1:
		return models.ModeParallel
	case len(plan.ExecutionOrder) == len(plan.ToolCalls):
		return models.ModeSequential
	default:
		return models.ModeMixed
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
