// Package orchestrator wires the core control flow: policy check,
// candidate retrieval, planning, risk gating, and transport invocation,
// with every step recorded in the audit log.
//
// Execution honors the plan's batch ordering as a hard guarantee: calls
// within a batch fan out concurrently behind a join barrier, and batch
// N+1 never starts before batch N has fully finished. A semaphore caps
// concurrent outbound calls so a wide batch cannot exhaust connections.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/audit"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/confirm"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/planner"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/policy"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/registry"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/risk"
	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxConcurrentCalls caps outbound tool calls within one batch.
const DefaultMaxConcurrentCalls = 8

// ChatResult is the full outcome of handling one user message.
type ChatResult struct {
	Plan       *models.Plan            `json:"plan"`
	Validation models.ValidationResult `json:"validation"`
	Execution  *models.PlanExecution   `json:"execution,omitempty"`
}

// Orchestrator holds the constructed component instances. There are no
// package-level singletons: the composition root builds one Orchestrator
// and hands it to the request handlers.
type Orchestrator struct {
	registry   *registry.Registry
	planner    *planner.Planner
	enforcer   *policy.Enforcer
	limiter    *policy.RateLimiter
	gate       *confirm.Gate
	auditor    *audit.Logger
	classifier *risk.Classifier
	tracer     trace.Tracer
	maxCalls   int
}

// New creates an orchestrator over the given component instances.
func New(
	reg *registry.Registry,
	pl *planner.Planner,
	enforcer *policy.Enforcer,
	limiter *policy.RateLimiter,
	gate *confirm.Gate,
	auditor *audit.Logger,
	classifier *risk.Classifier,
	maxConcurrentCalls int,
) *Orchestrator {
	if maxConcurrentCalls <= 0 {
		maxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	return &Orchestrator{
		registry:   reg,
		planner:    pl,
		enforcer:   enforcer,
		limiter:    limiter,
		gate:       gate,
		auditor:    auditor,
		classifier: classifier,
		tracer:     otel.Tracer("orchestrator"),
		maxCalls:   maxConcurrentCalls,
	}
}

// HandleMessage runs the full flow for one user message: rate limit,
// candidate retrieval, planning, validation, and — for valid plans —
// execution. Expected failures come back as typed errors, never panics.
func (o *Orchestrator) HandleMessage(ctx context.Context, auth *models.AuthContext, message string) (*ChatResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.HandleMessage",
		trace.WithAttributes(attribute.String("user.id", auth.UserID)))
	defer span.End()

	if err := o.limiter.CheckErr(auth.UserID, policy.OpChat); err != nil {
		return nil, err
	}

	available := o.collectManifests(ctx, auth, message)
	plan := o.planner.Plan(ctx, message, auth, available)
	o.auditor.LogPlanCreated(auth, plan)

	result := &ChatResult{
		Plan:       plan,
		Validation: planner.Validate(plan, auth, available),
	}
	if plan.Empty() {
		return result, nil
	}
	if !result.Validation.Valid {
		// Validation is authoritative: an invalid plan is never executed,
		// even though a degraded execution order exists.
		o.auditor.LogSecurityWarning(auth, "plan failed validation", map[string]any{
			"plan_id": plan.ID,
			"errors":  issueCodes(result.Validation.Errors),
		})
		o.gate.CancelPlan(plan.ID)
		return result, nil
	}

	result.Execution = o.ExecutePlan(ctx, auth, plan)
	return result, nil
}

// collectManifests retrieves candidate services for the message, drops
// those the user cannot access, and fetches their manifests.
func (o *Orchestrator) collectManifests(ctx context.Context, auth *models.AuthContext, message string) map[string]*models.ToolManifest {
	available := make(map[string]*models.ToolManifest)
	for _, match := range o.registry.FindByUserMessage(message) {
		serviceID := match.Service.ID
		if err := o.enforcer.CanAccessService(auth, serviceID); err != nil {
			log.Debug().Str("service", serviceID).Str("user", auth.UserID).Msg("candidate dropped by policy")
			continue
		}
		manifest, err := o.registry.FetchTools(ctx, serviceID)
		if err != nil {
			log.Warn().Str("service", serviceID).Err(err).Msg("manifest fetch failed; candidate dropped")
			continue
		}
		available[serviceID] = manifest
	}
	return available
}

// ExecutePlan runs a validated plan batch by batch. Dependency ordering
// is a hard guarantee; calls whose dependencies failed or were blocked
// are skipped rather than sent with incomplete inputs.
func (o *Orchestrator) ExecutePlan(ctx context.Context, auth *models.AuthContext, plan *models.Plan) *models.PlanExecution {
	ctx, span := o.tracer.Start(ctx, "orchestrator.ExecutePlan",
		trace.WithAttributes(
			attribute.String("plan.id", plan.ID),
			attribute.Int("plan.calls", len(plan.ToolCalls)),
		))
	defer span.End()

	exec := &models.PlanExecution{
		PlanID:    plan.ID,
		StartedAt: time.Now().UTC(),
	}
	failed := make(map[string]bool)
	sem := make(chan struct{}, o.maxCalls)

	for _, batch := range plan.ExecutionOrder {
		results := make([]models.CallResult, len(batch))
		var wg sync.WaitGroup

		for i, callID := range batch {
			call, ok := plan.Call(callID)
			if !ok {
				results[i] = models.CallResult{CallID: callID, Error: "call not found in plan"}
				continue
			}
			if dep, bad := firstFailedDependency(call, failed); bad {
				results[i] = models.CallResult{
					CallID:    call.ID,
					ServiceID: call.ServiceID,
					ToolName:  call.ToolName,
					Skipped:   true,
					Error:     fmt.Sprintf("dependency %q did not succeed", dep),
				}
				continue
			}

			wg.Add(1)
			go func(i int, call *models.ToolCall) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[i] = o.executeCall(ctx, auth, plan, call)
			}(i, call)
		}
		wg.Wait() // join barrier: batch N+1 must not start early

		for _, res := range results {
			exec.Results = append(exec.Results, res)
			switch {
			case res.Skipped:
				exec.Skipped++
				failed[res.CallID] = true
			case res.Success:
				exec.Succeeded++
			default:
				exec.Failed++
				failed[res.CallID] = true
			}
		}
	}

	exec.FinishedAt = time.Now().UTC()
	o.auditor.LogPlanExecuted(auth, exec)
	return exec
}

// executeCall runs one tool call end to end: rate limit, scope check,
// risk assessment, confirmation gate, transport invocation. A denial is
// terminal for this call, not for the whole plan.
func (o *Orchestrator) executeCall(ctx context.Context, auth *models.AuthContext, plan *models.Plan, call *models.ToolCall) models.CallResult {
	result := models.CallResult{
		CallID:    call.ID,
		ServiceID: call.ServiceID,
		ToolName:  call.ToolName,
		RiskLevel: call.RiskLevel,
	}

	if err := o.limiter.CheckErr(auth.UserID, policy.OpInvoke); err != nil {
		result.Error = err.Error()
		return result
	}

	var schema *models.ToolSchema
	var actionScopes []string
	if manifest, err := o.registry.FetchTools(ctx, call.ServiceID); err == nil {
		if s, ok := manifest.Tool(call.ToolName); ok {
			schema = s
			actionScopes = s.RequiredScopes
		}
	}

	if err := o.enforcer.CanPerformAction(auth, call.ServiceID, actionScopes); err != nil {
		o.auditor.LogSecurityBlock(auth, plan.ID, call, err.Error())
		result.Error = err.Error()
		return result
	}

	assessment := o.classifier.Assess(call, schema)
	result.RiskLevel = assessment.Level

	if assessment.RequiresConfirmation {
		confirmed, req := o.gate.RequestConfirmation(ctx, plan.ID, *call, assessment)
		o.auditor.LogConfirmation(models.AuditConfirmationRequested, auth, req)
		if !confirmed {
			o.auditor.LogConfirmation(models.AuditConfirmationDenied, auth, req)
			o.auditor.LogSecurityBlock(auth, plan.ID, call, "confirmation denied: "+req.Reason)
			result.Error = "confirmation denied"
			return result
		}
		o.auditor.LogConfirmation(models.AuditConfirmationGranted, auth, req)
	}

	client, ok := o.registry.Client(call.ServiceID)
	if !ok {
		result.Error = fmt.Sprintf("no transport client for service %q", call.ServiceID)
		return result
	}

	o.auditor.LogToolInvocation(auth, plan.ID, call)
	start := time.Now()
	raw, err := client.CallTool(ctx, auth, call.ToolName, call.Params)
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		o.auditor.LogToolFailure(auth, plan.ID, call, err)
		result.Error = err.Error()
		return result
	}

	o.auditor.LogToolCompletion(auth, plan.ID, call, result.DurationMs)
	result.Success = true
	result.Result = decodeResult(raw)
	return result
}

func firstFailedDependency(call *models.ToolCall, failed map[string]bool) (string, bool) {
	for _, dep := range call.DependsOn {
		if failed[dep] {
			return dep, true
		}
	}
	return "", false
}

func decodeResult(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func issueCodes(issues []models.ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, issue.Code)
	}
	return out
}
