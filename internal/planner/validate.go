package planner

import (
	"fmt"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
)

// Validate checks a plan for structural and authorization problems
// without mutating it. Errors make the plan invalid; warnings are
// informational. The caller decides what to do with an invalid plan —
// the orchestrator refuses to execute one.
func Validate(plan *models.Plan, auth *models.AuthContext, available map[string]*models.ToolManifest) models.ValidationResult {
	result := models.ValidationResult{Valid: true}

	addError := func(code, callID, format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, models.ValidationIssue{
			Code:    code,
			CallID:  callID,
			Message: fmt.Sprintf(format, args...),
		})
	}
	addWarning := func(code, callID, format string, args ...any) {
		result.Warnings = append(result.Warnings, models.ValidationIssue{
			Code:    code,
			CallID:  callID,
			Message: fmt.Sprintf(format, args...),
		})
	}

	callIDs := make(map[string]bool, len(plan.ToolCalls))
	for _, call := range plan.ToolCalls {
		callIDs[call.ID] = true
	}

	for _, call := range plan.ToolCalls {
		manifest, ok := available[call.ServiceID]
		if !ok {
			addError(models.IssueUnknownService, call.ID, "service %q is not available", call.ServiceID)
			continue
		}

		schema, ok := manifest.Tool(call.ToolName)
		if !ok {
			addError(models.IssueUnknownTool, call.ID, "service %q has no tool %q", call.ServiceID, call.ToolName)
			continue
		}

		validateParams(&call, schema, addError)

		if !auth.IsAdmin() {
			for _, scope := range schema.RequiredScopes {
				if !auth.HasScope(scope) {
					addError(models.IssueMissingScope, call.ID, "tool %q requires scope %q", call.ToolName, scope)
				}
			}
		}

		for _, dep := range call.DependsOn {
			if !callIDs[dep] {
				addError(models.IssueDanglingDependency, call.ID, "depends on unknown call %q", dep)
			}
		}

		if call.RiskLevel == models.RiskHigh {
			addWarning(models.IssueHighRisk, call.ID, "tool %q is classified high risk", call.ToolName)
		}
	}

	for _, id := range findCycleParticipants(plan.ToolCalls) {
		addError(models.IssueCircularDependency, id, "call %q participates in a dependency cycle", id)
	}
	return result
}

// validateParams checks required parameters and declared types at the
// same step as scope checks, so type errors never surface only at the
// remote service.
func validateParams(call *models.ToolCall, schema *models.ToolSchema, addError func(code, callID, format string, args ...any)) {
	for _, spec := range schema.Parameters {
		value, present := call.Params[spec.Name]
		if !present {
			if spec.Required {
				addError(models.IssueMissingParam, call.ID, "tool %q requires parameter %q", call.ToolName, spec.Name)
			}
			continue
		}
		if !typeMatches(spec.Type, value) {
			addError(models.IssueParamType, call.ID,
				"parameter %q of tool %q must be of type %s", spec.Name, call.ToolName, spec.Type)
		}
	}
}

// typeMatches checks a JSON-decoded value against a declared type name.
// Unknown or empty declared types match anything.
func typeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}

// findCycleParticipants returns the ids of calls involved in a dependency
// cycle, in plan order. A call participates in a cycle exactly when it can
// reach itself through dependsOn edges; plans are small, so a depth-first
// reachability check per call is fine.
func findCycleParticipants(calls []models.ToolCall) []string {
	deps := make(map[string][]string, len(calls))
	known := make(map[string]bool, len(calls))
	for _, c := range calls {
		known[c.ID] = true
	}
	for _, c := range calls {
		for _, dep := range c.DependsOn {
			if known[dep] {
				deps[c.ID] = append(deps[c.ID], dep)
			}
		}
	}

	reachesSelf := func(start string) bool {
		visited := make(map[string]bool, len(calls))
		var visit func(id string) bool
		visit = func(id string) bool {
			for _, dep := range deps[id] {
				if dep == start {
					return true
				}
				if !visited[dep] {
					visited[dep] = true
					if visit(dep) {
						return true
					}
				}
			}
			return false
		}
		return visit(start)
	}

	var out []string
	for _, c := range calls {
		if reachesSelf(c.ID) {
			out = append(out, c.ID)
		}
	}
	return out
}
