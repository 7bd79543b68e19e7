package risk

import (
	"fmt"
	"strings"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
)

// Rule is one independent risk heuristic. Rules are plain data values
// (id, predicate, elevation, confirmation flag) so they can be listed,
// tested individually, and swapped at runtime.
type Rule struct {
	ID          string
	Description string
	// Match inspects the call and returns whether the rule fires plus a
	// human-readable reason.
	Match                func(call *models.ToolCall) (bool, string)
	ElevatesTo           models.RiskLevel
	RequiresConfirmation bool
	Mitigation           string
}

// builtinRules returns the default rule set. The classifier copies this
// slice so runtime mutation of one classifier never affects another.
func builtinRules() []Rule {
	return []Rule{
		{
			ID:                   "destructive_operation",
			Description:          "delete/remove/destroy operations",
			Match:                matchNameKeywords("delete", "remove", "destroy"),
			ElevatesTo:           models.RiskHigh,
			RequiresConfirmation: true,
			Mitigation:           "verify the target before confirming",
		},
		{
			ID:                   "bulk_operation",
			Description:          "operations touching many records at once",
			Match:                matchBulk,
			ElevatesTo:           models.RiskMedium,
			RequiresConfirmation: true,
			Mitigation:           "review the affected record count",
		},
		{
			ID:          "external_call",
			Description: "external API, webhook, or notification calls",
			Match:       matchNameKeywords("webhook", "notify", "external"),
			ElevatesTo:  models.RiskMedium,
		},
		{
			ID:                   "financial_operation",
			Description:          "payment and money-movement operations",
			Match:                matchNameKeywords("payment", "charge", "refund", "transfer", "withdraw", "deposit"),
			ElevatesTo:           models.RiskHigh,
			RequiresConfirmation: true,
			Mitigation:           "double-check amounts and recipients",
		},
		{
			ID:                   "admin_operation",
			Description:          "admin, config, permission, or role changes",
			Match:                matchNameKeywords("admin", "config", "permission", "role"),
			ElevatesTo:           models.RiskHigh,
			RequiresConfirmation: true,
		},
		{
			ID:          "data_egress",
			Description: "export, download, or backup operations",
			Match:       matchNameKeywords("export", "download", "backup"),
			ElevatesTo:  models.RiskMedium,
		},
	}
}

// matchNameKeywords fires when the lowercased tool name contains any of
// the given keywords.
func matchNameKeywords(keywords ...string) func(*models.ToolCall) (bool, string) {
	return func(call *models.ToolCall) (bool, string) {
		name := strings.ToLower(call.ToolName)
		for _, kw := range keywords {
			if strings.Contains(name, kw) {
				return true, fmt.Sprintf("tool name %q contains %q", call.ToolName, kw)
			}
		}
		return false, ""
	}
}

// bulkIDThreshold: an id list longer than this counts as a bulk operation.
const bulkIDThreshold = 10

// matchBulk fires on an explicit all/bulk flag or an id list longer than
// the threshold.
func matchBulk(call *models.ToolCall) (bool, string) {
	for _, flag := range []string{"all", "bulk"} {
		if v, ok := call.Params[flag]; ok {
			if b, ok := v.(bool); ok && b {
				return true, fmt.Sprintf("parameter %q is set", flag)
			}
		}
	}
	for name, v := range call.Params {
		if list, ok := v.([]any); ok && len(list) > bulkIDThreshold {
			return true, fmt.Sprintf("parameter %q lists %d items", name, len(list))
		}
	}
	return false, ""
}
