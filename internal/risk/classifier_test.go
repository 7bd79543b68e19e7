package risk_test

import (
	"testing"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/risk"
	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
)

func assess(t *testing.T, c *risk.Classifier, call models.ToolCall) models.RiskAssessment {
	t.Helper()
	return c.Assess(&call, nil)
}

// ─── Built-in Rules ──────────────────────────────────────────

func TestDestructiveOperationElevatesToHigh(t *testing.T) {
	c := risk.NewClassifier()

	a := assess(t, c, models.ToolCall{ToolName: "delete_event", ServiceID: "calendar"})
	if a.Level != models.RiskHigh {
		t.Errorf("delete_event level = %q, want %q", a.Level, models.RiskHigh)
	}
	if !a.RequiresConfirmation {
		t.Error("delete_event should require confirmation")
	}
	if len(a.Reasons) == 0 {
		t.Error("matched rule should record a reason")
	}
}

func TestBulkOperationByListSize(t *testing.T) {
	c := risk.NewClassifier()

	small := make([]any, 3)
	a := assess(t, c, models.ToolCall{ToolName: "update_items", Params: map[string]any{"ids": small}})
	if a.Level != models.RiskLow {
		t.Errorf("3-item update level = %q, want %q", a.Level, models.RiskLow)
	}

	large := make([]any, 11)
	a = assess(t, c, models.ToolCall{ToolName: "update_items", Params: map[string]any{"ids": large}})
	if a.Level != models.RiskMedium {
		t.Errorf("11-item update level = %q, want %q", a.Level, models.RiskMedium)
	}
	if !a.RequiresConfirmation {
		t.Error("bulk update should require confirmation")
	}
}

func TestFinancialOperationRequiresConfirmation(t *testing.T) {
	c := risk.NewClassifier()

	a := assess(t, c, models.ToolCall{ToolName: "create_payment", ServiceID: "billing"})
	if a.Level != models.RiskHigh || !a.RequiresConfirmation {
		t.Errorf("payment assessment = %+v, want high + confirmation", a)
	}
}

func TestExternalCallIsMediumWithoutConfirmation(t *testing.T) {
	c := risk.NewClassifier()

	a := assess(t, c, models.ToolCall{ToolName: "send_webhook"})
	if a.Level != models.RiskMedium {
		t.Errorf("webhook level = %q, want %q", a.Level, models.RiskMedium)
	}
	if a.RequiresConfirmation {
		t.Error("medium-risk external call should not require confirmation by default")
	}
}

// ─── Level Composition ───────────────────────────────────────

func TestAssessNeverBelowSchemaLevel(t *testing.T) {
	c := risk.NewClassifier()

	call := models.ToolCall{ToolName: "read_status"}
	schema := &models.ToolSchema{Name: "read_status", RiskLevel: models.RiskHigh}

	a := c.Assess(&call, schema)
	if a.Level != models.RiskHigh {
		t.Errorf("level = %q, want schema floor %q", a.Level, models.RiskHigh)
	}
	if !a.RequiresConfirmation {
		t.Error("schema-declared high should trip the confirmation threshold")
	}
}

func TestAssessKeepsCallBaseLevel(t *testing.T) {
	c := risk.NewClassifier()

	a := assess(t, c, models.ToolCall{ToolName: "read_status", RiskLevel: models.RiskMedium})
	if a.Level != models.RiskMedium {
		t.Errorf("level = %q, want call base %q", a.Level, models.RiskMedium)
	}
}

func TestConfirmationThresholdOverride(t *testing.T) {
	c := risk.NewClassifier()
	c.SetConfirmationThreshold(models.RiskMedium)

	a := assess(t, c, models.ToolCall{ToolName: "send_webhook"})
	if !a.RequiresConfirmation {
		t.Error("medium call should require confirmation at a medium threshold")
	}
}

// ─── Runtime Rules ───────────────────────────────────────────

func TestAddAndRemoveRule(t *testing.T) {
	c := risk.NewClassifier()

	c.AddRule(risk.Rule{
		ID:         "forbid_legacy",
		ElevatesTo: models.RiskHigh,
		Match: func(call *models.ToolCall) (bool, string) {
			return call.ServiceID == "legacy", "legacy service"
		},
	})

	a := assess(t, c, models.ToolCall{ToolName: "read_status", ServiceID: "legacy"})
	if a.Level != models.RiskHigh {
		t.Errorf("custom rule level = %q, want %q", a.Level, models.RiskHigh)
	}

	if !c.RemoveRule("forbid_legacy") {
		t.Fatal("RemoveRule(forbid_legacy) = false, want true")
	}
	if c.RemoveRule("forbid_legacy") {
		t.Error("RemoveRule second call = true, want false")
	}

	a = assess(t, c, models.ToolCall{ToolName: "read_status", ServiceID: "legacy"})
	if a.Level != models.RiskLow {
		t.Errorf("level after rule removal = %q, want %q", a.Level, models.RiskLow)
	}
}
