package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/audit"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/confirm"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/orchestrator"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/planner"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/policy"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/registry"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/risk"
	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
)

// fakeProvider is a test transport client recording invocations.
type fakeProvider struct {
	tools   []models.ToolSchema
	calls   []string
	callErr error
}

func (f *fakeProvider) ListTools(ctx context.Context, auth *models.AuthContext) ([]models.ToolSchema, error) {
	return f.tools, nil
}

func (f *fakeProvider) CallTool(ctx context.Context, auth *models.AuthContext, name string, args map[string]any) ([]byte, error) {
	f.calls = append(f.calls, name)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (f *fakeProvider) Ping(ctx context.Context) error { return nil }

// stubCompletion returns a canned plan draft.
type stubCompletion struct {
	draft models.PlanDraft
}

func (s *stubCompletion) CompleteJSON(ctx context.Context, messages []models.ChatMessage, out any) error {
	raw, _ := json.Marshal(s.draft)
	return json.Unmarshal(raw, out)
}

type fixture struct {
	orch     *orchestrator.Orchestrator
	registry *registry.Registry
	gate     *confirm.Gate
	auditor  *audit.Logger
	provider *fakeProvider
}

// newFixture wires an orchestrator over one registered habit service with
// a read tool and a high-risk delete tool.
func newFixture(t *testing.T, draft models.PlanDraft) *fixture {
	t.Helper()

	provider := &fakeProvider{
		tools: []models.ToolSchema{
			{Name: "habit.list", Description: "list habits"},
			{Name: "habit.delete", Description: "delete a habit", RequiredScopes: []string{"habits:write"}},
		},
	}
	reg := registry.New(registry.Config{
		ManifestTTL: time.Minute,
		Dialer:      func(string) registry.ProviderClient { return provider },
	})
	if err := reg.Register(&models.ServiceEntry{
		ID:       "habits",
		BaseURL:  "http://habits",
		Keywords: []string{"habit", "habits"},
		Enabled:  true,
	}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	classifier := risk.NewClassifier()
	gate := confirm.NewGate(time.Minute, 50)
	auditor := audit.NewLogger(1000, 30)
	limiter := policy.NewRateLimiter(nil)
	enforcer := policy.NewEnforcer(reg)
	pl := planner.New(&stubCompletion{draft: draft}, classifier)

	return &fixture{
		orch:     orchestrator.New(reg, pl, enforcer, limiter, gate, auditor, classifier, 4),
		registry: reg,
		gate:     gate,
		auditor:  auditor,
		provider: provider,
	}
}

func eventsOf(t *testing.T, auditor *audit.Logger, et models.AuditEventType) []*models.AuditEntry {
	t.Helper()
	return auditor.Query(audit.Filter{EventTypes: []models.AuditEventType{et}})
}

// ─── Happy Path ──────────────────────────────────────────────

func TestHandleMessageExecutesValidPlan(t *testing.T) {
	fx := newFixture(t, models.PlanDraft{
		Calls:      []models.DraftCall{{ServiceID: "habits", ToolName: "habit.list"}},
		Confidence: 0.8,
	})
	auth := &models.AuthContext{UserID: "alice", Scopes: []string{"habits:read"}}

	result, err := fx.orch.HandleMessage(context.Background(), auth, "show my habits")
	if err != nil {
		t.Fatalf("HandleMessage() failed: %v", err)
	}
	if !result.Validation.Valid {
		t.Fatalf("validation failed: %+v", result.Validation.Errors)
	}
	if result.Execution == nil {
		t.Fatal("valid plan was not executed")
	}
	if result.Execution.Succeeded != 1 || result.Execution.Failed != 0 {
		t.Errorf("execution = %d ok / %d failed, want 1/0", result.Execution.Succeeded, result.Execution.Failed)
	}
	if len(fx.provider.calls) != 1 || fx.provider.calls[0] != "habit.list" {
		t.Errorf("provider calls = %v, want [habit.list]", fx.provider.calls)
	}

	if got := eventsOf(t, fx.auditor, models.AuditPlanCreated); len(got) != 1 {
		t.Errorf("plan_created entries = %d, want 1", len(got))
	}
	if got := eventsOf(t, fx.auditor, models.AuditToolCompletion); len(got) != 1 {
		t.Errorf("tool_completion entries = %d, want 1", len(got))
	}
	if got := eventsOf(t, fx.auditor, models.AuditPlanExecuted); len(got) != 1 {
		t.Errorf("plan_executed entries = %d, want 1", len(got))
	}
}

// ─── Confirmation Denial ─────────────────────────────────────

func TestHighRiskCallAutoDeniedWithoutHandler(t *testing.T) {
	fx := newFixture(t, models.PlanDraft{
		Calls: []models.DraftCall{
			{ServiceID: "habits", ToolName: "habit.delete", Params: map[string]any{"id": "h1"}},
		},
	})
	// No gate callback registered: the gate fails closed.
	auth := &models.AuthContext{UserID: "alice", Scopes: []string{"habits:read", "habits:write"}}

	result, err := fx.orch.HandleMessage(context.Background(), auth, "delete my habit")
	if err != nil {
		t.Fatalf("HandleMessage() failed: %v", err)
	}
	if result.Execution == nil {
		t.Fatal("plan was not executed")
	}
	if result.Execution.Failed != 1 {
		t.Fatalf("execution failed count = %d, want 1 (denied call)", result.Execution.Failed)
	}
	if len(fx.provider.calls) != 0 {
		t.Errorf("provider was invoked %v despite denial", fx.provider.calls)
	}

	// The denial leaves a paired trail for the same call.
	requested := eventsOf(t, fx.auditor, models.AuditConfirmationRequested)
	denied := eventsOf(t, fx.auditor, models.AuditConfirmationDenied)
	if len(requested) != 1 || len(denied) != 1 {
		t.Fatalf("confirmation trail = %d requested / %d denied, want 1/1", len(requested), len(denied))
	}
	if requested[0].ToolCallID == "" || requested[0].ToolCallID != denied[0].ToolCallID {
		t.Errorf("trail tool_call_ids = %q vs %q, want identical and non-empty",
			requested[0].ToolCallID, denied[0].ToolCallID)
	}
	if len(eventsOf(t, fx.auditor, models.AuditSecurityBlock)) != 1 {
		t.Error("denied call should record a security_block entry")
	}
}

func TestConfirmedHighRiskCallProceeds(t *testing.T) {
	fx := newFixture(t, models.PlanDraft{
		Calls: []models.DraftCall{
			{ServiceID: "habits", ToolName: "habit.delete", Params: map[string]any{"id": "h1"}},
		},
	})
	fx.gate.SetCallback(func(ctx context.Context, req *models.ConfirmationRequest) (bool, error) {
		return true, nil
	})
	auth := &models.AuthContext{UserID: "alice", Scopes: []string{"habits:write"}}

	result, err := fx.orch.HandleMessage(context.Background(), auth, "delete my habit")
	if err != nil {
		t.Fatalf("HandleMessage() failed: %v", err)
	}
	if result.Execution == nil || result.Execution.Succeeded != 1 {
		t.Fatalf("execution = %+v, want one success", result.Execution)
	}
	if len(fx.provider.calls) != 1 {
		t.Errorf("provider calls = %v, want [habit.delete]", fx.provider.calls)
	}
	if len(eventsOf(t, fx.auditor, models.AuditConfirmationGranted)) != 1 {
		t.Error("granted confirmation should be audited")
	}
}

// ─── Policy & Validation Blocks ──────────────────────────────

func TestScopelessUserBlockedBeforeTransport(t *testing.T) {
	fx := newFixture(t, models.PlanDraft{
		Calls: []models.DraftCall{
			{ServiceID: "habits", ToolName: "habit.delete", Params: map[string]any{"id": "h1"}},
		},
	})
	auth := &models.AuthContext{UserID: "bob"}

	result, err := fx.orch.HandleMessage(context.Background(), auth, "delete a habit")
	if err != nil {
		t.Fatalf("HandleMessage() failed: %v", err)
	}
	// Missing habits:write surfaces as a validation error, so the plan
	// never executes.
	if result.Validation.Valid {
		t.Fatal("validation passed without the required scope")
	}
	if result.Execution != nil {
		t.Error("invalid plan was executed")
	}
	if len(fx.provider.calls) != 0 {
		t.Errorf("provider calls = %v, want none", fx.provider.calls)
	}
	if len(eventsOf(t, fx.auditor, models.AuditSecurityWarning)) != 1 {
		t.Error("invalid plan should record a security_warning entry")
	}
}

func TestChatRateLimitSurfacesTypedError(t *testing.T) {
	fx := newFixture(t, models.PlanDraft{})
	auth := &models.AuthContext{UserID: "alice"}

	// Exhaust the chat window.
	for i := 0; i < 30; i++ {
		if _, err := fx.orch.HandleMessage(context.Background(), auth, "hello"); err != nil {
			t.Fatalf("request %d failed early: %v", i+1, err)
		}
	}
	_, err := fx.orch.HandleMessage(context.Background(), auth, "hello")
	var rle *policy.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("31st request error = %v, want *RateLimitError", err)
	}
}

// ─── Dependency Skipping ─────────────────────────────────────

func TestFailedDependencySkipsDownstream(t *testing.T) {
	fx := newFixture(t, models.PlanDraft{
		Calls: []models.DraftCall{
			{ServiceID: "habits", ToolName: "habit.list"},
			{ServiceID: "habits", ToolName: "habit.list", DependsOn: []string{"0"}},
		},
	})
	fx.provider.callErr = errors.New("backend down")
	auth := &models.AuthContext{UserID: "alice"}

	result, err := fx.orch.HandleMessage(context.Background(), auth, "habits twice")
	if err != nil {
		t.Fatalf("HandleMessage() failed: %v", err)
	}
	exec := result.Execution
	if exec == nil {
		t.Fatal("plan was not executed")
	}
	if exec.Failed != 1 || exec.Skipped != 1 {
		t.Errorf("execution = %d failed / %d skipped, want 1/1", exec.Failed, exec.Skipped)
	}
	// Only the first call reached the provider.
	if len(fx.provider.calls) != 1 {
		t.Errorf("provider calls = %v, want just the first", fx.provider.calls)
	}
	for _, res := range exec.Results {
		if res.Skipped && res.Error == "" {
			t.Error("skipped result should name the failed dependency")
		}
	}
}
