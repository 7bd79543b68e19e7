package audit_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/audit"
	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
)

func newTestLogger(t *testing.T) *audit.Logger {
	t.Helper()
	return audit.NewLogger(100, 30)
}

func testAuth() *models.AuthContext {
	return &models.AuthContext{UserID: "u1", RequestID: "r1", Scopes: []string{"calendar:write"}}
}

// ─── Logging & Redaction ─────────────────────────────────────

func TestLogAssignsIDAndTimestamp(t *testing.T) {
	l := newTestLogger(t)

	entry := l.Log(models.AuditEntry{
		EventType: models.AuditToolInvocation,
		UserID:    "u1",
	})
	if entry.ID == "" {
		t.Error("Log() left ID empty")
	}
	if entry.Timestamp.IsZero() {
		t.Error("Log() left Timestamp zero")
	}
}

func TestLogRedactsNestedSensitiveKeys(t *testing.T) {
	l := newTestLogger(t)

	entry := l.Log(models.AuditEntry{
		EventType: models.AuditToolInvocation,
		UserID:    "u1",
		Details: map[string]any{
			"query": "weather",
			"connection": map[string]any{
				"apiKey": "sk-12345",
				"nested": map[string]any{"password": "hunter2"},
			},
			"recipients": []any{
				map[string]any{"auth_token": "abc"},
			},
		},
	})

	conn := entry.Details["connection"].(map[string]any)
	if conn["apiKey"] != audit.RedactedPlaceholder {
		t.Errorf("apiKey = %v, want %q", conn["apiKey"], audit.RedactedPlaceholder)
	}
	nested := conn["nested"].(map[string]any)
	if nested["password"] != audit.RedactedPlaceholder {
		t.Errorf("nested password = %v, want %q", nested["password"], audit.RedactedPlaceholder)
	}
	inList := entry.Details["recipients"].([]any)[0].(map[string]any)
	if inList["auth_token"] != audit.RedactedPlaceholder {
		t.Errorf("auth_token in list = %v, want %q", inList["auth_token"], audit.RedactedPlaceholder)
	}
	if entry.Details["query"] != "weather" {
		t.Errorf("query = %v, want untouched value", entry.Details["query"])
	}
}

func TestRedactSensitiveDoesNotMutateInput(t *testing.T) {
	in := map[string]any{"password": "hunter2"}
	out := audit.RedactSensitive(in)

	if in["password"] != "hunter2" {
		t.Error("RedactSensitive mutated its input")
	}
	if out["password"] != audit.RedactedPlaceholder {
		t.Errorf("output password = %v, want %q", out["password"], audit.RedactedPlaceholder)
	}
}

func TestLogTrimsToMaxEntries(t *testing.T) {
	l := audit.NewLogger(5, 30)

	for i := 0; i < 8; i++ {
		l.Log(models.AuditEntry{
			EventType: models.AuditToolInvocation,
			UserID:    fmt.Sprintf("u%d", i),
		})
	}

	entries := l.Query(audit.Filter{})
	if len(entries) != 5 {
		t.Fatalf("Query() after overflow = %d entries, want 5", len(entries))
	}
	// Newest first; the oldest three were dropped.
	if entries[0].UserID != "u7" {
		t.Errorf("newest entry UserID = %q, want u7", entries[0].UserID)
	}
	if entries[len(entries)-1].UserID != "u3" {
		t.Errorf("oldest surviving UserID = %q, want u3", entries[len(entries)-1].UserID)
	}
}

// ─── Querying ────────────────────────────────────────────────

func seedEntries(t *testing.T, l *audit.Logger) {
	t.Helper()
	ok, fail := true, false
	l.Log(models.AuditEntry{EventType: models.AuditToolInvocation, UserID: "alice", ServiceID: "calendar"})
	l.Log(models.AuditEntry{EventType: models.AuditToolCompletion, UserID: "alice", ServiceID: "calendar", Success: &ok})
	l.Log(models.AuditEntry{EventType: models.AuditToolFailure, UserID: "bob", ServiceID: "mail", Success: &fail})
	l.Log(models.AuditEntry{EventType: models.AuditSecurityBlock, UserID: "bob", ServiceID: "mail", RiskLevel: models.RiskHigh})
}

func TestQueryFiltersConjunctively(t *testing.T) {
	l := newTestLogger(t)
	seedEntries(t, l)

	got := l.Query(audit.Filter{UserID: "bob", ServiceID: "mail"})
	if len(got) != 2 {
		t.Fatalf("Query(bob, mail) = %d entries, want 2", len(got))
	}

	got = l.Query(audit.Filter{
		UserID:     "bob",
		EventTypes: []models.AuditEventType{models.AuditSecurityBlock},
	})
	if len(got) != 1 || got[0].EventType != models.AuditSecurityBlock {
		t.Errorf("Query(bob, security_block) = %+v, want the one block entry", got)
	}

	fail := false
	got = l.Query(audit.Filter{Success: &fail})
	if len(got) != 1 || got[0].EventType != models.AuditToolFailure {
		t.Errorf("Query(success=false) = %+v, want the failure entry", got)
	}
}

func TestQueryNewestFirstWithPaging(t *testing.T) {
	l := newTestLogger(t)
	for i := 0; i < 4; i++ {
		l.Log(models.AuditEntry{EventType: models.AuditToolInvocation, UserID: fmt.Sprintf("u%d", i)})
	}

	page := l.Query(audit.Filter{Offset: 1, Limit: 2})
	if len(page) != 2 {
		t.Fatalf("paged Query() = %d entries, want 2", len(page))
	}
	if page[0].UserID != "u2" || page[1].UserID != "u1" {
		t.Errorf("page = [%s %s], want [u2 u1]", page[0].UserID, page[1].UserID)
	}
}

func TestQueryTimeWindow(t *testing.T) {
	l := newTestLogger(t)
	seedEntries(t, l)

	future := time.Now().Add(time.Hour)
	if got := l.Query(audit.Filter{Since: future}); len(got) != 0 {
		t.Errorf("Query(since future) = %d entries, want 0", len(got))
	}
	if got := l.Query(audit.Filter{Until: future}); len(got) != 4 {
		t.Errorf("Query(until future) = %d entries, want 4", len(got))
	}
}

// ─── Stats & Typed Helpers ───────────────────────────────────

func TestGetStats(t *testing.T) {
	l := newTestLogger(t)
	seedEntries(t, l)

	stats := l.GetStats()
	if stats.TotalEntries != 4 {
		t.Errorf("TotalEntries = %d, want 4", stats.TotalEntries)
	}
	if stats.ByEventType[models.AuditToolFailure] != 1 {
		t.Errorf("ByEventType[tool_failure] = %d, want 1", stats.ByEventType[models.AuditToolFailure])
	}
	if stats.ByService["mail"] != 2 {
		t.Errorf("ByService[mail] = %d, want 2", stats.ByService["mail"])
	}
	if stats.SecurityBlocks != 1 {
		t.Errorf("SecurityBlocks = %d, want 1", stats.SecurityBlocks)
	}
	// One success and one failure among entries that report an outcome.
	if stats.SuccessRate != 0.5 {
		t.Errorf("SuccessRate = %v, want 0.5", stats.SuccessRate)
	}
}

func TestTypedHelpersTagEntries(t *testing.T) {
	l := newTestLogger(t)
	auth := testAuth()
	call := &models.ToolCall{ID: "c1", ServiceID: "calendar", ToolName: "delete_event", RiskLevel: models.RiskHigh}

	l.LogToolInvocation(auth, "p1", call)
	l.LogToolFailure(auth, "p1", call, fmt.Errorf("boom"))
	l.LogSecurityBlock(auth, "p1", call, "scope denied")
	l.LogAuth("alice", "r9", false, "bad signature")

	if got := l.Query(audit.Filter{EventTypes: []models.AuditEventType{models.AuditToolInvocation}}); len(got) != 1 {
		t.Errorf("tool_invocation entries = %d, want 1", len(got))
	}
	failures := l.Query(audit.Filter{EventTypes: []models.AuditEventType{models.AuditToolFailure}})
	if len(failures) != 1 || failures[0].Success == nil || *failures[0].Success {
		t.Errorf("tool_failure entry = %+v, want success=false", failures)
	}
	blocks := l.Query(audit.Filter{EventTypes: []models.AuditEventType{models.AuditSecurityBlock}})
	if len(blocks) != 1 || blocks[0].ToolCallID != "c1" {
		t.Errorf("security_block entry = %+v, want tool_call_id c1", blocks)
	}
	auths := l.Query(audit.Filter{EventTypes: []models.AuditEventType{models.AuditAuthFailure}})
	if len(auths) != 1 || auths[0].UserID != "alice" {
		t.Errorf("auth_failure entry = %+v, want user alice", auths)
	}
}
