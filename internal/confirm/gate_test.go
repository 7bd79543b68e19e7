package confirm_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/confirm"
	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
)

func testCall() models.ToolCall {
	return models.ToolCall{
		ID:        "c1",
		ServiceID: "calendar",
		ToolName:  "delete_event",
		RiskLevel: models.RiskHigh,
	}
}

func testAssessment() models.RiskAssessment {
	return models.RiskAssessment{
		Level:                models.RiskHigh,
		Reasons:              []string{`tool name "delete_event" contains "delete"`},
		RequiresConfirmation: true,
	}
}

// ─── Fail-closed Default ─────────────────────────────────────

func TestRequestConfirmationAutoDeniesWithoutCallback(t *testing.T) {
	g := confirm.NewGate(time.Minute, 10)

	confirmed, req := g.RequestConfirmation(context.Background(), "p1", testCall(), testAssessment())
	if confirmed {
		t.Fatal("RequestConfirmation without callback = confirmed, want denied")
	}
	if req.Status != models.ConfirmationDenied {
		t.Errorf("Status = %q, want %q", req.Status, models.ConfirmationDenied)
	}
	if req.Reason == "" {
		t.Error("auto-denial should record a reason")
	}
	if len(g.Pending()) != 0 {
		t.Error("auto-denied request should not stay pending")
	}
}

// ─── Callback Decisions ──────────────────────────────────────

func TestRequestConfirmationCallbackGrants(t *testing.T) {
	g := confirm.NewGate(time.Minute, 10)
	g.SetCallback(func(ctx context.Context, req *models.ConfirmationRequest) (bool, error) {
		return true, nil
	})

	confirmed, req := g.RequestConfirmation(context.Background(), "p1", testCall(), testAssessment())
	if !confirmed {
		t.Fatal("RequestConfirmation = denied, want confirmed")
	}
	if req.Status != models.ConfirmationConfirmed {
		t.Errorf("Status = %q, want %q", req.Status, models.ConfirmationConfirmed)
	}
}

func TestRequestConfirmationSurvivesCallerCancellation(t *testing.T) {
	g := confirm.NewGate(time.Minute, 10)
	g.SetCallback(func(ctx context.Context, req *models.ConfirmationRequest) (bool, error) {
		// The gate's deadline is independent of the caller's context.
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return true, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	confirmed, _ := g.RequestConfirmation(ctx, "p1", testCall(), testAssessment())
	if !confirmed {
		t.Error("cancelled caller context should not abort the confirmation window")
	}
}

// ─── Out-of-band Responses ───────────────────────────────────

func TestRespondResolvesViaAwaitResponse(t *testing.T) {
	g := confirm.NewGate(time.Minute, 10)
	g.SetCallback(confirm.AwaitResponse(g))

	type outcome struct {
		confirmed bool
		req       *models.ConfirmationRequest
	}
	done := make(chan outcome, 1)
	go func() {
		confirmed, req := g.RequestConfirmation(context.Background(), "p1", testCall(), testAssessment())
		done <- outcome{confirmed, req}
	}()

	// Wait for the request to appear, then answer it.
	var id string
	deadline := time.Now().Add(2 * time.Second)
	for id == "" {
		if time.Now().After(deadline) {
			t.Fatal("request never became pending")
		}
		if pending := g.Pending(); len(pending) == 1 {
			id = pending[0].ID
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := g.Respond(id, true, "looks right"); err != nil {
		t.Fatalf("Respond() failed: %v", err)
	}

	select {
	case out := <-done:
		if !out.confirmed {
			t.Error("RequestConfirmation = denied, want confirmed after Respond(true)")
		}
		if out.req.Status != models.ConfirmationConfirmed {
			t.Errorf("Status = %q, want %q", out.req.Status, models.ConfirmationConfirmed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RequestConfirmation did not return after Respond")
	}
}

func TestRespondUnknownRequest(t *testing.T) {
	g := confirm.NewGate(time.Minute, 10)
	if err := g.Respond("ghost", true, ""); err == nil {
		t.Error("Respond(ghost) should fail for an unknown id")
	}
}

func TestRespondAfterExpiry(t *testing.T) {
	g := confirm.NewGate(time.Nanosecond, 10)
	req := g.CreateRequest("p1", testCall(), testAssessment())
	time.Sleep(time.Millisecond)

	if err := g.Respond(req.ID, true, "too late"); err == nil {
		t.Fatal("Respond after expiry should fail")
	}
	resolved, ok := g.Get(req.ID)
	if !ok {
		t.Fatal("expired request should remain retrievable")
	}
	if resolved.Status != models.ConfirmationExpired {
		t.Errorf("Status = %q, want %q", resolved.Status, models.ConfirmationExpired)
	}
}

// ─── Lifecycle Hygiene ───────────────────────────────────────

func TestCancelPlanDeniesAllPending(t *testing.T) {
	g := confirm.NewGate(time.Minute, 10)
	g.CreateRequest("p1", testCall(), testAssessment())
	g.CreateRequest("p1", testCall(), testAssessment())
	other := g.CreateRequest("p2", testCall(), testAssessment())

	if n := g.CancelPlan("p1"); n != 2 {
		t.Errorf("CancelPlan(p1) = %d, want 2", n)
	}
	if len(g.Pending()) != 1 {
		t.Errorf("Pending() has %d requests, want 1 (other plan untouched)", len(g.Pending()))
	}
	if cur, _ := g.Get(other.ID); cur.Status != models.ConfirmationPending {
		t.Errorf("other plan's request = %q, want pending", cur.Status)
	}
}

func TestCleanupExpired(t *testing.T) {
	g := confirm.NewGate(time.Nanosecond, 10)
	g.CreateRequest("p1", testCall(), testAssessment())
	time.Sleep(time.Millisecond)

	if n := g.CleanupExpired(); n != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", n)
	}
	if len(g.Pending()) != 0 {
		t.Error("expired request still pending after cleanup")
	}
}

func TestStartSweepsAbandonedRequests(t *testing.T) {
	g := confirm.NewGate(20*time.Millisecond, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := g.CreateRequest("p1", testCall(), testAssessment())
	g.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if cur, ok := g.Get(req.ID); ok && cur.Status == models.ConfirmationExpired {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("abandoned request never swept to expired")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(g.Pending()) != 0 {
		t.Error("swept request still pending")
	}
}

// ─── Snapshot Semantics ──────────────────────────────────────

func TestAccessorsReturnSnapshots(t *testing.T) {
	g := confirm.NewGate(time.Minute, 10)
	created := g.CreateRequest("p1", testCall(), testAssessment())

	pending := g.Pending()
	if len(pending) != 1 {
		t.Fatalf("Pending() has %d requests, want 1", len(pending))
	}
	held, _ := g.Get(created.ID)

	if err := g.Respond(created.ID, false, "no"); err != nil {
		t.Fatalf("Respond() failed: %v", err)
	}

	if created.Status != models.ConfirmationPending {
		t.Errorf("CreateRequest snapshot mutated to %q after Respond", created.Status)
	}
	if pending[0].Status != models.ConfirmationPending {
		t.Errorf("Pending snapshot mutated to %q after Respond", pending[0].Status)
	}
	if held.Status != models.ConfirmationPending {
		t.Errorf("Get snapshot mutated to %q after Respond", held.Status)
	}
	if cur, _ := g.Get(created.ID); cur.Status != models.ConfirmationDenied {
		t.Errorf("fresh Get = %q, want %q", cur.Status, models.ConfirmationDenied)
	}
}

func TestPendingEncodesDuringConcurrentRespond(t *testing.T) {
	g := confirm.NewGate(time.Minute, 100)

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = g.CreateRequest("p1", testCall(), testAssessment()).ID
	}

	stop := make(chan struct{})
	encoded := make(chan error, 1)
	go func() {
		defer close(encoded)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := json.Marshal(g.Pending()); err != nil {
				encoded <- err
				return
			}
		}
	}()

	for _, id := range ids {
		if err := g.Respond(id, false, "no"); err != nil {
			t.Fatalf("Respond() failed: %v", err)
		}
	}
	close(stop)
	if err, ok := <-encoded; ok && err != nil {
		t.Fatalf("encoding pending list failed: %v", err)
	}
	if len(g.Pending()) != 0 {
		t.Error("requests still pending after all responses")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	g := confirm.NewGate(time.Minute, 3)

	for i := 0; i < 5; i++ {
		req := g.CreateRequest("p1", testCall(), testAssessment())
		if err := g.Respond(req.ID, false, "no"); err != nil {
			t.Fatalf("Respond() failed: %v", err)
		}
	}

	if got := len(g.History()); got != 3 {
		t.Errorf("History() length = %d, want bound of 3", got)
	}
}
