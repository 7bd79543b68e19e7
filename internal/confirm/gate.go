// Package confirm implements the confirmation gate: a small state machine
// that pauses high-risk tool calls pending an external yes/no decision.
//
// Requests move pending → confirmed | denied | expired, exactly once.
// When no confirmation callback is registered, requests are auto-denied:
// proceeding on an unconfirmed high-risk action would be a security
// defect, so the gate fails closed.
package confirm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Defaults.
const (
	DefaultTimeout    = 5 * time.Minute
	DefaultMaxHistory = 500

	sweepInterval = time.Minute
)

// Callback is the mechanism by which a human (or policy) decides a pending
// request. It must return within the gate's deadline.
type Callback func(ctx context.Context, req *models.ConfirmationRequest) (bool, error)

// Gate tracks pending confirmation requests and a bounded history of
// resolved ones.
type Gate struct {
	timeout    time.Duration
	maxHistory int

	mu       sync.Mutex
	pending  map[string]*models.ConfirmationRequest
	history  []*models.ConfirmationRequest
	callback Callback
}

// NewGate creates a gate with the given request timeout and history bound.
// Zero values select the defaults.
func NewGate(timeout time.Duration, maxHistory int) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Gate{
		timeout:    timeout,
		maxHistory: maxHistory,
		pending:    make(map[string]*models.ConfirmationRequest),
	}
}

// SetCallback registers the external decision mechanism. Passing nil
// restores the fail-closed auto-deny behavior.
func (g *Gate) SetCallback(cb Callback) {
	g.mu.Lock()
	g.callback = cb
	g.mu.Unlock()
}

// CreateRequest builds and registers a pending confirmation request with a
// human-readable message and a deadline. The returned request is a
// snapshot; the gate keeps the canonical struct, so later resolutions do
// not mutate what the caller holds.
func (g *Gate) CreateRequest(planID string, call models.ToolCall, assessment models.RiskAssessment) *models.ConfirmationRequest {
	now := time.Now().UTC()
	req := &models.ConfirmationRequest{
		ID:         uuid.New().String(),
		PlanID:     planID,
		Call:       call,
		Assessment: assessment,
		Message:    buildMessage(call, assessment),
		CreatedAt:  now,
		ExpiresAt:  now.Add(g.timeout),
		Status:     models.ConfirmationPending,
	}
	g.mu.Lock()
	g.pending[req.ID] = req
	g.mu.Unlock()
	cp := *req
	return &cp
}

// RequestConfirmation is the usual entry point: it creates the request,
// obtains a decision, and returns the outcome along with the resolved
// request. With no callback registered the request is auto-denied.
//
// The gate enforces its own wall-clock deadline independent of the
// caller's cancellation, so an abandoned caller cannot leave a request
// pending forever.
func (g *Gate) RequestConfirmation(ctx context.Context, planID string, call models.ToolCall, assessment models.RiskAssessment) (bool, *models.ConfirmationRequest) {
	req := g.CreateRequest(planID, call, assessment)

	g.mu.Lock()
	cb := g.callback
	g.mu.Unlock()

	if cb == nil {
		g.resolve(req.ID, models.ConfirmationDenied, "no confirmation handler registered; denied by default")
		log.Warn().
			Str("plan", planID).
			Str("tool", call.ToolName).
			Msg("confirmation auto-denied: no handler registered")
		return false, g.resolved(req.ID)
	}

	cbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	confirmed, err := cb(cbCtx, req)
	if err != nil {
		reason := fmt.Sprintf("confirmation handler failed: %v", err)
		if cbCtx.Err() != nil {
			g.resolve(req.ID, models.ConfirmationExpired, "confirmation timed out")
			return false, g.resolved(req.ID)
		}
		g.resolve(req.ID, models.ConfirmationDenied, reason)
		return false, g.resolved(req.ID)
	}

	if confirmed {
		g.resolve(req.ID, models.ConfirmationConfirmed, "")
		return true, g.resolved(req.ID)
	}
	g.resolve(req.ID, models.ConfirmationDenied, "denied by confirmation handler")
	return false, g.resolved(req.ID)
}

// resolved fetches the post-resolution snapshot of a request.
func (g *Gate) resolved(id string) *models.ConfirmationRequest {
	req, _ := g.Get(id)
	return req
}

// Respond records an external decision for a pending request. Responses
// to expired requests are rejected: the request is marked expired and the
// call stays denied.
func (g *Gate) Respond(id string, confirmed bool, reason string) error {
	g.mu.Lock()
	req, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("confirmation %q is not pending", id)
	}

	if time.Now().After(req.ExpiresAt) {
		g.resolve(id, models.ConfirmationExpired, "response arrived after expiry")
		return fmt.Errorf("confirmation %q has expired", id)
	}

	status := models.ConfirmationDenied
	if confirmed {
		status = models.ConfirmationConfirmed
	}
	g.resolve(id, status, reason)
	return nil
}

// CancelPlan denies every pending request belonging to a plan, e.g. when
// the plan was aborted upstream. Returns the number of requests denied.
func (g *Gate) CancelPlan(planID string) int {
	g.mu.Lock()
	var ids []string
	for id, req := range g.pending {
		if req.PlanID == planID {
			ids = append(ids, id)
		}
	}
	g.mu.Unlock()

	for _, id := range ids {
		g.resolve(id, models.ConfirmationDenied, "plan cancelled")
	}
	return len(ids)
}

// CleanupExpired sweeps pending requests past their deadline into history
// as expired. Returns the number swept.
func (g *Gate) CleanupExpired() int {
	now := time.Now()
	g.mu.Lock()
	var ids []string
	for id, req := range g.pending {
		if now.After(req.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	g.mu.Unlock()

	for _, id := range ids {
		g.resolve(id, models.ConfirmationExpired, "expired without a response")
	}
	return len(ids)
}

// Start runs the periodic expiry sweep until the context is cancelled.
// RequestConfirmation self-resolves within its deadline, so the sweep only
// catches requests created directly and then abandoned.
func (g *Gate) Start(ctx context.Context) {
	interval := g.timeout / 2
	if interval > sweepInterval {
		interval = sweepInterval
	}
	if interval <= 0 {
		interval = sweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if swept := g.CleanupExpired(); swept > 0 {
					log.Info().Int("swept", swept).Msg("expired stale confirmation requests")
				}
			}
		}
	}()
}

// Pending returns snapshots of the currently pending requests. Snapshots
// are safe to hold and encode while resolutions land concurrently.
func (g *Gate) Pending() []*models.ConfirmationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*models.ConfirmationRequest, 0, len(g.pending))
	for _, req := range g.pending {
		cp := *req
		out = append(out, &cp)
	}
	return out
}

// Get returns a snapshot of a request by id, pending or resolved.
func (g *Gate) Get(id string) (*models.ConfirmationRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if req, ok := g.pending[id]; ok {
		cp := *req
		return &cp, true
	}
	for _, req := range g.history {
		if req.ID == id {
			cp := *req
			return &cp, true
		}
	}
	return nil, false
}

// History returns snapshots of resolved requests, newest last.
func (g *Gate) History() []*models.ConfirmationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*models.ConfirmationRequest, 0, len(g.history))
	for _, req := range g.history {
		cp := *req
		out = append(out, &cp)
	}
	return out
}

// resolve transitions a pending request to a terminal status and moves it
// into the bounded history buffer. Already-resolved requests are left
// untouched, preserving the transition-once invariant.
func (g *Gate) resolve(id string, status models.ConfirmationStatus, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.pending[id]
	if !ok {
		return
	}
	delete(g.pending, id)

	req.Status = status
	req.Reason = reason
	req.RespondedAt = time.Now().UTC()

	g.history = append(g.history, req)
	if len(g.history) > g.maxHistory {
		g.history = g.history[len(g.history)-g.maxHistory:]
	}
}

// buildMessage renders the request for a human approver: risk level,
// action, service, and the enumerated reasons.
func buildMessage(call models.ToolCall, assessment models.RiskAssessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Confirm %s-risk action %q on service %q.", assessment.Level, call.ToolName, call.ServiceID)
	if len(assessment.Reasons) > 0 {
		b.WriteString(" Reasons: ")
		b.WriteString(strings.Join(assessment.Reasons, "; "))
		b.WriteString(".")
	}
	if len(assessment.Mitigations) > 0 {
		b.WriteString(" Suggested checks: ")
		b.WriteString(strings.Join(assessment.Mitigations, "; "))
		b.WriteString(".")
	}
	return b.String()
}
