package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// Well-known rate-limited operations.
const (
	OpChat   = "chat"
	OpInvoke = "invoke"
	OpInbox  = "inbox"
)

// staleMultiple: windows untouched for this many window lengths (at least
// the sweep floor) are garbage-collected.
const (
	staleMultiple = 5
	sweepFloor    = 5 * time.Minute
	sweepInterval = time.Minute
)

// RateLimitError is a transient denial; ResetAt tells the caller when to
// retry.
type RateLimitError struct {
	Operation         string
	ResetAt           time.Time
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q; retry in %ds", e.Operation, e.RetryAfterSeconds)
}

// LimitSpec is a fixed-window limit for one operation.
type LimitSpec struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultLimits per the platform's defaults.
func DefaultLimits() map[string]LimitSpec {
	return map[string]LimitSpec{
		OpChat:   {MaxRequests: 30, Window: time.Minute},
		OpInvoke: {MaxRequests: 60, Window: time.Minute},
		OpInbox:  {MaxRequests: 100, Window: time.Minute},
	}
}

type window struct {
	count       int
	windowStart time.Time
	lastTouched time.Time
}

// RateLimiter applies fixed-window counting keyed by (userId, operation).
// All windows live in one map guarded by a mutex, so concurrent requests
// on the same key are serialized and updates are never lost.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limits  map[string]LimitSpec
	now     func() time.Time // swapped in tests
}

// NewRateLimiter creates a limiter. A nil limits map selects the defaults.
func NewRateLimiter(limits map[string]LimitSpec) *RateLimiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &RateLimiter{
		windows: make(map[string]*window),
		limits:  limits,
		now:     time.Now,
	}
}

// Check counts one request against the (userID, operation) window.
// Operations with no configured limit are always allowed.
func (rl *RateLimiter) Check(userID, operation string) models.RateLimitResult {
	spec, ok := rl.limits[operation]
	if !ok {
		return models.RateLimitResult{Allowed: true, Remaining: -1}
	}

	now := rl.now()
	key := userID + ":" + operation

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, exists := rl.windows[key]
	if !exists || now.Sub(w.windowStart) >= spec.Window {
		// Fresh window: first request always passes.
		rl.windows[key] = &window{count: 1, windowStart: now, lastTouched: now}
		return models.RateLimitResult{
			Allowed:   true,
			Remaining: spec.MaxRequests - 1,
			ResetAt:   now.Add(spec.Window),
		}
	}

	w.lastTouched = now
	resetAt := w.windowStart.Add(spec.Window)
	if w.count >= spec.MaxRequests {
		wait := int(resetAt.Sub(now).Seconds())
		if wait < 1 {
			wait = 1
		}
		return models.RateLimitResult{
			Allowed:           false,
			Remaining:         0,
			ResetAt:           resetAt,
			RetryAfterSeconds: wait,
		}
	}
	w.count++
	return models.RateLimitResult{
		Allowed:   true,
		Remaining: spec.MaxRequests - w.count,
		ResetAt:   resetAt,
	}
}

// CheckErr is Check with the error-typed contract: nil when allowed, a
// *RateLimitError when denied.
func (rl *RateLimiter) CheckErr(userID, operation string) error {
	result := rl.Check(userID, operation)
	if result.Allowed {
		return nil
	}
	return &RateLimitError{
		Operation:         operation,
		ResetAt:           result.ResetAt,
		RetryAfterSeconds: result.RetryAfterSeconds,
	}
}

// Reset clears the window for one (userID, operation) pair.
func (rl *RateLimiter) Reset(userID, operation string) {
	rl.mu.Lock()
	delete(rl.windows, userID+":"+operation)
	rl.mu.Unlock()
}

// Sweep removes windows untouched beyond the safety margin, bounding
// memory over long uptimes. Returns the number removed.
func (rl *RateLimiter) Sweep() int {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, w := range rl.windows {
		margin := sweepFloor
		if spec, ok := rl.limits[keyOperation(key)]; ok {
			if m := spec.Window * staleMultiple; m > margin {
				margin = m
			}
		}
		if now.Sub(w.lastTouched) > margin {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}

// Start runs the periodic sweep until the context is cancelled.
func (rl *RateLimiter) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := rl.Sweep(); removed > 0 {
					log.Debug().Int("removed", removed).Msg("swept stale rate-limit windows")
				}
			}
		}
	}()
}

func keyOperation(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[i+1:]
		}
	}
	return key
}
