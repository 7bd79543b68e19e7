// Package audit keeps the append-only, bounded, queryable record of every
// security- and execution-relevant event. Entries are immutable once
// written; parameter maps pass through sensitive-field redaction before
// storage. Trimming runs after every write: entries beyond the count
// bound (oldest first) or older than the retention period are dropped.
package audit

import (
	"sync"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Defaults.
const (
	DefaultMaxEntries    = 10000
	DefaultRetentionDays = 30
)

// Filter selects entries for Query. Zero fields are ignored; set fields
// combine conjunctively.
type Filter struct {
	UserID     string
	EventTypes []models.AuditEventType
	ServiceID  string
	RiskLevel  models.RiskLevel
	Success    *bool
	Since      time.Time
	Until      time.Time
	Offset     int
	Limit      int
}

// Stats is the aggregate view over the current log contents.
type Stats struct {
	TotalEntries     int                            `json:"total_entries"`
	ByEventType      map[models.AuditEventType]int  `json:"by_event_type"`
	ByService        map[string]int                 `json:"by_service"`
	SuccessRate      float64                        `json:"success_rate"`
	SecurityWarnings int                            `json:"security_warnings"`
	SecurityBlocks   int                            `json:"security_blocks"`
	Confirmations    int                            `json:"confirmations_requested"`
}

// Logger is the in-memory audit log.
type Logger struct {
	maxEntries int
	retention  time.Duration

	mu      sync.RWMutex
	entries []*models.AuditEntry
}

// NewLogger creates an audit logger. Zero arguments select the defaults.
func NewLogger(maxEntries, retentionDays int) *Logger {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Logger{
		maxEntries: maxEntries,
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Log appends one entry. The id and timestamp are generated here and the
// details map is redacted; the stored entry never aliases caller state.
func (l *Logger) Log(entry models.AuditEntry) *models.AuditEntry {
	entry.ID = uuid.New().String()
	entry.Timestamp = time.Now().UTC()
	entry.Details = RedactSensitive(entry.Details)

	l.mu.Lock()
	l.entries = append(l.entries, &entry)
	l.trimLocked()
	l.mu.Unlock()

	log.Debug().
		Str("event", string(entry.EventType)).
		Str("user", entry.UserID).
		Str("tool", entry.ToolName).
		Msg("audit entry recorded")
	return &entry
}

// trimLocked drops entries beyond the count bound (oldest first) and
// entries older than the retention window.
func (l *Logger) trimLocked() {
	if overflow := len(l.entries) - l.maxEntries; overflow > 0 {
		l.entries = l.entries[overflow:]
	}
	cutoff := time.Now().UTC().Add(-l.retention)
	firstKept := 0
	for firstKept < len(l.entries) && l.entries[firstKept].Timestamp.Before(cutoff) {
		firstKept++
	}
	if firstKept > 0 {
		l.entries = l.entries[firstKept:]
	}
}

// Query returns matching entries sorted newest-first, with offset/limit
// pagination. Limit 0 means no cap.
func (l *Logger) Query(f Filter) []*models.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*models.AuditEntry
	skipped := 0
	for i := len(l.entries) - 1; i >= 0; i-- {
		entry := l.entries[i]
		if !f.matches(entry) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, entry)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func (f *Filter) matches(e *models.AuditEntry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.ServiceID != "" && e.ServiceID != f.ServiceID {
		return false
	}
	if f.RiskLevel != "" && e.RiskLevel != f.RiskLevel {
		return false
	}
	if f.Success != nil && (e.Success == nil || *e.Success != *f.Success) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// GetStats aggregates counts by event type and service, the success rate
// over entries that declare success, and the security-relevant counters.
func (l *Logger) GetStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		TotalEntries: len(l.entries),
		ByEventType:  make(map[models.AuditEventType]int),
		ByService:    make(map[string]int),
	}
	var withOutcome, succeeded int
	for _, e := range l.entries {
		stats.ByEventType[e.EventType]++
		if e.ServiceID != "" {
			stats.ByService[e.ServiceID]++
		}
		if e.Success != nil {
			withOutcome++
			if *e.Success {
				succeeded++
			}
		}
		switch e.EventType {
		case models.AuditSecurityWarning:
			stats.SecurityWarnings++
		case models.AuditSecurityBlock:
			stats.SecurityBlocks++
		case models.AuditConfirmationRequested:
			stats.Confirmations++
		}
	}
	if withOutcome > 0 {
		stats.SuccessRate = float64(succeeded) / float64(withOutcome)
	}
	return stats
}

// ── Typed helpers ───────────────────────────────────────────

func boolPtr(b bool) *bool { return &b }

// LogToolInvocation records the start of a tool call.
func (l *Logger) LogToolInvocation(auth *models.AuthContext, planID string, call *models.ToolCall) *models.AuditEntry {
	return l.Log(models.AuditEntry{
		EventType:  models.AuditToolInvocation,
		UserID:     auth.UserID,
		RequestID:  auth.RequestID,
		PlanID:     planID,
		ToolCallID: call.ID,
		ServiceID:  call.ServiceID,
		ToolName:   call.ToolName,
		RiskLevel:  call.RiskLevel,
		Details:    map[string]any{"params": call.Params},
	})
}

// LogToolCompletion records a successful tool call.
func (l *Logger) LogToolCompletion(auth *models.AuthContext, planID string, call *models.ToolCall, durationMs int64) *models.AuditEntry {
	return l.Log(models.AuditEntry{
		EventType:  models.AuditToolCompletion,
		UserID:     auth.UserID,
		RequestID:  auth.RequestID,
		PlanID:     planID,
		ToolCallID: call.ID,
		ServiceID:  call.ServiceID,
		ToolName:   call.ToolName,
		RiskLevel:  call.RiskLevel,
		Success:    boolPtr(true),
		Details:    map[string]any{"duration_ms": durationMs},
	})
}

// LogToolFailure records a failed tool call.
func (l *Logger) LogToolFailure(auth *models.AuthContext, planID string, call *models.ToolCall, callErr error) *models.AuditEntry {
	return l.Log(models.AuditEntry{
		EventType:  models.AuditToolFailure,
		UserID:     auth.UserID,
		RequestID:  auth.RequestID,
		PlanID:     planID,
		ToolCallID: call.ID,
		ServiceID:  call.ServiceID,
		ToolName:   call.ToolName,
		RiskLevel:  call.RiskLevel,
		Success:    boolPtr(false),
		Details:    map[string]any{"error": callErr.Error()},
	})
}

// LogPlanCreated records a freshly planned request.
func (l *Logger) LogPlanCreated(auth *models.AuthContext, plan *models.Plan) *models.AuditEntry {
	return l.Log(models.AuditEntry{
		EventType: models.AuditPlanCreated,
		UserID:    auth.UserID,
		RequestID: auth.RequestID,
		PlanID:    plan.ID,
		Details: map[string]any{
			"calls":      len(plan.ToolCalls),
			"mode":       string(plan.Mode),
			"confidence": plan.Confidence,
		},
	})
}

// LogPlanExecuted records the aggregate outcome of a plan execution.
func (l *Logger) LogPlanExecuted(auth *models.AuthContext, exec *models.PlanExecution) *models.AuditEntry {
	return l.Log(models.AuditEntry{
		EventType: models.AuditPlanExecuted,
		UserID:    auth.UserID,
		RequestID: auth.RequestID,
		PlanID:    exec.PlanID,
		Success:   boolPtr(exec.Failed == 0),
		Details: map[string]any{
			"succeeded": exec.Succeeded,
			"failed":    exec.Failed,
			"skipped":   exec.Skipped,
		},
	})
}

// LogConfirmation records a confirmation lifecycle event (requested,
// granted, or denied).
func (l *Logger) LogConfirmation(eventType models.AuditEventType, auth *models.AuthContext, req *models.ConfirmationRequest) *models.AuditEntry {
	return l.Log(models.AuditEntry{
		EventType:  eventType,
		UserID:     auth.UserID,
		RequestID:  auth.RequestID,
		PlanID:     req.PlanID,
		ToolCallID: req.Call.ID,
		ServiceID:  req.Call.ServiceID,
		ToolName:   req.Call.ToolName,
		RiskLevel:  req.Assessment.Level,
		Details:    map[string]any{"confirmation_id": req.ID, "reason": req.Reason},
	})
}

// LogSecurityWarning records a non-blocking security observation.
func (l *Logger) LogSecurityWarning(auth *models.AuthContext, message string, details map[string]any) *models.AuditEntry {
	if details == nil {
		details = map[string]any{}
	}
	details["message"] = message
	return l.Log(models.AuditEntry{
		EventType: models.AuditSecurityWarning,
		UserID:    auth.UserID,
		RequestID: auth.RequestID,
		Details:   details,
	})
}

// LogSecurityBlock records a blocked action.
func (l *Logger) LogSecurityBlock(auth *models.AuthContext, planID string, call *models.ToolCall, reason string) *models.AuditEntry {
	entry := models.AuditEntry{
		EventType: models.AuditSecurityBlock,
		UserID:    auth.UserID,
		RequestID: auth.RequestID,
		PlanID:    planID,
		Details:   map[string]any{"reason": reason},
	}
	if call != nil {
		entry.ToolCallID = call.ID
		entry.ServiceID = call.ServiceID
		entry.ToolName = call.ToolName
		entry.RiskLevel = call.RiskLevel
	}
	return l.Log(entry)
}

// LogAuth records an authentication outcome.
func (l *Logger) LogAuth(userID, requestID string, success bool, detail string) *models.AuditEntry {
	eventType := models.AuditAuthSuccess
	if !success {
		eventType = models.AuditAuthFailure
	}
	return l.Log(models.AuditEntry{
		EventType: eventType,
		UserID:    userID,
		RequestID: requestID,
		Success:   boolPtr(success),
		Details:   map[string]any{"detail": detail},
	})
}
