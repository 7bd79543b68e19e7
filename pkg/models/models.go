// Package models defines the shared domain types for the Yukie
// orchestration core: services and their tool manifests, execution
// plans, risk assessments, confirmation requests, and audit entries.
//
// All components exchange these types; none of them carries behavior
// beyond small convenience accessors, so the package stays dependency-free.
package models

import (
	"time"
)

// ── Risk Levels ─────────────────────────────────────────────

// RiskLevel classifies how dangerous a tool call is judged to be.
// Levels are totally ordered: low < medium < high.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank returns the ordinal position of the level (low=0, medium=1, high=2).
// Unknown levels rank as low.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether r is at or above other in the risk ordering.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// MaxRiskLevel returns the highest of the given levels.
func MaxRiskLevel(levels ...RiskLevel) RiskLevel {
	max := RiskLow
	for _, l := range levels {
		if l.Rank() > max.Rank() {
			max = l
		}
	}
	return max
}

// ── Services & Manifests ────────────────────────────────────

// ServiceEntry describes a registered tool-provider service.
// Entries are owned by the registry; callers treat them as read-only.
type ServiceEntry struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	BaseURL      string    `json:"base_url"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Keywords     []string  `json:"keywords,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	RiskLevel    RiskLevel `json:"risk_level,omitempty"`
	Enabled      bool      `json:"enabled"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ParameterSpec declares one parameter of a tool.
type ParameterSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, number, boolean, object, array
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ToolSchema is the declared shape of a single tool a service provides.
type ToolSchema struct {
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Parameters     []ParameterSpec `json:"parameters,omitempty"`
	RequiredScopes []string        `json:"required_scopes,omitempty"`
	RiskLevel      RiskLevel       `json:"risk_level,omitempty"`
}

// Parameter looks up a declared parameter by name.
func (t *ToolSchema) Parameter(name string) (ParameterSpec, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// ToolManifest is the cached set of tool schemas a service has declared.
// A manifest past ExpiresAt must not be served from cache.
type ToolManifest struct {
	ServiceID string       `json:"service_id"`
	Tools     []ToolSchema `json:"tools"`
	FetchedAt time.Time    `json:"fetched_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Expired reports whether the manifest is past its expiry at the given time.
func (m *ToolManifest) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// Tool looks up a tool schema in the manifest by name.
func (m *ToolManifest) Tool(name string) (*ToolSchema, bool) {
	for i := range m.Tools {
		if m.Tools[i].Name == name {
			return &m.Tools[i], true
		}
	}
	return nil, false
}

// HealthStatus records the outcome of the most recent health probe.
type HealthStatus struct {
	OK             bool      `json:"ok"`
	LastCheck      time.Time `json:"last_check"`
	ResponseTimeMs int64     `json:"response_time_ms,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// ── Plans ───────────────────────────────────────────────────

// ExecutionMode describes the overall shape of a plan.
type ExecutionMode string

const (
	ModeSingle     ExecutionMode = "single"
	ModeParallel   ExecutionMode = "parallel"
	ModeSequential ExecutionMode = "sequential"
	ModeMixed      ExecutionMode = "mixed"
)

// ToolCall is one remote tool invocation within a plan.
type ToolCall struct {
	ID        string         `json:"id"`
	ServiceID string         `json:"service_id"`
	ToolName  string         `json:"tool_name"`
	Params    map[string]any `json:"params,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
	RiskLevel RiskLevel      `json:"risk_level"`
	Purpose   string         `json:"purpose,omitempty"`
}

// Plan is an ordered, validated set of tool calls derived from one user
// request. ExecutionOrder groups call ids into batches: calls within a
// batch may run concurrently, batches run strictly in sequence.
// Plans are immutable after validation; a revision is a new Plan.
type Plan struct {
	ID             string        `json:"id"`
	Message        string        `json:"message"`
	ToolCalls      []ToolCall    `json:"tool_calls"`
	ExecutionOrder [][]string    `json:"execution_order"`
	Mode           ExecutionMode `json:"execution_mode"`
	Confidence     float64       `json:"confidence"`
	Reasoning      string        `json:"reasoning,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Call looks up a tool call in the plan by id.
func (p *Plan) Call(id string) (*ToolCall, bool) {
	for i := range p.ToolCalls {
		if p.ToolCalls[i].ID == id {
			return &p.ToolCalls[i], true
		}
	}
	return nil, false
}

// Empty reports whether the plan carries no tool calls (the planner's
// uniform failure contract).
func (p *Plan) Empty() bool {
	return len(p.ToolCalls) == 0
}

// ── Plan Drafts (completion collaborator output) ────────────

// DraftCall is one tool call as proposed by the completion collaborator,
// before id assignment and risk tagging.
type DraftCall struct {
	ServiceID string         `json:"service_id"`
	ToolName  string         `json:"tool_name"`
	Params    map[string]any `json:"params,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
	Purpose   string         `json:"purpose,omitempty"`
}

// PlanDraft is the structured result the completion collaborator must
// return from a planning prompt.
type PlanDraft struct {
	Calls      []DraftCall   `json:"calls"`
	Mode       ExecutionMode `json:"execution_mode,omitempty"`
	Confidence float64       `json:"confidence"`
	Reasoning  string        `json:"reasoning,omitempty"`
}

// ── Validation ──────────────────────────────────────────────

// Validation issue codes.
const (
	IssueUnknownService     = "unknown_service"
	IssueUnknownTool        = "unknown_tool"
	IssueMissingParam       = "missing_param"
	IssueParamType          = "param_type"
	IssueMissingScope       = "missing_scope"
	IssueDanglingDependency = "dangling_dependency"
	IssueCircularDependency = "circular_dependency"
	IssueHighRisk           = "high_risk"
)

// ValidationIssue is a single error or warning found during plan validation.
type ValidationIssue struct {
	Code    string `json:"code"`
	CallID  string `json:"call_id,omitempty"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating a plan. Validation never
// mutates the plan; the caller decides what to do with an invalid one.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// ── Risk Assessment ─────────────────────────────────────────

// RiskAssessment is the classifier's judgement of a single tool call.
// Assessments are computed fresh per call and never cached, since
// parameter values affect the outcome.
type RiskAssessment struct {
	Level                RiskLevel `json:"level"`
	Reasons              []string  `json:"reasons,omitempty"`
	RequiresConfirmation bool      `json:"requires_confirmation"`
	Mitigations          []string  `json:"mitigations,omitempty"`
}

// ── Confirmation ────────────────────────────────────────────

// ConfirmationStatus is the lifecycle state of a confirmation request.
// A request transitions exactly once from pending to a terminal status.
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationDenied    ConfirmationStatus = "denied"
	ConfirmationExpired   ConfirmationStatus = "expired"
)

// ConfirmationRequest pauses a high-risk tool call pending an external
// yes/no decision.
type ConfirmationRequest struct {
	ID          string             `json:"id"`
	PlanID      string             `json:"plan_id"`
	Call        ToolCall           `json:"call"`
	Assessment  RiskAssessment     `json:"assessment"`
	Message     string             `json:"message"`
	CreatedAt   time.Time          `json:"created_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
	Status      ConfirmationStatus `json:"status"`
	Reason      string             `json:"reason,omitempty"`
	RespondedAt time.Time          `json:"responded_at,omitempty"`
}

// ── Audit ───────────────────────────────────────────────────

// AuditEventType is the closed set of events the audit logger records.
type AuditEventType string

const (
	AuditToolInvocation        AuditEventType = "tool_invocation"
	AuditToolCompletion        AuditEventType = "tool_completion"
	AuditToolFailure           AuditEventType = "tool_failure"
	AuditPlanCreated           AuditEventType = "plan_created"
	AuditPlanExecuted          AuditEventType = "plan_executed"
	AuditConfirmationRequested AuditEventType = "confirmation_requested"
	AuditConfirmationGranted   AuditEventType = "confirmation_granted"
	AuditConfirmationDenied    AuditEventType = "confirmation_denied"
	AuditSecurityWarning       AuditEventType = "security_warning"
	AuditSecurityBlock         AuditEventType = "security_block"
	AuditAuthSuccess           AuditEventType = "auth_success"
	AuditAuthFailure           AuditEventType = "auth_failure"
)

// AuditEntry is one immutable record in the append-only audit log.
// Details are redacted before the entry is stored.
type AuditEntry struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  AuditEventType    `json:"event_type"`
	UserID     string            `json:"user_id"`
	RequestID  string            `json:"request_id,omitempty"`
	PlanID     string            `json:"plan_id,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ServiceID  string            `json:"service_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
	RiskLevel  RiskLevel         `json:"risk_level,omitempty"`
	Success    *bool             `json:"success,omitempty"`
	Details    map[string]any    `json:"details,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ── Auth & Rate Limiting ────────────────────────────────────

// Scope names with special meaning to the policy enforcer.
const (
	ScopeAdmin    = "admin"
	ScopeWildcard = "*"
)

// AuthContext is the authenticated identity attached to a request.
type AuthContext struct {
	UserID           string   `json:"user_id"`
	Scopes           []string `json:"scopes"`
	RequestID        string   `json:"request_id,omitempty"`
	UTCOffsetMinutes int      `json:"utc_offset_minutes,omitempty"`
}

// HasScope reports whether the context carries the named scope.
func (a *AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the context carries an admin or wildcard scope,
// which bypasses per-service and per-action scope checks.
func (a *AuthContext) IsAdmin() bool {
	return a.HasScope(ScopeAdmin) || a.HasScope(ScopeWildcard)
}

// RateLimitResult is the outcome of a fixed-window rate limit check.
type RateLimitResult struct {
	Allowed           bool      `json:"allowed"`
	Remaining         int       `json:"remaining"`
	ResetAt           time.Time `json:"reset_at"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
}

// ── Execution Results ───────────────────────────────────────

// CallResult is the outcome of executing one tool call in a plan.
type CallResult struct {
	CallID     string    `json:"call_id"`
	ServiceID  string    `json:"service_id"`
	ToolName   string    `json:"tool_name"`
	Success    bool      `json:"success"`
	Skipped    bool      `json:"skipped,omitempty"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	RiskLevel  RiskLevel `json:"risk_level,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// PlanExecution is the aggregate outcome of executing a plan.
type PlanExecution struct {
	PlanID     string       `json:"plan_id"`
	Results    []CallResult `json:"results"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}
