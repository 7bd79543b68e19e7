// Package handlers implements the HTTP handlers for the orchestration
// core: chat, service registry management, confirmations, and the audit
// log. Handlers are thin — they decode, delegate to a component, and map
// component errors onto HTTP status codes.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/api/middleware"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/audit"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/confirm"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/orchestrator"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/policy"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/registry"
	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     *registry.Registry
	Gate         *confirm.Gate
	Auditor      *audit.Logger
	Limiter      *policy.RateLimiter
}

// New creates a new Handlers instance with all dependencies.
func New(o *orchestrator.Orchestrator, reg *registry.Registry, gate *confirm.Gate, auditor *audit.Logger, limiter *policy.RateLimiter) *Handlers {
	return &Handlers{
		Orchestrator: o,
		Registry:     reg,
		Gate:         gate,
		Auditor:      auditor,
		Limiter:      limiter,
	}
}

// ══════════════════════════════════════════════════════════════
// ── Chat ─────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type chatRequest struct {
	Message string `json:"message"`
}

func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	auth, ok := middleware.GetAuth(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	result, err := h.Orchestrator.HandleMessage(r.Context(), auth, req.Message)
	if err != nil {
		respondComponentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════
// ── Service Registry ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListServices(w http.ResponseWriter, r *http.Request) {
	services := h.Registry.List()
	if services == nil {
		services = []*models.ServiceEntry{}
	}
	respondJSON(w, http.StatusOK, services)
}

func (h *Handlers) RegisterService(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.GetAuth(r.Context())
	if !ok || !auth.IsAdmin() {
		respondError(w, http.StatusForbidden, "admin scope required")
		return
	}

	var req models.ServiceEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.RegisteredAt = time.Now().UTC()
	if err := h.Registry.Register(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().Str("service", req.ID).Str("url", req.BaseURL).Msg("Service registered")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetService(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")
	entry, ok := h.Registry.Get(serviceID)
	if !ok {
		respondError(w, http.StatusNotFound, "service not found: "+serviceID)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) UnregisterService(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.GetAuth(r.Context())
	if !ok || !auth.IsAdmin() {
		respondError(w, http.StatusForbidden, "admin scope required")
		return
	}

	serviceID := chi.URLParam(r, "serviceId")
	if !h.Registry.Unregister(serviceID) {
		respondError(w, http.StatusNotFound, "service not found: "+serviceID)
		return
	}
	log.Info().Str("service", serviceID).Msg("Service unregistered")
	w.WriteHeader(http.StatusNoContent)
}

type enableRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handlers) SetServiceEnabled(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.GetAuth(r.Context())
	if !ok || !auth.IsAdmin() {
		respondError(w, http.StatusForbidden, "admin scope required")
		return
	}

	serviceID := chi.URLParam(r, "serviceId")
	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !h.Registry.SetEnabled(serviceID, req.Enabled) {
		respondError(w, http.StatusNotFound, "service not found: "+serviceID)
		return
	}
	entry, _ := h.Registry.Get(serviceID)
	respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) ServiceTools(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")
	if _, ok := h.Registry.Get(serviceID); !ok {
		respondError(w, http.StatusNotFound, "service not found: "+serviceID)
		return
	}

	manifest, err := h.Registry.FetchTools(r.Context(), serviceID)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, manifest)
}

func (h *Handlers) ServiceHealth(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")
	if _, ok := h.Registry.Get(serviceID); !ok {
		respondError(w, http.StatusNotFound, "service not found: "+serviceID)
		return
	}

	status, err := h.Registry.CheckHealth(r.Context(), serviceID)
	if err != nil {
		// The probe failed but the status record still reflects it.
		respondJSON(w, http.StatusOK, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handlers) AllServiceHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Registry.CheckAllHealth(r.Context()))
}

func (h *Handlers) RefreshManifests(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.GetAuth(r.Context())
	if !ok || !auth.IsAdmin() {
		respondError(w, http.StatusForbidden, "admin scope required")
		return
	}

	failures := h.Registry.RefreshAllManifests(r.Context())
	out := make(map[string]string, len(failures))
	for id, err := range failures {
		out[id] = err.Error()
	}
	respondJSON(w, http.StatusOK, map[string]any{"failures": out})
}

// ══════════════════════════════════════════════════════════════
// ── Confirmations ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) PendingConfirmations(w http.ResponseWriter, r *http.Request) {
	pending := h.Gate.Pending()
	if pending == nil {
		pending = []*models.ConfirmationRequest{}
	}
	respondJSON(w, http.StatusOK, pending)
}

func (h *Handlers) GetConfirmation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "confirmationId")
	req, ok := h.Gate.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "confirmation not found: "+id)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

type respondRequest struct {
	Confirmed bool   `json:"confirmed"`
	Reason    string `json:"reason"`
}

func (h *Handlers) RespondConfirmation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "confirmationId")
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.Gate.Respond(id, req.Confirmed, req.Reason); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	resolved, _ := h.Gate.Get(id)
	respondJSON(w, http.StatusOK, resolved)
}

// ══════════════════════════════════════════════════════════════
// ── Audit ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) QueryAudit(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.GetAuth(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	if err := h.Limiter.CheckErr(auth.UserID, policy.OpInbox); err != nil {
		respondComponentError(w, err)
		return
	}

	f := auditFilterFromQuery(r)
	// Non-admin callers only see their own trail.
	if !auth.IsAdmin() {
		f.UserID = auth.UserID
	}

	entries := h.Auditor.Query(f)
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handlers) AuditStats(w http.ResponseWriter, r *http.Request) {
	auth, ok := middleware.GetAuth(r.Context())
	if !ok || !auth.IsAdmin() {
		respondError(w, http.StatusForbidden, "admin scope required")
		return
	}
	respondJSON(w, http.StatusOK, h.Auditor.GetStats())
}

func auditFilterFromQuery(r *http.Request) audit.Filter {
	q := r.URL.Query()
	f := audit.Filter{
		UserID:    q.Get("user_id"),
		ServiceID: q.Get("service_id"),
		RiskLevel: models.RiskLevel(q.Get("risk_level")),
	}
	for _, et := range q["event_type"] {
		f.EventTypes = append(f.EventTypes, models.AuditEventType(et))
	}
	if v := q.Get("success"); v != "" {
		b := v == "true"
		f.Success = &b
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Since = t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.Until = t
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	return f
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// respondComponentError maps typed component errors onto HTTP statuses:
// rate limits become 429 with a Retry-After header, authorization
// failures become 403, anything else 500.
func respondComponentError(w http.ResponseWriter, err error) {
	var rle *policy.RateLimitError
	if errors.As(err, &rle) {
		w.Header().Set("Retry-After", strconv.Itoa(rle.RetryAfterSeconds))
		respondError(w, http.StatusTooManyRequests, rle.Error())
		return
	}
	var authErr *policy.AuthorizationError
	if errors.As(err, &authErr) {
		respondError(w, http.StatusForbidden, authErr.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
