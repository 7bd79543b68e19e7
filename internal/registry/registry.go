// Package registry is the authoritative directory of tool-provider
// services. It maintains three inverted indexes (keyword, tag, capability)
// for cheap candidate retrieval before any completion call, caches fetched
// tool manifests with a TTL, and tracks provider health.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/mcp"
	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// Defaults.
const (
	DefaultManifestTTL   = 10 * time.Minute
	DefaultMaxCandidates = 5
	DefaultHealthTimeout = 5 * time.Second
)

// ProviderClient is the transport surface the registry needs from a
// provider connection. *mcp.Client satisfies it.
type ProviderClient interface {
	ListTools(ctx context.Context, auth *models.AuthContext) ([]models.ToolSchema, error)
	CallTool(ctx context.Context, auth *models.AuthContext, name string, args map[string]any) ([]byte, error)
	Ping(ctx context.Context) error
}

// Dialer creates a transport client for a provider base URL. Injected so
// tests can substitute fakes.
type Dialer func(baseURL string) ProviderClient

// Config configures a Registry.
type Config struct {
	ManifestTTL          time.Duration
	MaxRoutingCandidates int
	HealthTimeout        time.Duration
	Dialer               Dialer
}

// Query is a candidate retrieval request against the indexes.
type Query struct {
	Keywords     []string
	Tags         []string
	Capabilities []string
	EnabledOnly  bool
	HealthyOnly  bool
	MaxRiskLevel models.RiskLevel // empty = no risk filter
	Limit        int              // 0 = registry's MaxRoutingCandidates
}

// Match is one scored query result.
type Match struct {
	Service *models.ServiceEntry
	Score   int
}

// Registry holds the known services and their derived state. All state is
// in-process and guarded by a single RWMutex; manifests and health fetches
// release the lock around network calls.
type Registry struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time

	mu        sync.RWMutex
	services  map[string]*models.ServiceEntry
	clients   map[string]ProviderClient
	manifests map[string]*models.ToolManifest
	health    map[string]*models.HealthStatus
	keywords  index
	tags      index
	caps      index
}

// New creates a registry.
func New(cfg Config) *Registry {
	if cfg.ManifestTTL <= 0 {
		cfg.ManifestTTL = DefaultManifestTTL
	}
	if cfg.MaxRoutingCandidates <= 0 {
		cfg.MaxRoutingCandidates = DefaultMaxCandidates
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = func(baseURL string) ProviderClient {
			return &clientAdapter{c: mcp.NewClient(mcp.ClientConfig{BaseURL: baseURL})}
		}
	}
	return &Registry{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HealthTimeout},
		now:        time.Now,
		services:   make(map[string]*models.ServiceEntry),
		clients:    make(map[string]ProviderClient),
		manifests:  make(map[string]*models.ToolManifest),
		health:     make(map[string]*models.HealthStatus),
		keywords:   make(index),
		tags:       make(index),
		caps:       make(index),
	}
}

// clientAdapter narrows *mcp.Client's CallTool result to []byte.
type clientAdapter struct {
	c *mcp.Client
}

func (a *clientAdapter) ListTools(ctx context.Context, auth *models.AuthContext) ([]models.ToolSchema, error) {
	return a.c.ListTools(ctx, auth)
}

func (a *clientAdapter) CallTool(ctx context.Context, auth *models.AuthContext, name string, args map[string]any) ([]byte, error) {
	return a.c.CallTool(ctx, auth, name, args)
}

func (a *clientAdapter) Ping(ctx context.Context) error {
	return a.c.Ping(ctx)
}

// ── Registration ────────────────────────────────────────────

// Register adds a service and builds its index entries. Registering an id
// twice replaces the earlier entry.
func (r *Registry) Register(entry *models.ServiceEntry) error {
	if entry.ID == "" || entry.BaseURL == "" {
		return fmt.Errorf("service id and base_url are required")
	}
	if entry.RiskLevel == "" {
		entry.RiskLevel = models.RiskLow
	}
	if entry.RegisteredAt.IsZero() {
		entry.RegisteredAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[entry.ID]; exists {
		r.removeFromIndexesLocked(entry.ID)
	}
	// The registry owns its copy; the caller's struct is never mutated by
	// later SetEnabled calls, and vice versa.
	cp := *entry
	r.services[entry.ID] = &cp
	r.clients[entry.ID] = r.cfg.Dialer(entry.BaseURL)
	r.indexLocked(&cp)

	log.Info().
		Str("service", entry.ID).
		Str("base_url", entry.BaseURL).
		Int("capabilities", len(entry.Capabilities)).
		Msg("service registered")
	return nil
}

// Unregister removes a service and every trace of it: indexes, cached
// manifest, health record, client.
func (r *Registry) Unregister(serviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[serviceID]; !ok {
		return false
	}
	delete(r.services, serviceID)
	delete(r.clients, serviceID)
	delete(r.manifests, serviceID)
	delete(r.health, serviceID)
	r.removeFromIndexesLocked(serviceID)
	log.Info().Str("service", serviceID).Msg("service unregistered")
	return true
}

// Get returns a snapshot of a service entry by id. Snapshots are safe to
// hold and encode while SetEnabled lands concurrently.
func (r *Registry) Get(serviceID string) (*models.ServiceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.services[serviceID]
	if !ok {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

// List returns snapshots of all registered services.
func (r *Registry) List() []*models.ServiceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.ServiceEntry, 0, len(r.services))
	for _, entry := range r.services {
		cp := *entry
		out = append(out, &cp)
	}
	return out
}

// SetEnabled toggles a service's enabled flag.
func (r *Registry) SetEnabled(serviceID string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.services[serviceID]
	if !ok {
		return false
	}
	entry.Enabled = enabled
	return true
}

// Client returns the transport client for a service.
func (r *Registry) Client(serviceID string) (ProviderClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[serviceID]
	return c, ok
}

// Health returns the last recorded health status for a service.
func (r *Registry) Health(serviceID string) (*models.HealthStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[serviceID]
	return h, ok
}

func (r *Registry) indexLocked(entry *models.ServiceEntry) {
	for _, kw := range entry.Keywords {
		r.keywords.add(normalizeToken(kw), entry.ID)
	}
	for _, tag := range entry.Tags {
		r.tags.add(normalizeToken(tag), entry.ID)
	}
	for _, cap := range entry.Capabilities {
		phrase := normalizePhrase(cap)
		r.caps.add(phrase, entry.ID)
		// Individual words so partial phrase overlap is retrievable.
		for _, word := range strings.Fields(phrase) {
			if len(word) >= minTokenLen {
				r.caps.add(word, entry.ID)
			}
		}
	}
}

func (r *Registry) removeFromIndexesLocked(serviceID string) {
	r.keywords.removeService(serviceID)
	r.tags.removeService(serviceID)
	r.caps.removeService(serviceID)
}

// ── Candidate retrieval ─────────────────────────────────────

// FindCandidates scores services against the query, filters, and caps the
// result at the query limit (default MaxRoutingCandidates).
func (r *Registry) FindCandidates(q Query) []Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sb := make(scoreboard)

	for _, cap := range q.Capabilities {
		if ids, ok := r.caps[normalizePhrase(cap)]; ok {
			sb.credit(ids, scoreCapabilityExact)
		}
	}
	for _, tag := range q.Tags {
		if ids, ok := r.tags[normalizeToken(tag)]; ok {
			sb.credit(ids, scoreTagExact)
		}
	}
	for _, kw := range q.Keywords {
		token := normalizeToken(kw)
		if token == "" {
			continue
		}
		if ids, ok := r.keywords[token]; ok {
			sb.credit(ids, scoreKeywordExact)
			continue
		}
		if len(token) < minTokenLen {
			continue
		}
		// Partial substring overlap in either direction.
		for indexed, ids := range r.keywords {
			if strings.Contains(indexed, token) || strings.Contains(token, indexed) {
				sb.credit(ids, scoreKeywordPartial)
			}
		}
	}

	limit := q.Limit
	if limit <= 0 {
		limit = r.cfg.MaxRoutingCandidates
	}

	matches := make([]Match, 0, len(sb))
	for _, id := range sb.ranked() {
		entry, ok := r.services[id]
		if !ok {
			continue
		}
		if q.EnabledOnly && !entry.Enabled {
			continue
		}
		if q.HealthyOnly {
			h, ok := r.health[id]
			if !ok || !h.OK {
				continue
			}
		}
		if q.MaxRiskLevel != "" && !q.MaxRiskLevel.AtLeast(entry.RiskLevel) {
			continue
		}
		cp := *entry
		matches = append(matches, Match{Service: &cp, Score: sb[id]})
		if len(matches) >= limit {
			break
		}
	}
	return matches
}

// FindByUserMessage tokenizes a raw user message and retrieves candidates
// by keyword overlap. This is the default entry point used before any
// completion call.
func (r *Registry) FindByUserMessage(message string) []Match {
	return r.FindCandidates(Query{
		Keywords:    tokenize(message),
		EnabledOnly: true,
	})
}

// ── Manifests ───────────────────────────────────────────────

// FetchTools returns the service's tool manifest, served from cache while
// unexpired. An expired manifest is never served; it is refetched.
func (r *Registry) FetchTools(ctx context.Context, serviceID string) (*models.ToolManifest, error) {
	r.mu.RLock()
	manifest, haveCached := r.manifests[serviceID]
	client, haveClient := r.clients[serviceID]
	r.mu.RUnlock()

	if haveCached && !manifest.Expired(r.now()) {
		return manifest, nil
	}
	if !haveClient {
		return nil, fmt.Errorf("unknown service %q", serviceID)
	}

	tools, err := client.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest for %s: %w", serviceID, err)
	}

	now := r.now()
	manifest = &models.ToolManifest{
		ServiceID: serviceID,
		Tools:     tools,
		FetchedAt: now,
		ExpiresAt: now.Add(r.cfg.ManifestTTL),
	}
	r.mu.Lock()
	r.manifests[serviceID] = manifest
	r.mu.Unlock()
	return manifest, nil
}

// InvalidateManifest drops the cached manifest, forcing a refetch on next
// access.
func (r *Registry) InvalidateManifest(serviceID string) {
	r.mu.Lock()
	delete(r.manifests, serviceID)
	r.mu.Unlock()
}

// RefreshAllManifests refetches manifests for all enabled services
// concurrently. Per-service failures are collected, not fatal.
func (r *Registry) RefreshAllManifests(ctx context.Context) map[string]error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.services))
	for id, entry := range r.services {
		if entry.Enabled {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	var (
		wg     sync.WaitGroup
		errsMu sync.Mutex
		errs   = make(map[string]error)
	)
	for _, id := range ids {
		wg.Add(1)
		go func(serviceID string) {
			defer wg.Done()
			r.InvalidateManifest(serviceID)
			if _, err := r.FetchTools(ctx, serviceID); err != nil {
				errsMu.Lock()
				errs[serviceID] = err
				errsMu.Unlock()
				log.Warn().Str("service", serviceID).Err(err).Msg("manifest refresh failed")
			}
		}(id)
	}
	wg.Wait()
	return errs
}

// ── Health ──────────────────────────────────────────────────

// CheckHealth probes one service within the health timeout: a protocol
// ping first, falling back to the provider's /health endpoint. The result
// is recorded and returned.
func (r *Registry) CheckHealth(ctx context.Context, serviceID string) (*models.HealthStatus, error) {
	r.mu.RLock()
	entry, ok := r.services[serviceID]
	client := r.clients[serviceID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown service %q", serviceID)
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.HealthTimeout)
	defer cancel()

	start := time.Now()
	err := client.Ping(probeCtx)
	if err != nil {
		err = r.probeHealthEndpoint(probeCtx, entry.BaseURL)
	}

	status := &models.HealthStatus{
		OK:             err == nil,
		LastCheck:      time.Now().UTC(),
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		status.Error = err.Error()
	}

	r.mu.Lock()
	r.health[serviceID] = status
	r.mu.Unlock()
	return status, nil
}

// CheckAllHealth probes every registered service concurrently.
func (r *Registry) CheckAllHealth(ctx context.Context) map[string]*models.HealthStatus {
	r.mu.RLock()
	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var (
		wg    sync.WaitGroup
		outMu sync.Mutex
		out   = make(map[string]*models.HealthStatus, len(ids))
	)
	for _, id := range ids {
		wg.Add(1)
		go func(serviceID string) {
			defer wg.Done()
			status, err := r.CheckHealth(ctx, serviceID)
			if err != nil {
				status = &models.HealthStatus{OK: false, LastCheck: time.Now().UTC(), Error: err.Error()}
			}
			outMu.Lock()
			out[serviceID] = status
			outMu.Unlock()
		}(id)
	}
	wg.Wait()
	return out
}

func (r *Registry) probeHealthEndpoint(ctx context.Context, baseURL string) error {
	url := strings.TrimSuffix(baseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned http %d", resp.StatusCode)
	}
	return nil
}
