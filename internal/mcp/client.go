// Package mcp implements the tool-invocation transport: a JSON-RPC-style
// protocol over HTTP POST used to discover and call remote tool-provider
// services.
//
// The client side handles:
//   - capability-negotiation handshake (initialize / initialized)
//   - tools/resources/prompts listing with a TTL cache
//   - uncached tools/call invocation
//   - retry with exponential backoff for transient failures
//   - circuit breaking and outbound request smoothing
//   - typed error classification (transport vs. protocol)
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	"github.com/avast/retry-go/v5"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Client defaults.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultRetryCount     = 3
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultCacheTTL       = 10 * time.Minute

	protocolVersion = "2025-03-26"
	clientName      = "yukie-orchestrator"
	clientVersion   = "0.4.0"
)

// ClientConfig configures a transport client for one provider.
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	RetryCount     int
	RetryDelay     time.Duration
	CacheTTL       time.Duration
}

func (c *ClientConfig) withDefaults() ClientConfig {
	out := *c
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = DefaultRequestTimeout
	}
	if out.RetryCount <= 0 {
		out.RetryCount = DefaultRetryCount
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = DefaultRetryDelay
	}
	if out.CacheTTL <= 0 {
		out.CacheTTL = DefaultCacheTTL
	}
	return out
}

// cached is a timestamped cache slot for one listing.
type cached[T any] struct {
	value     T
	fetchedAt time.Time
}

func (c *cached[T]) fresh(ttl time.Duration, now time.Time) bool {
	return c != nil && now.Sub(c.fetchedAt) < ttl
}

// Client speaks the MCP protocol to a single remote tool provider.
// Safe for concurrent use.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	now     func() time.Time
	nextID  atomic.Int64

	mu        sync.Mutex
	state     models.ConnectionState
	tools     *cached[[]models.ToolSchema]
	resources *cached[[]models.Resource]
	prompts   *cached[[]models.Prompt]
}

// NewClient creates a transport client for the provider at cfg.BaseURL.
func NewClient(cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mcp:" + cfg.BaseURL,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker: cb,
		limiter: rate.NewLimiter(rate.Limit(100), 20),
		now:     time.Now,
	}
}

// State returns the current connection state.
func (c *Client) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect performs the capability-negotiation handshake and, on success,
// pre-fetches the tool list. The resulting connection state is retained
// and also returned.
func (c *Client) Connect(ctx context.Context, auth *models.AuthContext) (models.ConnectionState, error) {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      models.ServerInfo{Name: clientName, Version: clientVersion},
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
	}

	var result struct {
		ProtocolVersion string                    `json:"protocolVersion"`
		ServerInfo      models.ServerInfo         `json:"serverInfo"`
		Capabilities    models.ServerCapabilities `json:"capabilities"`
	}
	if err := c.call(ctx, auth, models.MethodInitialize, params, &result); err != nil {
		state := models.ConnectionState{Error: err.Error()}
		c.mu.Lock()
		c.state = state
		c.mu.Unlock()
		return state, err
	}

	// The initialized notification is fire-and-forget; a provider that
	// ignores it is still usable.
	if err := c.notify(ctx, auth, models.MethodInitialized); err != nil {
		log.Debug().Str("base_url", c.cfg.BaseURL).Err(err).Msg("initialized notification failed")
	}

	state := models.ConnectionState{
		Connected:    true,
		Initialized:  true,
		ServerInfo:   &result.ServerInfo,
		Capabilities: result.Capabilities,
	}
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	if _, err := c.ListTools(ctx, auth); err != nil {
		log.Debug().Str("base_url", c.cfg.BaseURL).Err(err).Msg("tool prefetch failed")
	}
	return state, nil
}

// Ping checks provider liveness.
func (c *Client) Ping(ctx context.Context) error {
	var out map[string]any
	return c.call(ctx, nil, models.MethodPing, map[string]any{}, &out)
}

// ListTools returns the provider's tool schemas, served from cache when
// fetched within the TTL window.
func (c *Client) ListTools(ctx context.Context, auth *models.AuthContext) ([]models.ToolSchema, error) {
	c.mu.Lock()
	if c.tools.fresh(c.cfg.CacheTTL, c.now()) {
		out := c.tools.value
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	var result struct {
		Tools []models.ToolSchema `json:"tools"`
	}
	if err := c.call(ctx, auth, models.MethodToolsList, map[string]any{}, &result); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.tools = &cached[[]models.ToolSchema]{value: result.Tools, fetchedAt: c.now()}
	c.mu.Unlock()
	return result.Tools, nil
}

// ListResources returns the provider's resources, cached within the TTL.
func (c *Client) ListResources(ctx context.Context, auth *models.AuthContext) ([]models.Resource, error) {
	c.mu.Lock()
	if c.resources.fresh(c.cfg.CacheTTL, c.now()) {
		out := c.resources.value
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	var result struct {
		Resources []models.Resource `json:"resources"`
	}
	if err := c.call(ctx, auth, models.MethodResourcesList, map[string]any{}, &result); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.resources = &cached[[]models.Resource]{value: result.Resources, fetchedAt: c.now()}
	c.mu.Unlock()
	return result.Resources, nil
}

// ListPrompts returns the provider's prompts, cached within the TTL.
func (c *Client) ListPrompts(ctx context.Context, auth *models.AuthContext) ([]models.Prompt, error) {
	c.mu.Lock()
	if c.prompts.fresh(c.cfg.CacheTTL, c.now()) {
		out := c.prompts.value
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	var result struct {
		Prompts []models.Prompt `json:"prompts"`
	}
	if err := c.call(ctx, auth, models.MethodPromptsList, map[string]any{}, &result); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.prompts = &cached[[]models.Prompt]{value: result.Prompts, fetchedAt: c.now()}
	c.mu.Unlock()
	return result.Prompts, nil
}

// InvalidateCache drops all cached listings, forcing a refetch on next access.
func (c *Client) InvalidateCache() {
	c.mu.Lock()
	c.tools, c.resources, c.prompts = nil, nil, nil
	c.mu.Unlock()
}

// CallTool invokes a tool on the provider. Invocations are never cached.
func (c *Client) CallTool(ctx context.Context, auth *models.AuthContext, name string, args map[string]any) (json.RawMessage, error) {
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}
	var result json.RawMessage
	if err := c.call(ctx, auth, models.MethodToolsCall, params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ReadResource reads one resource by URI.
func (c *Client) ReadResource(ctx context.Context, auth *models.AuthContext, uri string) (json.RawMessage, error) {
	var result json.RawMessage
	if err := c.call(ctx, auth, models.MethodResourcesRead, map[string]any{"uri": uri}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// call sends one request through the limiter, circuit breaker, and retry
// loop. Transient failures are retried with exponential backoff; protocol
// errors are surfaced immediately.
func (c *Client) call(ctx context.Context, auth *models.AuthContext, method string, params any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transportErr(err)
	}

	raw, err := c.breaker.Execute(func() (any, error) {
		var payload json.RawMessage
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(uint(c.cfg.RetryCount)+1),
			retry.Delay(c.cfg.RetryDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.RetryIf(IsRetryable),
		)
		retryErr := r.Do(func() error {
			var sendErr error
			payload, sendErr = c.send(ctx, auth, method, params)
			return sendErr
		})
		return payload, retryErr
	})
	if err != nil {
		// Breaker rejections never reached the wire; classify them so
		// callers see the same diagnosable shape as other failures.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &TransportError{Category: "unavailable", Err: err}
		}
		return err
	}

	if out == nil {
		return nil
	}
	payload := raw.(json.RawMessage)
	if err := json.Unmarshal(payload, out); err != nil {
		return &TransportError{Category: "bad request", Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

// send performs a single request/response exchange with the per-request
// timeout enforced via context cancellation.
func (c *Client) send(ctx context.Context, auth *models.AuthContext, method string, params any) (json.RawMessage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, &TransportError{Category: "bad request", Err: err}
		}
		rawParams = b
	}

	envelope := models.MCPRequest{
		Version: models.MCPVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  rawParams,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, &TransportError{Category: "bad request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Category: "bad request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setContextHeaders(httpReq, auth)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, transportErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportErr(err)
	}

	var respEnv models.MCPResponse
	decodeErr := json.Unmarshal(respBody, &respEnv)

	// A parsed error envelope is authoritative regardless of HTTP status.
	if decodeErr == nil && respEnv.Error != nil {
		return nil, &ProtocolError{
			Code:    respEnv.Error.Code,
			Message: respEnv.Error.Message,
			Data:    respEnv.Error.Data,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Category:   httpCategory(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("http %d from %s", resp.StatusCode, c.cfg.BaseURL),
		}
	}
	if decodeErr != nil {
		return nil, &TransportError{Category: "bad request", Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	return respEnv.Result, nil
}

// notify sends a notification (no id, no response expected).
func (c *Client) notify(ctx context.Context, auth *models.AuthContext, method string) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	body, err := json.Marshal(models.MCPRequest{Version: models.MCPVersion, Method: method})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setContextHeaders(httpReq, auth)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return transportErr(err)
	}
	resp.Body.Close()
	return nil
}

// setContextHeaders propagates the caller's identity to the provider.
func setContextHeaders(req *http.Request, auth *models.AuthContext) {
	if auth == nil {
		return
	}
	req.Header.Set(models.HeaderUserID, auth.UserID)
	req.Header.Set(models.HeaderScopes, strings.Join(auth.Scopes, ","))
	if auth.RequestID != "" {
		req.Header.Set(models.HeaderRequestID, auth.RequestID)
	}
	req.Header.Set(models.HeaderUTCOffset, strconv.Itoa(auth.UTCOffsetMinutes))
}
