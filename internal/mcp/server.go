package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// ToolProvider is the backend a Server dispatches protocol requests to.
// Not-found conditions are signalled with the sentinel errors below so the
// server can map them to the correct domain error codes.
type ToolProvider interface {
	ListTools(ctx context.Context) ([]models.ToolSchema, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
	ListResources(ctx context.Context) ([]models.Resource, error)
	ReadResource(ctx context.Context, uri string) (any, error)
	ListPrompts(ctx context.Context) ([]models.Prompt, error)
	GetPrompt(ctx context.Context, name string, args map[string]any) (any, error)
}

// Sentinel errors a ToolProvider returns for unknown names.
var (
	ErrToolNotFound     = &ProtocolError{Code: models.CodeToolNotFound, Message: "tool not found"}
	ErrResourceNotFound = &ProtocolError{Code: models.CodeResourceNotFound, Message: "resource not found"}
	ErrPromptNotFound   = &ProtocolError{Code: models.CodePromptNotFound, Message: "prompt not found"}
)

// Server exposes a ToolProvider over the MCP wire protocol.
type Server struct {
	provider ToolProvider
	name     string
	version  string
}

// NewServer creates a protocol server for the given provider.
func NewServer(provider ToolProvider, name, version string) *Server {
	return &Server{provider: provider, name: name, version: version}
}

// HandleRequest dispatches one protocol request. It returns nil for
// notifications, which receive no response.
func (s *Server) HandleRequest(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	switch req.Method {

	// ── Handshake & liveness ─────────────────────────
	case models.MethodInitialize:
		return s.handleInitialize(req)

	case models.MethodInitialized, "notifications/initialized":
		log.Debug().Msg("mcp client initialized")
		return nil

	case models.MethodPing:
		return resultResponse(req.ID, map[string]string{"status": "pong"})

	// ── Discovery ────────────────────────────────────
	case models.MethodToolsList:
		tools, err := s.provider.ListTools(ctx)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return resultResponse(req.ID, map[string]any{"tools": tools})

	case models.MethodResourcesList:
		resources, err := s.provider.ListResources(ctx)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return resultResponse(req.ID, map[string]any{"resources": resources})

	case models.MethodPromptsList:
		prompts, err := s.provider.ListPrompts(ctx)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return resultResponse(req.ID, map[string]any{"prompts": prompts})

	// ── Invocation ───────────────────────────────────
	case models.MethodToolsCall:
		return s.handleToolsCall(ctx, req)

	case models.MethodResourcesRead:
		return s.handleResourcesRead(ctx, req)

	case models.MethodPromptsGet:
		return s.handlePromptsGet(ctx, req)

	default:
		return &models.MCPResponse{
			Version: models.MCPVersion,
			ID:      req.ID,
			Error: &models.MCPError{
				Code:    models.CodeMethodNotFound,
				Message: "method not found",
				Data:    fmt.Sprintf("method %q is not supported", req.Method),
			},
		}
	}
}

func (s *Server) handleInitialize(req *models.MCPRequest) *models.MCPResponse {
	return resultResponse(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": models.ServerCapabilities{
			Tools:     true,
			Resources: true,
			Prompts:   true,
		},
		"serverInfo": models.ServerInfo{Name: s.name, Version: s.version},
	})
}

func (s *Server) handleToolsCall(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return invalidParams(req.ID, "tools/call requires a name and arguments object")
	}
	result, err := s.provider.CallTool(ctx, params.Name, params.Arguments)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return resultResponse(req.ID, result)
}

func (s *Server) handleResourcesRead(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return invalidParams(req.ID, "resources/read requires a uri")
	}
	result, err := s.provider.ReadResource(ctx, params.URI)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return resultResponse(req.ID, result)
}

func (s *Server) handlePromptsGet(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return invalidParams(req.ID, "prompts/get requires a name")
	}
	result, err := s.provider.GetPrompt(ctx, params.Name, params.Arguments)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return resultResponse(req.ID, result)
}

// ServeHTTP accepts protocol envelopes over HTTP POST. Context headers
// carrying the caller's identity are parsed into the request context.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.MCPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, &models.MCPResponse{
			Version: models.MCPVersion,
			Error:   &models.MCPError{Code: models.CodeParseError, Message: "parse error", Data: err.Error()},
		})
		return
	}
	if req.Method == "" {
		writeResponse(w, &models.MCPResponse{
			Version: models.MCPVersion,
			ID:      req.ID,
			Error:   &models.MCPError{Code: models.CodeInvalidRequest, Message: "invalid request", Data: "missing method"},
		})
		return
	}

	ctx := ContextWithAuth(r.Context(), authFromHeaders(r))
	resp := s.HandleRequest(ctx, &req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp *models.MCPResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode mcp response")
	}
}

func resultResponse(id any, result any) *models.MCPResponse {
	raw, err := json.Marshal(result)
	if err != nil {
		return &models.MCPResponse{
			Version: models.MCPVersion,
			ID:      id,
			Error:   &models.MCPError{Code: models.CodeInternalError, Message: "internal error", Data: err.Error()},
		}
	}
	return &models.MCPResponse{Version: models.MCPVersion, ID: id, Result: raw}
}

func invalidParams(id any, detail string) *models.MCPResponse {
	return &models.MCPResponse{
		Version: models.MCPVersion,
		ID:      id,
		Error:   &models.MCPError{Code: models.CodeInvalidParams, Message: "invalid params", Data: detail},
	}
}

// errorResponse maps a provider error to a protocol error envelope.
// ProtocolError values pass through with their code; anything else is an
// internal error.
func errorResponse(id any, err error) *models.MCPResponse {
	if pe, ok := err.(*ProtocolError); ok {
		return &models.MCPResponse{
			Version: models.MCPVersion,
			ID:      id,
			Error:   &models.MCPError{Code: pe.Code, Message: pe.Message, Data: pe.Data},
		}
	}
	return &models.MCPResponse{
		Version: models.MCPVersion,
		ID:      id,
		Error:   &models.MCPError{Code: models.CodeInternalError, Message: "internal error", Data: err.Error()},
	}
}

// ── Context propagation ─────────────────────────────────────

type authContextKey struct{}

// ContextWithAuth attaches an auth context for downstream providers.
func ContextWithAuth(ctx context.Context, auth *models.AuthContext) context.Context {
	if auth == nil {
		return ctx
	}
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext retrieves the auth context attached by the server, if any.
func AuthFromContext(ctx context.Context) (*models.AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(*models.AuthContext)
	return auth, ok
}

func authFromHeaders(r *http.Request) *models.AuthContext {
	userID := r.Header.Get(models.HeaderUserID)
	if userID == "" {
		return nil
	}
	auth := &models.AuthContext{
		UserID:    userID,
		RequestID: r.Header.Get(models.HeaderRequestID),
	}
	if raw := r.Header.Get(models.HeaderScopes); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				auth.Scopes = append(auth.Scopes, s)
			}
		}
	}
	if raw := r.Header.Get(models.HeaderUTCOffset); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			auth.UTCOffsetMinutes = offset
		}
	}
	return auth
}
