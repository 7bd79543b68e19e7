// Package mcpgw exposes the orchestrator node itself as an MCP provider:
// remote clients can discover and invoke every tool of every enabled
// registered service through one endpoint, with scope policy applied.
//
// Tool names are namespaced "serviceId.toolName" so one listing can span
// providers without collisions.
package mcpgw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/mcp"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/policy"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/registry"
	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// Gateway implements mcp.ToolProvider over the service registry.
type Gateway struct {
	registry *registry.Registry
	enforcer *policy.Enforcer
}

// NewGateway creates the gateway provider.
func NewGateway(reg *registry.Registry, enforcer *policy.Enforcer) *Gateway {
	return &Gateway{registry: reg, enforcer: enforcer}
}

// ListTools aggregates the manifests of all enabled services, namespacing
// tool names by service id. Services whose manifest cannot be fetched are
// skipped, not fatal.
func (g *Gateway) ListTools(ctx context.Context) ([]models.ToolSchema, error) {
	var out []models.ToolSchema
	for _, entry := range g.registry.List() {
		if !entry.Enabled {
			continue
		}
		manifest, err := g.registry.FetchTools(ctx, entry.ID)
		if err != nil {
			log.Warn().Str("service", entry.ID).Err(err).Msg("manifest unavailable for gateway listing")
			continue
		}
		for _, tool := range manifest.Tools {
			namespaced := tool
			namespaced.Name = entry.ID + "." + tool.Name
			out = append(out, namespaced)
		}
	}
	return out, nil
}

// CallTool proxies an invocation to the owning service after a policy
// check against the caller's propagated identity.
func (g *Gateway) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	serviceID, toolName, ok := splitToolName(name)
	if !ok {
		return nil, mcp.ErrToolNotFound
	}

	manifest, err := g.registry.FetchTools(ctx, serviceID)
	if err != nil {
		return nil, mcp.ErrToolNotFound
	}
	schema, ok := manifest.Tool(toolName)
	if !ok {
		return nil, mcp.ErrToolNotFound
	}

	auth, ok := mcp.AuthFromContext(ctx)
	if !ok {
		return nil, &mcp.ProtocolError{Code: models.CodeInvalidRequest, Message: "missing caller identity"}
	}
	if err := g.enforcer.CanPerformAction(auth, serviceID, schema.RequiredScopes); err != nil {
		return nil, &mcp.ProtocolError{Code: models.CodeInvalidRequest, Message: err.Error()}
	}

	client, ok := g.registry.Client(serviceID)
	if !ok {
		return nil, mcp.ErrToolNotFound
	}
	raw, err := client.CallTool(ctx, auth, toolName, args)
	if err != nil {
		return nil, fmt.Errorf("proxy call to %s: %w", name, err)
	}
	return json.RawMessage(raw), nil
}

// ListResources: the gateway exposes no resources of its own.
func (g *Gateway) ListResources(ctx context.Context) ([]models.Resource, error) {
	return []models.Resource{}, nil
}

// ReadResource: no resources, so every URI is unknown.
func (g *Gateway) ReadResource(ctx context.Context, uri string) (any, error) {
	return nil, mcp.ErrResourceNotFound
}

// ListPrompts: the gateway exposes no prompts.
func (g *Gateway) ListPrompts(ctx context.Context) ([]models.Prompt, error) {
	return []models.Prompt{}, nil
}

// GetPrompt: no prompts, so every name is unknown.
func (g *Gateway) GetPrompt(ctx context.Context, name string, args map[string]any) (any, error) {
	return nil, mcp.ErrPromptNotFound
}

func splitToolName(name string) (serviceID, toolName string, ok bool) {
	idx := strings.Index(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}
