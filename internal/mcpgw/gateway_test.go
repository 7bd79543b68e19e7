package mcpgw_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/mcp"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/mcpgw"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/policy"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/registry"
	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
)

type fakeClient struct {
	tools    []models.ToolSchema
	lastTool string
}

func (f *fakeClient) ListTools(ctx context.Context, auth *models.AuthContext) ([]models.ToolSchema, error) {
	return f.tools, nil
}

func (f *fakeClient) CallTool(ctx context.Context, auth *models.AuthContext, name string, args map[string]any) ([]byte, error) {
	f.lastTool = name
	return json.RawMessage(`{"done":true}`), nil
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

func newTestGateway(t *testing.T) (*mcpgw.Gateway, *fakeClient) {
	t.Helper()
	client := &fakeClient{tools: []models.ToolSchema{
		{Name: "list_events"},
		{Name: "delete_event", RequiredScopes: []string{"calendar:write"}},
	}}
	reg := registry.New(registry.Config{
		ManifestTTL: time.Minute,
		Dialer:      func(string) registry.ProviderClient { return client },
	})
	if err := reg.Register(&models.ServiceEntry{ID: "calendar", BaseURL: "http://c", Enabled: true}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := reg.Register(&models.ServiceEntry{ID: "paused", BaseURL: "http://p", Enabled: false}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	return mcpgw.NewGateway(reg, policy.NewEnforcer(reg)), client
}

func authCtx(scopes ...string) context.Context {
	return mcp.ContextWithAuth(context.Background(), &models.AuthContext{UserID: "alice", Scopes: scopes})
}

func TestListToolsNamespacesEnabledServices(t *testing.T) {
	gw, _ := newTestGateway(t)

	tools, err := gw.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() failed: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("ListTools() = %d tools, want 2 (disabled service excluded)", len(tools))
	}
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
	}
	if !names["calendar.list_events"] || !names["calendar.delete_event"] {
		t.Errorf("tool names = %v, want serviceId.toolName namespacing", names)
	}
}

func TestCallToolProxiesWithPolicyCheck(t *testing.T) {
	gw, client := newTestGateway(t)

	result, err := gw.CallTool(authCtx("calendar:write"), "calendar.delete_event", map[string]any{"id": "e1"})
	if err != nil {
		t.Fatalf("CallTool() failed: %v", err)
	}
	if client.lastTool != "delete_event" {
		t.Errorf("provider saw tool %q, want delete_event (namespace stripped)", client.lastTool)
	}
	raw, ok := result.(json.RawMessage)
	if !ok || string(raw) != `{"done":true}` {
		t.Errorf("result = %#v, want raw provider payload", result)
	}
}

func TestCallToolDeniesMissingScope(t *testing.T) {
	gw, client := newTestGateway(t)

	_, err := gw.CallTool(authCtx("calendar:read"), "calendar.delete_event", nil)
	if err == nil {
		t.Fatal("CallTool() without scope succeeded, want denial")
	}
	if client.lastTool != "" {
		t.Error("provider invoked despite policy denial")
	}
}

func TestCallToolUnknownNames(t *testing.T) {
	gw, _ := newTestGateway(t)

	cases := []string{"calendar.ghost", "ghost.tool", "nodot", "calendar."}
	for _, name := range cases {
		_, err := gw.CallTool(authCtx("calendar:write"), name, nil)
		var pe *mcp.ProtocolError
		if !errors.As(err, &pe) {
			t.Errorf("CallTool(%q) error = %v, want protocol error", name, err)
			continue
		}
		if name != "calendar.ghost" && pe.Code != models.CodeToolNotFound {
			t.Errorf("CallTool(%q) code = %d, want %d", name, pe.Code, models.CodeToolNotFound)
		}
	}
}

func TestResourcesAndPromptsEmpty(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	if resources, err := gw.ListResources(ctx); err != nil || len(resources) != 0 {
		t.Errorf("ListResources() = %v, %v; want empty, nil", resources, err)
	}
	if _, err := gw.ReadResource(ctx, "note://1"); !errors.Is(err, mcp.ErrResourceNotFound) {
		t.Errorf("ReadResource() error = %v, want ErrResourceNotFound", err)
	}
	if _, err := gw.GetPrompt(ctx, "x", nil); !errors.Is(err, mcp.ErrPromptNotFound) {
		t.Errorf("GetPrompt() error = %v, want ErrPromptNotFound", err)
	}
}
