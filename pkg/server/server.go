// Package server provides the public entry point for initializing the
// Yukie orchestration core.
//
// This package exists in pkg/ (not internal/) so that embedding programs
// can compose the full server with their own overrides — a custom
// confirmation callback, a different completion backend — without
// re-wiring the components themselves.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/api"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/api/handlers"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/api/middleware"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/audit"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/auth"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/config"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/confirm"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/mcp"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/mcpgw"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/orchestrator"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/planner"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/policy"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/registry"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/risk"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized orchestration core.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Registry, Gate and Auditor are exposed so embedding programs can
	// seed services, install a custom confirmation callback, or inspect
	// the audit trail.
	Registry *registry.Registry
	Gate     *confirm.Gate
	Auditor  *audit.Logger

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the orchestration core with an explicit
// configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	reg := registry.New(registry.Config{
		ManifestTTL:          cfg.Registry.ManifestTTL,
		MaxRoutingCandidates: cfg.Registry.MaxRoutingCandidates,
		HealthTimeout:        cfg.Registry.HealthTimeout,
	})
	classifier := risk.NewClassifier()
	enforcer := policy.NewEnforcer(reg)
	limiter := policy.NewRateLimiter(policy.DefaultLimits())
	limiter.Start(ctx)

	gate := confirm.NewGate(cfg.Confirm.Timeout, cfg.Confirm.MaxHistory)
	gate.SetCallback(confirm.AwaitResponse(gate))
	gate.Start(ctx)

	auditor := audit.NewLogger(cfg.Audit.MaxEntries, cfg.Audit.RetentionDays)

	completion := planner.NewHTTPCompletion(
		cfg.Planner.LLMEndpoint,
		cfg.Planner.LLMAPIKey,
		cfg.Planner.LLMModel,
		cfg.Planner.Timeout,
	)
	pl := planner.New(completion, classifier)

	orch := orchestrator.New(reg, pl, enforcer, limiter, gate, auditor, classifier, cfg.Transport.MaxConcurrent)

	log.Info().Msg("service registry initialized")
	log.Info().Msg("confirmation gate initialized")
	log.Info().Msg("orchestrator initialized")

	// The node is itself an MCP provider over its registered services.
	gateway := mcpgw.NewGateway(reg, enforcer)
	mcpServer := mcp.NewServer(gateway, "yukie-orchestrator", cfg.Version)

	var authenticator auth.Authenticator
	if cfg.Auth.TokenSecret != "" {
		authenticator = auth.NewTokenValidator(cfg.Auth.TokenSecret)
	} else {
		log.Warn().Msg("no token secret configured; requests run as anonymous admin (local development only)")
	}
	authx := middleware.NewAuthExtractor(authenticator, auditor)

	h := handlers.New(orch, reg, gate, auditor, limiter)
	router := api.NewRouter(cfg, h, authx, mcpServer)

	return &Server{
		Handler:      router,
		Registry:     reg,
		Gate:         gate,
		Auditor:      auditor,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
