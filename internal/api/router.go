package api

import (
	"encoding/json"
	"net/http"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/api/handlers"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/api/middleware"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/config"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/mcp"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers, authx *middleware.AuthExtractor, mcpServer *mcp.Server) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(authx.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-User-Scopes", "X-Request-Id", "X-UTC-Offset"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Chat — message in, plan (and execution) out
		r.Post("/chat", h.Chat)

		// Service registry
		r.Route("/services", func(r chi.Router) {
			r.Get("/", h.ListServices)
			r.Post("/", h.RegisterService)
			r.Get("/health", h.AllServiceHealth)
			r.Post("/refresh", h.RefreshManifests)
			r.Route("/{serviceId}", func(r chi.Router) {
				r.Get("/", h.GetService)
				r.Delete("/", h.UnregisterService)
				r.Patch("/enabled", h.SetServiceEnabled)
				r.Get("/tools", h.ServiceTools)
				r.Get("/health", h.ServiceHealth)
			})
		})

		// Confirmations
		r.Route("/confirmations", func(r chi.Router) {
			r.Get("/", h.PendingConfirmations)
			r.Route("/{confirmationId}", func(r chi.Router) {
				r.Get("/", h.GetConfirmation)
				r.Post("/respond", h.RespondConfirmation)
			})
		})

		// Audit
		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.QueryAudit)
			r.Get("/stats", h.AuditStats)
		})
	})

	// MCP transport endpoint — the node itself as a provider. The
	// middleware's authenticated identity is bridged into the protocol
	// context; explicit propagation headers still take precedence.
	r.Post("/mcp", func(w http.ResponseWriter, req *http.Request) {
		if auth, ok := middleware.GetAuth(req.Context()); ok {
			req = req.WithContext(mcp.ContextWithAuth(req.Context(), auth))
		}
		mcpServer.ServeHTTP(w, req)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "yukie-orchestrator",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
		})
	}
}
