// Package api wires the HTTP router.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/themis-legal/themis/internal/api/handlers"
	"github.com/themis-legal/themis/internal/api/middleware"
)

// Options configures the router.
type Options struct {
	Version    string
	UserHeader string
	APIKeys    []string
	// Health reports backend reachability for /health. Nil means always healthy.
	Health func(ctx context.Context) error
}

// NewRouter creates the HTTP router with all API routes.
func NewRouter(h *handlers.Handlers, opts Options) http.Handler {
	r := chi.NewRouter()

	userHeader := opts.UserHeader
	if userHeader == "" {
		userHeader = middleware.DefaultUserHeader
	}

	// Global middleware. No Compress: it would buffer the SSE stream.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id", userHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAPIKeyAuth(opts.APIKeys).Middleware)

	r.Get("/health", healthHandler(opts))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(userHeader))

		r.Get("/agents", h.ListAgents)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/", h.Chat)
			r.Post("/stream", h.ChatStream)
		})

		r.Post("/workflows/{name}", h.RunWorkflow)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.ListConversations)
			r.Get("/{id}", h.GetConversation)
			r.Delete("/{id}", h.DeleteConversation)
		})

		r.Route("/knowledge", func(r chi.Router) {
			r.Post("/ingest", h.KnowledgeIngest)
			r.Post("/search", h.KnowledgeSearch)
		})
	})

	return r
}

func healthHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := map[string]string{
			"status":  "healthy",
			"service": "themis",
			"version": opts.Version,
		}
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				body["status"] = "degraded"
				body["error"] = err.Error()
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		}
		json.NewEncoder(w).Encode(body)
	}
}
