package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockcount-sync-api/internal/handler"
	"stockcount-sync-api/internal/middleware"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler         *handler.Handler
	SyncHandler     *handler.SyncHandler
	LockHandler     *handler.LockHandler
	ConflictHandler *handler.ConflictHandler
	AutoSyncHandler *handler.AutoSyncHandler
	AdminHandler    *handler.AdminHandler
	AuthMiddleware  func(http.Handler) http.Handler
	CORSOrigins     []string
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID",
			middleware.HeaderAPIKey, middleware.HeaderUserID, middleware.HeaderRole},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:         300,
	}))

	// PUBLIC routes (no auth required)
	r.Handle("/metrics", promhttp.Handler())
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	// AUTHENTICATED routes
	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.Handler != nil {
				r.Get("/health", cfg.Handler.Health)
				r.Get("/ready", cfg.Handler.Ready)
			}

			if cfg.SyncHandler != nil {
				r.Route("/sync", func(r chi.Router) {
					r.Post("/batch", cfg.SyncHandler.Batch)
					r.Post("/heartbeat", cfg.SyncHandler.Heartbeat)
				})
			}

			if cfg.LockHandler != nil {
				r.Route("/locks/racks/{rack_id}", func(r chi.Router) {
					r.Get("/", cfg.LockHandler.Get)
					r.Post("/", cfg.LockHandler.Acquire)
					r.Put("/", cfg.LockHandler.Renew)
					r.Delete("/", cfg.LockHandler.Release)
				})
			}

			if cfg.ConflictHandler != nil {
				r.Route("/conflicts", func(r chi.Router) {
					r.Get("/", cfg.ConflictHandler.List)
					r.Get("/stats", cfg.ConflictHandler.Stats)
					r.Post("/batch-resolve", cfg.ConflictHandler.BatchResolve)
					r.Post("/auto-resolve", cfg.ConflictHandler.AutoResolve)
					r.Get("/{id}", cfg.ConflictHandler.Get)
					r.Post("/{id}/resolve", cfg.ConflictHandler.Resolve)
				})
			}

			if cfg.AutoSyncHandler != nil {
				r.Route("/autosync", func(r chi.Router) {
					r.Get("/status", cfg.AutoSyncHandler.Status)
					r.Post("/trigger", cfg.AutoSyncHandler.Trigger)
				})
			}

			if cfg.AdminHandler != nil {
				r.Get("/admin/stats", cfg.AdminHandler.GetStats)
			}
		})
	})

	return r
}
