// Package api provides the ops HTTP surface of the ingestion worker.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/aqplatform/ingestion/internal/api/handler"
	"github.com/aqplatform/ingestion/internal/api/middleware"
	"github.com/aqplatform/ingestion/internal/api/response"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics
	Ops       handler.OpsDeps
	// Prometheus serves /metrics when set.
	Prometheus http.Handler
}

// NewRouter creates a new chi router with the ops routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID) // Generate/propagate request ID first
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.ContextLogger(cfg.Logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.Method+" "+r.URL.Path)
	})

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Ops)
	opsRateLimit := middleware.RateLimitByIP(middleware.OpsRateLimit)

	r.Route("/v1/ops", func(r chi.Router) {
		r.Use(opsRateLimit)
		r.Get("/health", opsHandler.HealthCheck)
		r.Get("/ready", opsHandler.ReadinessCheck)
		r.Get("/status", opsHandler.SystemStatus)
	})

	if cfg.Prometheus != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Prometheus)
	}

	return r
}
