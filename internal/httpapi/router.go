// Package httpapi serves the operator HTTP API: submitting and inspecting
// sends, cancelling them, ingesting delivery feedback and managing
// recipient consent.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/icycon/emailengine/internal/metrics"
	"github.com/icycon/emailengine/pkg/consent"
	"github.com/icycon/emailengine/pkg/health"
	"github.com/icycon/emailengine/pkg/logger"
)

// ConsentManager changes recipient consent.
type ConsentManager = consent.Manager

type config struct {
	logger       *slog.Logger
	checks       health.Checks
	corsOrigins  []string
	checkTimeout time.Duration
}

// Option configures the router.
type Option func(*config)

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHealthChecks sets the checks behind /health/ready.
func WithHealthChecks(checks health.Checks) Option {
	return func(c *config) {
		c.checks = checks
	}
}

// WithCORSOrigins allows browser calls from origins.
// Without origins no CORS headers are sent.
func WithCORSOrigins(origins ...string) Option {
	return func(c *config) {
		c.corsOrigins = origins
	}
}

// NewRouter builds the API handler.
func NewRouter(engine Engine, consents ConsentManager, opts ...Option) http.Handler {
	cfg := &config{
		logger:       logger.NewNope(),
		checkTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &handlers{engine: engine, consent: consents, log: cfg.logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)
	if len(cfg.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", TenantHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/health/live", health.LivenessHandler())
	r.Get("/health/ready", health.ReadinessHandler(cfg.checks,
		health.WithTimeout(cfg.checkTimeout),
		health.WithLogger(cfg.logger),
	))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.requireTenant)

		r.Post("/sends", h.handle(h.submit))
		r.Get("/sends", h.handle(h.list))
		r.Get("/sends/{id}", h.handle(h.status))
		r.Post("/sends/{id}/cancel", h.handle(h.cancel))
		r.Get("/sends/{id}/events", h.handle(h.events))

		r.Post("/feedback", h.handle(h.feedback))

		r.Post("/contacts/unsubscribe", h.handle(h.setConsent(false)))
		r.Post("/contacts/resubscribe", h.handle(h.setConsent(true)))
	})

	return r
}
