// Package server implements the HTTP transport layer for the Raskol proxy.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	raskol "github.com/eugener/raskol/internal"
	"github.com/eugener/raskol/internal/admission"
	"github.com/eugener/raskol/internal/storage"
	"github.com/eugener/raskol/internal/telemetry"
	"github.com/eugener/raskol/internal/upstream"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// TokenVerifier validates a serialized bearer token at a point in time.
type TokenVerifier interface {
	Verify(token string, now time.Time) (*raskol.Identity, error)
}

// Forwarder dispatches one request to the upstream with credential
// substitution.
type Forwarder interface {
	Forward(ctx context.Context, method, pathAndQuery string, header http.Header, body []byte) (*upstream.Result, error)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           TokenVerifier
	Admission      *admission.Controller
	Upstream       Forwarder
	Store          storage.Store
	Metrics        *telemetry.Metrics // nil = no metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	AllowedOrigins []string           // CORS origins; nil = no CORS layer
	Clock          func() time.Time   // nil = time.Now
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps, now: deps.Clock}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept", "Origin"},
			ExposedHeaders:   []string{"Content-Type", "Content-Length", "Retry-After"},
			AllowCredentials: true,
		}))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/swagger-ui", s.handleSwaggerUI)
	r.Get("/api-docs/openapi.json", s.handleOpenAPI)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Client-facing API (auth required)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.requireProxyRole)
		r.Get("/ping", s.handlePing)
		r.Get("/stats", s.handleStats)
		r.Post("/*", s.handleForward)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/total-stats", s.handleTotalStats)
		})
	})

	return r
}

type server struct {
	deps Deps
	now  func() time.Time
}
