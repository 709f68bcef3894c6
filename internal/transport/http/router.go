// Package httptransport assembles the HTTP surface: the shared middleware
// chain, unauthenticated probes and the authenticated module routes.
package httptransport

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"commandbridge/pkg/platform/middleware/admin"
	"commandbridge/pkg/platform/middleware/auth"
	"commandbridge/pkg/platform/middleware/metadata"
	"commandbridge/pkg/platform/middleware/request"
	"commandbridge/pkg/platform/middleware/requesttime"
	"commandbridge/pkg/platform/validation"
)

// Registrar mounts a module's routes.
type Registrar interface {
	Register(r chi.Router)
}

// AdminRegistrar mounts routes that sit behind the level-3 gate.
type AdminRegistrar interface {
	RegisterAdmin(r chi.Router)
}

// Handlers are the module handlers served by the router. Identity contributes
// both /me and the admin routes.
type Handlers struct {
	Health   Registrar
	Identity interface {
		Registrar
		AdminRegistrar
	}
	Actions  Registrar
	Audit    Registrar
	KB       Registrar
	Activity Registrar
}

// Config carries the router's dependencies.
type Config struct {
	Logger         *slog.Logger
	RequestTimeout time.Duration
	TrustedProxies []netip.Prefix
	Validator      auth.JWTValidator
	Resolver       auth.CallerResolver
	Metrics        *request.Metrics
	// Gatherer backs /metrics. Nil selects the default registry.
	Gatherer prometheus.Gatherer
}

const adminLevel = 3

// NewRouter wires every endpoint with its middleware.
func NewRouter(cfg Config, h Handlers) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.NewMiddleware(&metadata.Config{TrustedProxies: cfg.TrustedProxies}).Handler)
	r.Use(request.Logger(logger))
	r.Use(request.Timeout(timeout))
	r.Use(request.Latency(cfg.Metrics))

	// Unauthenticated probes and scrape endpoint.
	if h.Health != nil {
		h.Health.Register(r)
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Use(auth.RequireAuth(cfg.Validator, logger))
		r.Use(auth.ResolveCaller(cfg.Resolver, logger))

		r.Group(func(r chi.Router) {
			r.Use(request.BodyLimit(validation.MaxBodySize))
			for _, m := range []Registrar{h.Identity, h.Actions, h.Audit, h.Activity} {
				if m != nil {
					m.Register(r)
				}
			}
			if h.Identity != nil {
				r.Group(func(r chi.Router) {
					r.Use(admin.RequireLevel(adminLevel, logger))
					h.Identity.RegisterAdmin(r)
				})
			}
		})

		if h.KB != nil {
			r.Group(func(r chi.Router) {
				r.Use(request.BodyLimit(validation.MaxArticleBodySize))
				h.KB.Register(r)
			})
		}
	})

	return r
}
