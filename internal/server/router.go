// Package server assembles the HTTP surface: platform routes, the tenant
// pipeline and the business routes mounted behind it.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aryan0dhankhar/tenantrouter/internal/domain"
	"github.com/aryan0dhankhar/tenantrouter/internal/handler"
	"github.com/aryan0dhankhar/tenantrouter/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantrouter/internal/pipeline"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/audit"
	"github.com/aryan0dhankhar/tenantrouter/internal/security/middleware"
)

// Deps are the handlers and middleware the router is built from. Login may be
// nil, in which case /auth/login is not mounted.
type Deps struct {
	Pipeline       *pipeline.Pipeline
	Health         *handler.HealthHandler
	Login          http.Handler
	Orders         *handler.OrdersHandler
	Audit          *audit.Logger
	AllowedOrigins []string
	// AuthenticatedReads puts tenant reads behind the same credential check as writes.
	AuthenticatedReads bool
	Logger             *slog.Logger
}

// NewRouter returns the root handler. Requests pass request id, recovery,
// metrics and CORS before the tenant pipeline, which lets platform paths
// through untouched and hands tenant requests to the router in canonical
// /{prefix}/{slug}/... form.
func NewRouter(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	prefix := "/" + d.Pipeline.Resolver.APIPrefix()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(metrics.HTTPMetricsMiddleware)
	r.Use(cors(d.AllowedOrigins))
	r.Use(d.Pipeline.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pipeline.WriteError(w, r, log, fmt.Errorf("%w: %s", domain.ErrRouteNotFound, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	r.Get("/healthz", d.Health.Health)
	r.Get("/readyz", d.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())
	if d.Login != nil {
		r.With(middleware.ValidateJSONContentType(log)).Post("/auth/login", d.Login.ServeHTTP)
	}

	r.Route(prefix+"/{tenant}", func(r chi.Router) {
		if d.Audit != nil {
			r.Use(middleware.AuditMiddleware(d.Audit))
		}
		reads := r.With()
		if d.AuthenticatedReads {
			reads = r.With(pipeline.RequireIdentity(log))
		}
		reads.Get("/orders/", d.Orders.List)
		r.With(
			pipeline.RequireIdentity(log),
			middleware.ValidateJSONContentType(log),
			middleware.RequireJSONFields(log, "label"),
		).Post("/orders/", d.Orders.Create)
	})

	return otelhttp.NewHandler(r, "tenantrouter",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func cors(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if originAllowed(allowed, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, X-Tenant-Name, X-Request-ID")
			}
			if r.Method == http.MethodOptions && origin != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
