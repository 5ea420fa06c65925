// Package httptransport assembles the chi router: shared middleware, the
// health and metrics endpoints, and the module handlers split into caller
// (bearer token) and operator (admin token) groups.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	platformmetrics "willvault/internal/platform/metrics"
	"willvault/pkg/platform/httputil"
	adminmw "willvault/pkg/platform/middleware/admin"
	authmw "willvault/pkg/platform/middleware/auth"
	"willvault/pkg/platform/middleware/metadata"
	request "willvault/pkg/platform/middleware/request"
	"willvault/pkg/platform/middleware/requesttime"
)

// Registrar is implemented by every module handler.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Logger     *slog.Logger
	Validator  authmw.JWTValidator
	AdminToken string
	Metrics    *platformmetrics.Metrics
	Gatherer   prometheus.Gatherer
	Health     map[string]HealthCheck
	// RateLimit, when set, runs after authentication on caller routes.
	RateLimit func(http.Handler) http.Handler

	// Caller routes require a bearer token; Admin routes the operator token.
	Caller []Registrar
	Admin  []Registrar
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(deps.Logger))
	r.Use(request.Logger(deps.Logger))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	r.Get("/healthz", healthHandler(deps.Health))
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(deps.AdminToken, deps.Logger))
		for _, h := range deps.Admin {
			h.Register(r)
		}
	})
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(deps.Validator, deps.Logger))
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit)
		}
		for _, h := range deps.Caller {
			h.Register(r)
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
