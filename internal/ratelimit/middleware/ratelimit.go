// Package middleware applies per-caller sliding window limits to HTTP routes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"willvault/internal/ratelimit/models"
	"willvault/pkg/platform/httputil"
	"willvault/pkg/requestcontext"
)

// BucketStore counts requests per key in a sliding window.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type Middleware struct {
	store    BucketStore
	limits   map[models.EndpointClass]models.Limit
	logger   *slog.Logger
	disabled bool
	denied   *prometheus.CounterVec
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithLimit overrides the budget of one class.
func WithLimit(class models.EndpointClass, limit models.Limit) Option {
	return func(m *Middleware) {
		if limit.Requests > 0 && limit.Window > 0 {
			m.limits[class] = limit
		}
	}
}

func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Middleware) {
		m.denied = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "willvault_ratelimit_denied_total",
			Help: "Requests rejected by the rate limiter, by endpoint class",
		}, []string{"class"})
	}
}

func New(store BucketStore, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		limits: make(map[models.EndpointClass]models.Limit, len(models.DefaultLimits)),
		logger: logger,
	}
	for class, limit := range models.DefaultLimits {
		m.limits[class] = limit
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit limits every request of the route to the given class.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return m.limit(func(*http.Request) models.EndpointClass { return class })
}

// ByRoute classifies will routes: GET is a read, key release, verification
// and distribution are sensitive, everything else is a write.
func (m *Middleware) ByRoute() func(http.Handler) http.Handler {
	return m.limit(classify)
}

func classify(r *http.Request) models.EndpointClass {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case strings.HasSuffix(path, "/verify"), strings.HasSuffix(path, "/distribute"):
		return models.ClassSensitive
	case r.Method == http.MethodGet && strings.Contains(path, "/keys/"):
		return models.ClassSensitive
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		return models.ClassRead
	default:
		return models.ClassWrite
	}
}

func (m *Middleware) limit(classOf func(*http.Request) models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			class := classOf(r)
			limit := m.limits[class]
			subject := subjectOf(ctx)

			result, err := m.store.Allow(ctx, models.BucketKey(class, subject), limit.Requests, limit.Window)
			if err != nil {
				// Fail open when the counter is unavailable.
				m.logger.ErrorContext(ctx, "failed to check rate limit",
					"request_id", requestcontext.RequestID(ctx),
					"class", string(class),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				if m.denied != nil {
					m.denied.WithLabelValues(string(class)).Inc()
				}
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"request_id", requestcontext.RequestID(ctx),
					"class", string(class),
					"subject", subject,
				)
				writeRateLimitExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// subjectOf keys authenticated requests by caller and the rest by client IP.
func subjectOf(ctx context.Context) string {
	if caller := requestcontext.Caller(ctx); !caller.IsNil() {
		return "caller:" + caller.String()
	}
	return "ip:" + requestcontext.ClientIP(ctx)
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
