package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"wallet-ledger/internal/auth"
	"wallet-ledger/internal/logging"
	"wallet-ledger/internal/metrics"
)

// RouterConfig carries the HTTP-layer knobs that should be
// configurable rather than hardcoded.
type RouterConfig struct {
	MaxInflight int
	CORSOrigins []string
}

// Router wires the full HTTP surface: chi's standard middleware
// stack, bearer-token resolution, per-request logging with a
// correlation id, Prometheus instrumentation, a concurrency limiter
// at the edge, and every documented route.
func Router(h *Handlers, verifier *auth.Verifier, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(requestLoggingMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOriginsOrDefault(cfg.CORSOrigins),
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware(routePattern))
	r.Use(concurrencyLimiter(cfg.MaxInflight))

	r.Get("/v1/health", h.Health)
	r.Get("/v1/ready", h.Ready)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier))
		r.Post("/v1/wallets", h.CreateWallet)
		r.Get("/v1/wallets/{id}/balance", h.GetBalance)
		r.Get("/v1/wallets/{id}/balance/audit", h.GetBalanceAudit)
		r.Post("/v1/transfers", h.PostTransfer)
		r.Post("/v1/adjustments", h.PostAdjustment)
		r.Get("/v1/transactions/{id}", h.GetTransaction)
	})

	return r
}

func corsOriginsOrDefault(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:*"}
	}
	return origins
}

// routePattern reports the matched chi route pattern for metrics
// labeling, falling back to the raw path when no route matched (404s).
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return r.URL.Path
}

// requestLoggingMiddleware attaches the chi request id to the
// context-scoped logger and logs completion, the corpus's
// correlation-id convention (supplemented feature, see SPEC_FULL.md §10).
func requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := chimiddleware.GetReqID(r.Context())
		ctx := logging.WithRequestID(r.Context(), reqID)
		r = r.WithContext(ctx)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.FromContext(ctx).Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// concurrencyLimiter bounds the number of requests handled
// concurrently, failing fast instead of queueing without bound when
// the database is saturated.
func concurrencyLimiter(max int) func(http.Handler) http.Handler {
	if max <= 0 {
		max = 64
	}
	sem := make(chan struct{}, max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
				next.ServeHTTP(w, r)
			default:
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "server busy"})
			}
		})
	}
}
