// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

var (
	// LedgerOptimisticConflicts counts version-bump failures.
	LedgerOptimisticConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_optimistic_conflicts_total",
			Help: "Total number of optimistic version conflicts",
		},
		[]string{"operation_scope"},
	)

	// LedgerIdempotencyHits counts idempotent replays resolved without
	// a new write.
	LedgerIdempotencyHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_idempotency_hits_total",
			Help: "Total number of idempotency replay hits",
		},
		[]string{"operation_scope"},
	)

	// LedgerIdempotencyConflicts counts payload-mismatch rejections.
	LedgerIdempotencyConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_idempotency_conflicts_total",
			Help: "Total number of idempotency key reuse rejections",
		},
		[]string{"operation_scope"},
	)

	// LedgerOutboxEventsTotal counts outbox rows inserted.
	LedgerOutboxEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_outbox_events_total",
			Help: "Total number of outbox events written",
		},
		[]string{"event_type"},
	)

	// LedgerAuditDivergence fires if a balance audit ever disagrees with
	// the projection — should never be nonzero.
	LedgerAuditDivergence = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_audit_divergence_total",
			Help: "Total number of audit-vs-projection balance divergences observed",
		},
	)
)

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler { return promhttp.Handler() }

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records HTTP request duration and count by method, route
// pattern, and status.
func Middleware(routePattern func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)
			path := routePattern(r)

			HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
			HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		})
	}
}
