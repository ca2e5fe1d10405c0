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
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_resolutions_total",
			Help: "Total number of permission resolutions",
		},
		[]string{"domain", "path", "level"},
	)

	resolutionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "permission_resolution_cache_hits_total",
			Help: "Total number of resolutions served from cache",
		},
	)

	resolutionCacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_resolution_cache_invalidations_total",
			Help: "Total number of cached access-map invalidations",
		},
		[]string{"cause"},
	)

	guardDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_guard_decisions_total",
			Help: "Total number of access guard decisions",
		},
		[]string{"route", "decision"},
	)

	migrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "user_migrations_total",
			Help: "Total number of legacy-to-hierarchy user migrations",
		},
		[]string{"outcome"},
	)

	accountantRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accountant_requests_total",
			Help: "Total number of accountant assignment requests by decision",
		},
		[]string{"decision"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordResolution records one permission resolution. path is which source
// decided: admin, accountant, hierarchy, legacy or none.
func RecordResolution(domain, path, level string) {
	resolutionsTotal.WithLabelValues(domain, path, level).Inc()
}

// RecordResolutionCacheHit records a resolution served from the cache
func RecordResolutionCacheHit() {
	resolutionCacheHits.Inc()
}

// RecordCacheInvalidation records an access-map invalidation
func RecordCacheInvalidation(cause string) {
	resolutionCacheInvalidations.WithLabelValues(cause).Inc()
}

// RecordGuardDecision records an access guard allow/deny
func RecordGuardDecision(route string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	guardDecisions.WithLabelValues(route, decision).Inc()
}

// RecordMigration records a migration attempt outcome
func RecordMigration(outcome string) {
	migrationsTotal.WithLabelValues(outcome).Inc()
}

// RecordAccountantRequest records an accountant request decision
func RecordAccountantRequest(decision string) {
	accountantRequestsTotal.WithLabelValues(decision).Inc()
}
