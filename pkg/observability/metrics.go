package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Invite lifecycle metrics
	InvitesIssuedTotal   prometheus.Counter
	InvitesConsumedTotal prometheus.Counter
	InvitesRevokedTotal  prometheus.Counter
	InvitesSweptTotal    prometheus.Counter
	InviteFailuresTotal  *prometheus.CounterVec

	// Authorization cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatelink_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatelink_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		InvitesIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatelink_invites_issued_total",
				Help: "Total number of invite codes issued",
			},
		),
		InvitesConsumedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatelink_invites_consumed_total",
				Help: "Total number of invite codes consumed",
			},
		),
		InvitesRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatelink_invites_revoked_total",
				Help: "Total number of invite codes revoked",
			},
		),
		InvitesSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatelink_invites_swept_total",
				Help: "Total number of expired invite rows deleted by cleanup",
			},
		),
		InviteFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatelink_invite_failures_total",
				Help: "Total number of failed invite operations by reason",
			},
			[]string{"operation", "reason"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatelink_authz_cache_hits_total",
				Help: "Total number of authorization cache hits",
			},
			[]string{"backend"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatelink_authz_cache_misses_total",
				Help: "Total number of authorization cache misses",
			},
			[]string{"backend"},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatelink_authz_cache_invalidations_total",
				Help: "Total number of authorization cache invalidations",
			},
			[]string{"backend"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatelink_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatelink_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InvitesIssuedTotal,
		m.InvitesConsumedTotal,
		m.InvitesRevokedTotal,
		m.InvitesSweptTotal,
		m.InviteFailuresTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheInvalidationsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// The path label uses the mux route template so that per-code URLs do not
// explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if template, err := route.GetPathTemplate(); err == nil {
					path = template
				}
			}

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		})
	}
}
