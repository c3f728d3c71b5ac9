package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Grant metrics
	GrantsTotal        *prometheus.CounterVec
	GrantErrorsTotal   *prometheus.CounterVec
	AuthorizationsTotal *prometheus.CounterVec
	RevocationsTotal   prometheus.Counter

	// Gate metrics
	GateDecisionsTotal *prometheus.CounterVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageErrorsTotal       *prometheus.CounterVec
	ExpiredRowsSweptTotal    prometheus.Counter

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oauthd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		GrantsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthd_grants_total",
				Help: "Token grants issued, by grant type",
			},
			[]string{"grant_type"},
		),
		GrantErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthd_grant_errors_total",
				Help: "Token grant failures, by grant type and error kind",
			},
			[]string{"grant_type", "kind"},
		),
		AuthorizationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthd_authorizations_total",
				Help: "Authorize-endpoint outcomes, by response type",
			},
			[]string{"response_type"},
		),
		RevocationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oauthd_revocations_total",
				Help: "Sessions revoked via logout",
			},
		),
		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthd_gate_decisions_total",
				Help: "Request authentication gate decisions, by requirement and outcome",
			},
			[]string{"requirement", "outcome"},
		),
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthd_storage_operations_total",
				Help: "Storage operations, by operation",
			},
			[]string{"operation"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oauthd_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthd_storage_errors_total",
				Help: "Storage operation failures, by operation",
			},
			[]string{"operation"},
		),
		ExpiredRowsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "oauthd_expired_rows_swept_total",
				Help: "Expired token/code rows removed by the cleanup sweeper",
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthd_cache_hits_total",
				Help: "Cache hits, by cache",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oauthd_cache_misses_total",
				Help: "Cache misses, by cache",
			},
			[]string{"cache"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oauthd_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "oauthd_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GrantsTotal,
		m.GrantErrorsTotal,
		m.AuthorizationsTotal,
		m.RevocationsTotal,
		m.GateDecisionsTotal,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.StorageErrorsTotal,
		m.ExpiredRowsSweptTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// HTTPMiddleware records request count and duration for every request
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Handler returns the Prometheus scrape handler for the registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
