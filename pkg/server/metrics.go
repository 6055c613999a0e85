package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics describing the server itself. They are
// kept in a private registry so they never mix with rendered envelopes.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	envelopesRendered prometheus.Counter
	renderErrors      prometheus.Counter

	spoolEnvelopes prometheus.Gauge
	spoolReloads   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance with all server metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetrycore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telemetrycore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		envelopesRendered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "telemetrycore_envelopes_rendered_total",
				Help: "Total number of envelopes rendered into exposition payloads",
			},
		),

		renderErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "telemetrycore_render_write_errors_total",
				Help: "Total number of exposition payloads that could not be written to the client",
			},
		),

		spoolEnvelopes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "telemetrycore_spool_envelopes",
				Help: "Number of envelopes currently loaded from the spool directory",
			},
		),

		spoolReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetrycore_spool_reloads_total",
				Help: "Total number of spool reloads by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.envelopesRendered,
		m.renderErrors,
		m.spoolEnvelopes,
		m.spoolReloads,
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, code string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRender records one rendered payload of n envelopes.
func (m *Metrics) RecordRender(n int, err error) {
	m.envelopesRendered.Add(float64(n))
	if err != nil {
		m.renderErrors.Inc()
	}
}

// RecordSpoolReload matches the spool reload callback signature.
func (m *Metrics) RecordSpoolReload(loaded int, err error) {
	m.spoolEnvelopes.Set(float64(loaded))
	status := "success"
	if err != nil {
		status = "partial"
	}
	m.spoolReloads.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request count and latency per route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, routeName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// routeName keeps the path label bounded.
func routeName(path string) string {
	switch path {
	case HealthPath, MetricsPath, EnvelopePath, SelfMetricsPath:
		return path
	default:
		return "other"
	}
}
