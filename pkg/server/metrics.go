package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the upload server
type Metrics struct {
	// Upload metrics
	uploadsTotal    *prometheus.CounterVec
	uploadBytes     prometheus.Histogram
	detectionsTotal *prometheus.CounterVec

	// Download metrics
	downloadsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		uploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redact_uploads_total",
				Help: "Total number of uploaded documents by format and outcome",
			},
			[]string{"format", "outcome"},
		),

		uploadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "redact_upload_size_bytes",
				Help:    "Size of uploaded documents in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),

		detectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redact_detections_total",
				Help: "Total number of redacted PII values by type",
			},
			[]string{"pii_type"},
		),

		downloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redact_downloads_total",
				Help: "Total number of artifact downloads by file type and status",
			},
			[]string{"filetype", "status"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redact_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redact_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.uploadsTotal,
		m.uploadBytes,
		m.detectionsTotal,
		m.downloadsTotal,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// RecordUpload records one processed upload
func (m *Metrics) RecordUpload(format, outcome string, size int) {
	m.uploadsTotal.WithLabelValues(format, outcome).Inc()
	m.uploadBytes.Observe(float64(size))
}

// RecordDetections adds per-type detection counts
func (m *Metrics) RecordDetections(counts map[string]int) {
	for kind, n := range counts {
		m.detectionsTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordDownload records an artifact download attempt. Filetypes outside the
// served set share the "invalid" label.
func (m *Metrics) RecordDownload(filetype string, status int) {
	switch filetype {
	case "deidentified", "detections", "summary":
	default:
		filetype = "invalid"
	}
	m.downloadsTotal.WithLabelValues(filetype, strconv.Itoa(status)).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request metrics labelled by the matched route template.
// It is installed on the router so the current route is known.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, endpointName(r), strconv.Itoa(wrapped.statusCode), time.Since(start))
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

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// endpointName returns the route template so ids never become label values
func endpointName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unknown"
}
