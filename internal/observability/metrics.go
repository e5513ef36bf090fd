package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the ambient HTTP counters this service carries
// regardless of domain scope, plus the per-job processed/failed/skipped
// counters the orchestrator reports, all served on GET /metrics.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec

	JobsProcessedTotal prometheus.Counter
	JobsFailedTotal    *prometheus.CounterVec
	JobsSkippedTotal   *prometheus.CounterVec
	JobDurationSeconds prometheus.Histogram
}

// NewMetrics registers the service's metric families against the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_archiver_http_requests_total",
			Help: "Total HTTP requests by path, method, and status bucket.",
		}, []string{"path", "method", "status"}),
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticket_archiver_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_archiver_http_errors_total",
			Help: "Total HTTP errors by path, method, and domain error code.",
		}, []string{"path", "method", "code"}),
		JobsProcessedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ticket_archiver_jobs_processed_total",
			Help: "Total archival jobs that reached the done tag state.",
		}),
		JobsFailedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_archiver_jobs_failed_total",
			Help: "Total archival jobs that ended in the error tag state, by code and classification.",
		}, []string{"code", "classification"}),
		JobsSkippedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_archiver_jobs_skipped_total",
			Help: "Total archival jobs skipped before processing, by reason.",
		}, []string{"reason"}),
		JobDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticket_archiver_job_duration_seconds",
			Help:    "Wall-clock duration of a single archival job, success or failure.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

// RecordRequest records one completed HTTP request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := statusBucket(status)
	m.requestsTotal.WithLabelValues(path, method, statusLabel).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError records one HTTP-boundary error by its domain error code.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(path, method, code).Inc()
}

func statusBucket(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
