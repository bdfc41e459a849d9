// Package metrics provides Prometheus metrics for the photo matcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the photo matcher.
type Metrics struct {
	// Upload metrics
	Uploads        *prometheus.CounterVec
	UploadBytes    *prometheus.HistogramVec
	UploadDuration *prometheus.HistogramVec

	// Comparison metrics
	Comparisons        *prometheus.CounterVec
	ComparisonDuration prometheus.Histogram

	// Match run metrics
	MatchRuns    *prometheus.CounterVec
	MatchesFound prometheus.Histogram

	// Pipeline metrics
	InFlightUploads     prometheus.Gauge
	InFlightComparisons prometheus.Gauge

	// Error metrics
	StorageErrors *prometheus.CounterVec
	AuditErrors   *prometheus.CounterVec
	RetryAttempts *prometheus.CounterVec

	registry *prometheus.Registry
}

var defaultMetrics *Metrics

// Init creates the metrics on a fresh registry and installs them as the
// process-wide instance returned by Get.
func Init(namespace string) *Metrics {
	m := New(namespace, prometheus.NewRegistry())
	defaultMetrics = m
	return m
}

// New registers all metrics on reg without touching the global instance.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "photo_matcher"
	}
	f := promauto.With(reg)

	return &Metrics{
		Uploads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Total number of object uploads by namespace and status",
			},
			[]string{"namespace", "status"},
		),
		UploadBytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_bytes",
				Help:      "Size of uploaded objects",
				Buckets:   prometheus.ExponentialBuckets(64<<10, 2, 10), // 64KiB to ~32MiB
			},
			[]string{"namespace"},
		),
		UploadDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "Time to upload one object",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"namespace"},
		),
		Comparisons: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "comparisons_total",
				Help:      "Total number of face comparisons by outcome",
			},
			[]string{"outcome"},
		),
		ComparisonDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "comparison_duration_seconds",
				Help:      "Time for one face comparison call",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			},
		),
		MatchRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "match_runs_total",
				Help:      "Total number of match runs by result",
			},
			[]string{"result"},
		),
		MatchesFound: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "matches_found",
				Help:      "Number of matched photos per run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		InFlightUploads: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_uploads",
				Help:      "Uploads currently in progress",
			},
		),
		InFlightComparisons: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_comparisons",
				Help:      "Face comparisons currently in progress",
			},
		),
		StorageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of object storage errors",
			},
			[]string{"backend", "operation"},
		),
		AuditErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_errors_total",
				Help:      "Total number of audit emission errors",
			},
			[]string{"sink"},
		),
		RetryAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		registry: reg,
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// IncUploads counts one finished upload.
func (m *Metrics) IncUploads(namespace, status string) {
	m.Uploads.WithLabelValues(namespace, status).Inc()
}

// ObserveUpload records size and duration of a successful upload.
func (m *Metrics) ObserveUpload(namespace string, bytes, seconds float64) {
	m.UploadBytes.WithLabelValues(namespace).Observe(bytes)
	m.UploadDuration.WithLabelValues(namespace).Observe(seconds)
}

// IncComparisons counts one comparison by outcome
// ("match", "no_match", "no_face", "error").
func (m *Metrics) IncComparisons(outcome string) {
	m.Comparisons.WithLabelValues(outcome).Inc()
}

// ObserveComparisonDuration records one comparator call.
func (m *Metrics) ObserveComparisonDuration(seconds float64) {
	m.ComparisonDuration.Observe(seconds)
}

// IncMatchRuns counts one match run by result.
func (m *Metrics) IncMatchRuns(result string) {
	m.MatchRuns.WithLabelValues(result).Inc()
}

// ObserveMatchesFound records the match count of a completed run.
func (m *Metrics) ObserveMatchesFound(n float64) {
	m.MatchesFound.Observe(n)
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(backend, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

// IncAuditErrors increments the audit errors counter.
func (m *Metrics) IncAuditErrors(sink string) {
	m.AuditErrors.WithLabelValues(sink).Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(operation string) {
	m.RetryAttempts.WithLabelValues(operation).Inc()
}
