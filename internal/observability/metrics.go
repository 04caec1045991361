package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the instrumentation interface used across the service.
type Metrics interface {
	RecordSuccess(operation string)
	RecordError(operation, errorType string)
	RecordDuration(operation string, seconds float64)
	RecordFileSize(fileType string, bytes int64)
	StartOperation(operation string)
	EndOperation(operation string)
}

// PrometheusMetrics implements Metrics with the Prometheus client library.
// All metric names are prefixed with the service name.
type PrometheusMetrics struct {
	processedTotal  *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
	fileSizeBytes   *prometheus.HistogramVec
	inProgress      *prometheus.GaugeVec
}

// NewPrometheusMetrics creates and registers the metric set with the default
// registry. Panics on duplicate registration, so call it once per process.
func NewPrometheusMetrics(serviceName string) *PrometheusMetrics {
	m := &PrometheusMetrics{
		processedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_processed_total", serviceName),
				Help: fmt.Sprintf("Total processed operations by %s", serviceName),
			},
			[]string{"status", "type"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_errors_total", serviceName),
				Help: fmt.Sprintf("Total errors in %s", serviceName),
			},
			[]string{"error_type", "operation"},
		),
		durationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    fmt.Sprintf("%s_duration_seconds", serviceName),
				Help:    fmt.Sprintf("Operation duration in %s", serviceName),
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		fileSizeBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: fmt.Sprintf("%s_file_size_bytes", serviceName),
				Help: fmt.Sprintf("File sizes processed by %s", serviceName),
				Buckets: []float64{
					1024,       // 1KB
					10240,      // 10KB
					102400,     // 100KB
					1048576,    // 1MB
					10485760,   // 10MB
					104857600,  // 100MB
					1073741824, // 1GB
				},
			},
			[]string{"file_type"},
		),
		inProgress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_in_progress", serviceName),
				Help: fmt.Sprintf("Operations in progress in %s", serviceName),
			},
			[]string{"operation"},
		),
	}

	prometheus.MustRegister(
		m.processedTotal,
		m.errorsTotal,
		m.durationSeconds,
		m.fileSizeBytes,
		m.inProgress,
	)

	return m
}

func (m *PrometheusMetrics) RecordSuccess(operation string) {
	m.processedTotal.WithLabelValues("success", operation).Inc()
}

func (m *PrometheusMetrics) RecordError(operation, errorType string) {
	m.processedTotal.WithLabelValues("error", operation).Inc()
	m.errorsTotal.WithLabelValues(errorType, operation).Inc()
}

func (m *PrometheusMetrics) RecordDuration(operation string, seconds float64) {
	m.durationSeconds.WithLabelValues(operation).Observe(seconds)
}

func (m *PrometheusMetrics) RecordFileSize(fileType string, bytes int64) {
	m.fileSizeBytes.WithLabelValues(fileType).Observe(float64(bytes))
}

func (m *PrometheusMetrics) StartOperation(operation string) {
	m.inProgress.WithLabelValues(operation).Inc()
}

func (m *PrometheusMetrics) EndOperation(operation string) {
	m.inProgress.WithLabelValues(operation).Dec()
}

// NopMetrics discards everything. Used in tests.
type NopMetrics struct{}

func (NopMetrics) RecordSuccess(string)          {}
func (NopMetrics) RecordError(string, string)    {}
func (NopMetrics) RecordDuration(string, float64) {}
func (NopMetrics) RecordFileSize(string, int64)  {}
func (NopMetrics) StartOperation(string)         {}
func (NopMetrics) EndOperation(string)           {}
