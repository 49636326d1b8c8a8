// Package middleware provides cross-cutting concerns for the score
// pipeline: metrics collection and stage instrumentation.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-consensus/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It provides real-time monitoring of stage latency,
// pipeline outcomes, and dataset shape for the score pipeline.
type PrometheusMetrics struct {
	stageLatency    *prometheus.HistogramVec
	operationsTotal *prometheus.CounterVec
	stateGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and
// registers all required metrics in the global Prometheus registry.
// Register it once per process; promauto panics on duplicates.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		stageLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Execution time of pipeline stages per criterion.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "stage", "criterion"},
		),
		operationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_operations_total",
				Help: "Total pipeline operations by status.",
			},
			[]string{"metric", "status", "stage", "criterion"},
		),
		stateGauges: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_state",
				Help: "Current pipeline state values such as dataset counts.",
			},
			[]string{"metric", "criterion"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	pm.stageLatency.WithLabelValues(
		operation,
		labels["stage"],
		labels["criterion"],
	).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by
// incrementing Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	status, ok := labels["status"]
	if !ok {
		status = "success"
	}
	pm.operationsTotal.WithLabelValues(
		metric,
		status,
		labels["stage"],
		labels["criterion"],
	).Add(value)
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	pm.stateGauges.WithLabelValues(metric, labels["criterion"]).Set(value)
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
