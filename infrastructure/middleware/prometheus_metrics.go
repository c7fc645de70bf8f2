// Package middleware provides cross-cutting concerns for the grading engine.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-peergrade/internal/ports"
)

const namespace = "peergrade"

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// It exposes aggregation throughput, peer assignment shortfalls, grade-book
// delivery failures, training verdicts and final score distribution.
type PrometheusMetrics struct {
	aggregations      *prometheus.CounterVec
	peerShortfall     prometheus.Counter
	gradebookFailures prometheus.Counter
	trainingVerdicts  *prometheus.CounterVec
	finalScores       *prometheus.HistogramVec
	executionLatency  *prometheus.HistogramVec
	operationCounter  *prometheus.CounterVec
	systemGauges      *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and registers all
// metrics with reg. A nil reg registers with the default registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		aggregations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregations_total",
				Help:      "Aggregated grade recomputations by timing and triggering rater type.",
			},
			[]string{"timing", "trigger"},
		),
		peerShortfall: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "peer_shortfall_total",
				Help:      "Peer edges that could not be assigned after the repair pass.",
			},
		),
		gradebookFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gradebook_push_failures_total",
				Help:      "Grade-book pushes that failed after all retries.",
			},
		),
		trainingVerdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "training_verdicts_total",
				Help:      "Training attempt verdicts by outcome.",
			},
			[]string{"status"},
		),
		finalScores: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "final_score",
				Help:      "Distribution of stored final scores.",
				Buckets:   prometheus.LinearBuckets(10, 10, 10),
			},
			[]string{"timing"},
		),

		executionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Execution time of engine operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of engine operations by outcome.",
			},
			[]string{"operation", "status"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_state",
				Help:      "Current engine state values.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, _ map[string]string) {
	pm.executionLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters. Unknown metrics are counted as operations, with the
// "status" label defaulting to "success".
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "aggregations_total":
		pm.aggregations.WithLabelValues(labelOr(labels, "timing"), labelOr(labels, "trigger")).Add(value)
	case "peer_shortfall_total":
		pm.peerShortfall.Add(value)
	case "gradebook_push_failures_total":
		pm.gradebookFailures.Add(value)
	case "training_verdicts_total":
		pm.trainingVerdicts.WithLabelValues(labelOr(labels, "status")).Add(value)
	default:
		status := labels["status"]
		if status == "" {
			status = "success"
		}
		pm.operationCounter.WithLabelValues(metric, status).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements the MetricsCollector interface. Final scores
// get their own histogram; everything else lands in the latency histogram.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	if metric == "final_score" {
		pm.finalScores.WithLabelValues(labelOr(labels, "timing")).Observe(value)
		return
	}
	pm.executionLatency.WithLabelValues(metric).Observe(value)
}

func labelOr(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
