package middleware

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-peergrade/internal/ports"
)

func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusMetrics(reg), reg
}

// TestNewPrometheusMetrics verifies that every metric vector is initialized.
func TestNewPrometheusMetrics(t *testing.T) {
	pm, _ := newTestMetrics(t)

	assert.NotNil(t, pm.aggregations)
	assert.NotNil(t, pm.peerShortfall)
	assert.NotNil(t, pm.gradebookFailures)
	assert.NotNil(t, pm.trainingVerdicts)
	assert.NotNil(t, pm.finalScores)
	assert.NotNil(t, pm.executionLatency)
	assert.NotNil(t, pm.operationCounter)
	assert.NotNil(t, pm.systemGauges)

	var _ ports.MetricsCollector = pm
}

func TestPrometheusMetrics_RecordCounter(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordCounter("aggregations_total", 1, map[string]string{"timing": "before", "trigger": "peer"})
	pm.RecordCounter("aggregations_total", 2, map[string]string{"timing": "before", "trigger": "peer"})
	pm.RecordCounter("aggregations_total", 1, nil)
	pm.RecordCounter("peer_shortfall_total", 3, nil)
	pm.RecordCounter("gradebook_push_failures_total", 1, nil)
	pm.RecordCounter("training_verdicts_total", 1, map[string]string{"status": "passed"})
	pm.RecordCounter("grades_submitted", 1, nil)
	pm.RecordCounter("grades_submitted", 1, map[string]string{"status": "error"})

	tests := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"aggregations by label", pm.aggregations.WithLabelValues("before", "peer"), 3},
		{"aggregations without labels", pm.aggregations.WithLabelValues("unknown", "unknown"), 1},
		{"shortfall", pm.peerShortfall, 3},
		{"gradebook failures", pm.gradebookFailures, 1},
		{"training verdicts", pm.trainingVerdicts.WithLabelValues("passed"), 1},
		{"generic success", pm.operationCounter.WithLabelValues("grades_submitted", "success"), 1},
		{"generic error", pm.operationCounter.WithLabelValues("grades_submitted", "error"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testutil.ToFloat64(tt.collector))
		})
	}
}

func TestPrometheusMetrics_RecordGauge(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordGauge("cohort_size", 12, nil)
	pm.RecordGauge("cohort_size", 30, nil)

	assert.Equal(t, 30.0, testutil.ToFloat64(pm.systemGauges.WithLabelValues("cohort_size")))
}

func TestPrometheusMetrics_Histograms(t *testing.T) {
	pm, reg := newTestMetrics(t)

	pm.RecordLatency("aggregate", 150*time.Millisecond, nil)
	pm.RecordHistogram("final_score", 87, map[string]string{"timing": "before"})
	pm.RecordHistogram("final_score", 42, map[string]string{"timing": "after"})
	pm.RecordHistogram("batch_size", 4, nil)

	count, err := testutil.GatherAndCount(reg, "peergrade_final_score", "peergrade_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestPrometheusMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewPrometheusMetrics(prometheus.NewRegistry())
		NewPrometheusMetrics(prometheus.NewRegistry())
	})
}
