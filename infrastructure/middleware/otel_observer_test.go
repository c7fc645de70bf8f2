package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"
)

// recordingMetrics captures counter and latency calls.
type recordingMetrics struct {
	mu        sync.Mutex
	counters  map[string]float64
	latencies map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: map[string]float64{}, latencies: map[string]int{}}
}

func (r *recordingMetrics) RecordLatency(op string, _ time.Duration, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies[op]++
}

func (r *recordingMetrics) RecordCounter(metric string, v float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[metric+"/"+labels["status"]] += v
}

func (r *recordingMetrics) RecordGauge(string, float64, map[string]string)     {}
func (r *recordingMetrics) RecordHistogram(string, float64, map[string]string) {}

func TestOTelObserver_RecordsOutcome(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus string
	}{
		{"success", nil, "success"},
		{"failure", errors.New("store down"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := newRecordingMetrics()
			obs := NewOTelObserver(metrics, noop.NewTracerProvider())

			ctx, finish := obs.Observe(context.Background(), "SubmitGrade", attribute.String("student", "s1"))
			assert.NotNil(t, ctx)
			finish(tt.err)

			assert.Equal(t, 1, metrics.latencies["SubmitGrade"])
			assert.Equal(t, 1.0, metrics.counters["SubmitGrade/"+tt.wantStatus])
		})
	}
}

func TestOTelObserver_NilDependencies(t *testing.T) {
	obs := NewOTelObserver(nil, nil)
	assert.NotPanics(t, func() {
		_, finish := obs.Observe(context.Background(), "RandomizePeers")
		finish(nil)
	})
}

type ctxKey struct{}

func TestNopObserver(t *testing.T) {
	ctx := context.WithValue(context.Background(), ctxKey{}, "v")
	got, finish := NopObserver{}.Observe(ctx, "op")
	assert.Equal(t, ctx, got)
	assert.NotPanics(t, func() { finish(errors.New("ignored")) })
}
