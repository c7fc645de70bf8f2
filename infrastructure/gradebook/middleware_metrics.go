package gradebook

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/go-peergrade/internal/domain"
	"github.com/ahrav/go-peergrade/internal/ports"
)

// Metric names emitted by the metrics middleware.
const (
	MetricPushes      = "gradebook_pushes_total"
	MetricPushLatency = "gradebook_push_seconds"
)

// metricsGradebook records push outcomes and latency.
type metricsGradebook struct {
	next      ports.Gradebook
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that collects push metrics.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next ports.Gradebook) ports.Gradebook {
		return &metricsGradebook{
			next:      next,
			collector: collector,
		}
	}
}

// PushGradebookScore forwards the push and records its outcome.
func (m *metricsGradebook) PushGradebookScore(ctx context.Context, student domain.ParticipantID, rawScore float64) error {
	start := time.Now()
	err := m.next.PushGradebookScore(ctx, student, rawScore)

	labels := map[string]string{"status": pushStatus(ctx, err)}
	if m.collector != nil {
		m.collector.RecordHistogram(MetricPushLatency, time.Since(start).Seconds(), labels)
		m.collector.RecordCounter(MetricPushes, 1, labels)
	}
	return err
}

func pushStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ports.ErrGradebookRejected):
		return "rejected"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}
