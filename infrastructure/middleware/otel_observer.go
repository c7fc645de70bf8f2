package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-peergrade/internal/ports"
)

// TracerName is the instrumentation scope of engine spans.
const TracerName = "github.com/ahrav/go-peergrade"

// OperationObserver provides observability hooks around engine operations.
// Implementations can add tracing, metrics, and logging without coupling
// observability concerns to grading logic.
type OperationObserver interface {
	// Observe starts observing operation. The returned function must be
	// called exactly once with the operation's outcome.
	Observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

var _ OperationObserver = (*OTelObserver)(nil)

// OTelObserver implements OperationObserver using OpenTelemetry tracing and
// a MetricsCollector. Each operation gets a span named "Engine.<operation>",
// a latency sample and a counter labelled with the outcome.
type OTelObserver struct {
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// NewOTelObserver creates an observer. A nil tp uses the global tracer
// provider; a nil metrics collector records nothing.
func NewOTelObserver(metrics ports.MetricsCollector, tp trace.TracerProvider) *OTelObserver {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &OTelObserver{
		metrics: metrics,
		tracer:  tp.Tracer(TracerName),
	}
}

// Observe implements OperationObserver.
func (o *OTelObserver) Observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "Engine."+operation, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		defer span.End()

		elapsed := time.Since(start)
		o.metrics.RecordLatency(operation, elapsed, nil)

		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.Int64("duration_ms", elapsed.Milliseconds()))
		o.metrics.RecordCounter(operation, 1, map[string]string{"status": status})
	}
}

// NopObserver observes nothing.
type NopObserver struct{}

// Observe implements OperationObserver.
func (NopObserver) Observe(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, func(error)) {
	return ctx, func(error) {}
}

var _ OperationObserver = NopObserver{}
