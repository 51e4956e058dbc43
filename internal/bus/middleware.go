package bus

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"civitas/internal/signal"
)

// Dispatcher delivers a completed signal.
type Dispatcher func(ctx context.Context, sig signal.Signal)

// Middleware intercepts dispatch. It receives completed signals and must call
// next to let delivery continue.
type Middleware func(next Dispatcher) Dispatcher

const tracerName = "civitas/internal/bus"

// Tracing opens one span per dispatched signal. A nil tracer uses the global
// OpenTelemetry provider.
func Tracing(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return func(next Dispatcher) Dispatcher {
		return func(ctx context.Context, sig signal.Signal) {
			ctx, span := tracer.Start(ctx, "signal "+sig.Type,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("signal.id", sig.ID),
					attribute.String("signal.type", sig.Type),
					attribute.String("signal.source", sig.Source),
					attribute.String("signal.priority", string(sig.Priority)),
					attribute.Float64("signal.confidence", sig.Confidence),
				),
			)
			defer span.End()
			if sig.CorrelationID != "" {
				span.SetAttributes(attribute.String("signal.correlation_id", sig.CorrelationID))
			}
			next(ctx, sig)
		}
	}
}
