package bus

import (
	"context"
	"fmt"

	"civitas/internal/signal"
)

// Sink receives every dispatched signal when the monitor tap is installed.
// It must not retain or modify the payload.
type Sink interface {
	Observe(ctx context.Context, sig signal.Signal) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, sig signal.Signal) error

func (f SinkFunc) Observe(ctx context.Context, sig signal.Signal) error {
	return f(ctx, sig)
}

// tap wraps dispatch so the sink sees each signal before delivery. A failing
// or panicking sink is counted and logged; delivery always proceeds.
func (b *Bus) tap(sink Sink) Middleware {
	return func(next Dispatcher) Dispatcher {
		return func(ctx context.Context, sig signal.Signal) {
			b.observe(ctx, sink, sig)
			next(ctx, sig)
		}
	}
}

func (b *Bus) observe(ctx context.Context, sink Sink, sig signal.Signal) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.IncMonitorFailure()
			b.logger.ErrorContext(ctx, "monitor sink panic",
				"signal_type", sig.Type,
				"signal_id", sig.ID,
				"error", fmt.Sprint(r),
			)
		}
	}()
	if err := sink.Observe(ctx, sig); err != nil {
		b.metrics.IncMonitorFailure()
		b.logger.WarnContext(ctx, "monitor sink failed",
			"signal_type", sig.Type,
			"signal_id", sig.ID,
			"error", err,
		)
	}
}
