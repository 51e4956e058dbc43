package bus

import (
	"context"
	"log/slog"

	"civitas/internal/platform/metrics"
	"civitas/internal/signal"
)

// Fault describes a subscriber failure caught during dispatch.
type Fault struct {
	SubscriptionType string
	Err              error
	Panicked         bool
	Stack            []byte
}

// Diagnostics receives everything the bus swallows on behalf of its callers.
// Implementations must not panic and must not dispatch.
type Diagnostics interface {
	HandlerFault(ctx context.Context, sig signal.Signal, fault Fault)
	Unrouted(ctx context.Context, sig signal.Signal)
	Rejected(ctx context.Context, sig signal.Signal, err error)
}

// LogDiagnostics logs through slog and counts through Prometheus.
type LogDiagnostics struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewLogDiagnostics(logger *slog.Logger, m *metrics.Metrics) *LogDiagnostics {
	return &LogDiagnostics{logger: logger, metrics: m}
}

func (d *LogDiagnostics) HandlerFault(ctx context.Context, sig signal.Signal, fault Fault) {
	d.metrics.IncHandlerFault(sig.Type)
	attrs := []any{
		"signal_type", sig.Type,
		"signal_id", sig.ID,
		"signal_source", sig.Source,
		"subscription", fault.SubscriptionType,
		"panicked", fault.Panicked,
		"error", fault.Err,
	}
	if fault.Panicked {
		attrs = append(attrs, "stack", string(fault.Stack))
	}
	d.logger.ErrorContext(ctx, "signal handler failed", attrs...)
}

func (d *LogDiagnostics) Unrouted(ctx context.Context, sig signal.Signal) {
	d.metrics.IncUnrouted()
	d.logger.WarnContext(ctx, "no subscribers for signal",
		"signal_type", sig.Type,
		"signal_id", sig.ID,
		"signal_source", sig.Source,
	)
}

func (d *LogDiagnostics) Rejected(ctx context.Context, sig signal.Signal, err error) {
	d.metrics.IncRejected()
	d.logger.WarnContext(ctx, "signal rejected",
		"signal_type", sig.Type,
		"signal_source", sig.Source,
		"error", err,
	)
}
