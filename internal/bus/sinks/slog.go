// Package sinks holds monitor tap destinations for the signal bus.
package sinks

import (
	"context"
	"log/slog"

	"civitas/internal/signal"
)

// Slog writes one structured line per signal. Reflex signals are logged at
// info level so they stand out in a debug-level stream; everything else is
// debug.
type Slog struct {
	logger *slog.Logger
}

func NewSlog(logger *slog.Logger) *Slog {
	return &Slog{logger: logger}
}

func (s *Slog) Observe(ctx context.Context, sig signal.Signal) error {
	level := slog.LevelDebug
	if sig.Priority == signal.PriorityReflex {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "signal",
		"signal_type", sig.Type,
		"signal_id", sig.ID,
		"signal_source", sig.Source,
		"priority", string(sig.Priority),
		"confidence", sig.Confidence,
		"correlation_id", sig.CorrelationID,
	)
	return nil
}
