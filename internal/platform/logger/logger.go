package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns the process logger. Development mode writes human-readable text,
// everything else writes JSON lines.
func New(mode, level string) *slog.Logger {
	return NewWithWriter(os.Stdout, mode, level)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, mode, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(mode, "development") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Discard returns a logger that drops everything; components fall back to it
// when no logger is injected.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
