package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

const (
	outputText = "text"
	outputJSON = "json"
)

var (
	reflexColor    = color.New(color.FgRed, color.Bold)
	cognitiveColor = color.New(color.FgCyan)
	dreamColor     = color.New(color.Faint)
	failureColor   = color.New(color.FgYellow)
	dimColor       = color.New(color.Faint)
)

func priorityColor(sig SignalView) *color.Color {
	switch sig.Priority {
	case "reflex":
		return reflexColor
	case "dream":
		return dreamColor
	default:
		return cognitiveColor
	}
}

// printSignal writes one line per signal: time, priority, type, source and
// the raw payload. Failure types are highlighted regardless of priority.
func printSignal(w io.Writer, format string, sig SignalView) error {
	if format == outputJSON {
		b, err := json.Marshal(sig)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}

	typeColor := priorityColor(sig)
	if isFailure(sig.Type) {
		typeColor = failureColor
	}
	line := fmt.Sprintf("%s %-9s %s %s",
		dimColor.Sprint(sig.Timestamp.Format("15:04:05.000")),
		priorityColor(sig).Sprint(sig.Priority),
		typeColor.Sprint(sig.Type),
		dimColor.Sprintf("from %s", sig.Source),
	)
	if sig.CorrelationID != "" {
		line += dimColor.Sprintf(" corr=%s", sig.CorrelationID)
	}
	if len(sig.Payload) > 0 {
		line += " " + string(sig.Payload)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func isFailure(typ string) bool {
	return strings.HasSuffix(typ, ":ERROR") || strings.HasSuffix(typ, "_FAILURE")
}
