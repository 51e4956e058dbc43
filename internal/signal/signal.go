// Package signal defines the immutable event value exchanged on the bus.
//
// A Signal is created by whoever calls Dispatch, completed by the bus (id,
// timestamp, default priority) and then only ever copied. Routing is done on
// Type, which is an open string key: any package may introduce new types.
package signal

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Wildcard is the routing key of subscribers that receive every signal.
const Wildcard = "*"

// Priority is informational at the bus layer. It never reorders delivery;
// subscribers and the monitor tap may apply their own policy to it.
type Priority string

const (
	// PriorityReflex marks latency-critical, user-interaction originated signals.
	PriorityReflex Priority = "reflex"
	// PriorityCognitive is the default business-rule processing priority.
	PriorityCognitive Priority = "cognitive"
	// PriorityDream marks background, best-effort work.
	PriorityDream Priority = "dream"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityReflex, PriorityCognitive, PriorityDream:
		return true
	}
	return false
}

// Signal is an event routed through the bus.
type Signal struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	Payload       any       `json:"payload,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Priority      Priority  `json:"priority"`
	Confidence    float64   `json:"confidence"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// New builds an uncompleted signal. The bus assigns id and timestamp.
func New(typ, source string, payload any) Signal {
	return Signal{
		Type:       typ,
		Source:     source,
		Payload:    payload,
		Priority:   PriorityCognitive,
		Confidence: 1.0,
	}
}

// IsComplete reports whether the signal carries an id and a timestamp.
func (s Signal) IsComplete() bool {
	return s.ID != "" && !s.Timestamp.IsZero()
}

// Complete returns a copy of s with missing id, timestamp and priority filled
// in. Values supplied by the caller are preserved. Confidence is clamped to
// [0, 1] and a NaN becomes 1.0; a zero confidence is kept as given, because 0
// is a legal value. Build signals with New to get the 1.0 default.
func (s Signal) Complete(now time.Time) Signal {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	if !s.Priority.Valid() {
		s.Priority = PriorityCognitive
	}
	if math.IsNaN(s.Confidence) {
		s.Confidence = 1
	}
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		s.Confidence = 1
	}
	return s
}
