// Package archive persists the monitor topic for after-the-fact inspection.
//
// It runs as its own process (cmd/archiver) and consumes what the Kafka
// monitor sink produces. The bus itself stays in-memory: the archive is a
// diagnostics trail, never a replay source for actors.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"civitas/internal/bus/sinks"
	"civitas/internal/signal"
)

// ErrMalformed marks a record that cannot be decoded. Such records are logged
// and committed so they never block the partition.
var ErrMalformed = errors.New("malformed monitor record")

// Entry is one archived signal plus where it was read from.
type Entry struct {
	ID            string
	Type          string
	Source        string
	Timestamp     time.Time
	Priority      signal.Priority
	Confidence    float64
	CorrelationID string
	Payload       json.RawMessage

	Partition int32
	Offset    int64
}

// Store appends entries. Append must be idempotent on Entry.ID because the
// consumer redelivers everything after the last committed offset.
type Store interface {
	Append(ctx context.Context, entries ...Entry) error
}

// Query filters archived entries. Zero fields match everything.
type Query struct {
	Type          string
	CorrelationID string
	Limit         int
}

// DefaultQueryLimit caps List when Query.Limit is unset.
const DefaultQueryLimit = 100

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultQueryLimit
	}
	return q.Limit
}

// Decode parses a monitor record value.
func Decode(value []byte) (Entry, error) {
	var rec sinks.Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(rec.ID) == "" || strings.TrimSpace(rec.Type) == "" {
		return Entry{}, fmt.Errorf("%w: id and type are required", ErrMalformed)
	}
	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}
	return Entry{
		ID:            rec.ID,
		Type:          rec.Type,
		Source:        rec.Source,
		Timestamp:     ts.UTC(),
		Priority:      rec.Priority,
		Confidence:    rec.Confidence,
		CorrelationID: rec.CorrelationID,
		Payload:       rec.Payload,
	}, nil
}
