package signal

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Name string `json:"name"`
}

func (g greeting) Validate() error {
	if g.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func TestComplete(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("fills id, timestamp and priority", func(t *testing.T) {
		sig := Signal{Type: "A", Priority: "urgent", Confidence: 2}.Complete(now)

		assert.True(t, sig.IsComplete())
		assert.NotEmpty(t, sig.ID)
		assert.Equal(t, now, sig.Timestamp)
		assert.Equal(t, PriorityCognitive, sig.Priority)
		assert.Equal(t, 1.0, sig.Confidence)
	})

	t.Run("keeps caller supplied values", func(t *testing.T) {
		ts := now.Add(-time.Minute)
		sig := Signal{ID: "x", Type: "A", Timestamp: ts, Priority: PriorityDream, Confidence: 0.4}.Complete(now)

		assert.Equal(t, "x", sig.ID)
		assert.Equal(t, ts, sig.Timestamp)
		assert.Equal(t, PriorityDream, sig.Priority)
		assert.Equal(t, 0.4, sig.Confidence)
	})

	t.Run("confidence outside the range is normalised", func(t *testing.T) {
		assert.Equal(t, 1.0, Signal{Confidence: math.NaN()}.Complete(now).Confidence)
		assert.Equal(t, 1.0, Signal{Confidence: math.Inf(1)}.Complete(now).Confidence)
		assert.Equal(t, 0.0, Signal{Confidence: -0.5}.Complete(now).Confidence)
		assert.Equal(t, 0.0, Signal{Confidence: 0}.Complete(now).Confidence, "zero is a legal confidence")
	})

	t.Run("new signals default to full confidence", func(t *testing.T) {
		sig := New("A", "src", nil)
		assert.Equal(t, 1.0, sig.Confidence)
		assert.False(t, sig.IsComplete())
	})
}

func TestDecode(t *testing.T) {
	t.Run("accepts the value type", func(t *testing.T) {
		got, err := Decode[greeting](Signal{Type: "G", Payload: greeting{Name: "Ana"}})
		require.NoError(t, err)
		assert.Equal(t, "Ana", got.Name)
	})

	t.Run("accepts a pointer", func(t *testing.T) {
		got, err := Decode[greeting](Signal{Type: "G", Payload: &greeting{Name: "Ana"}})
		require.NoError(t, err)
		assert.Equal(t, "Ana", got.Name)
	})

	t.Run("converts wire payloads", func(t *testing.T) {
		for name, payload := range map[string]any{
			"raw message": json.RawMessage(`{"name":"Ana"}`),
			"bytes":       []byte(`{"name":"Ana"}`),
			"map":         map[string]any{"name": "Ana"},
		} {
			got, err := Decode[greeting](Signal{Type: "G", Payload: payload})
			require.NoError(t, err, name)
			assert.Equal(t, "Ana", got.Name, name)
		}
	})

	t.Run("runs validation", func(t *testing.T) {
		_, err := Decode[greeting](Signal{Type: "G", Payload: map[string]any{}})
		assert.EqualError(t, err, "name is required")

		_, err = Decode[greeting](Signal{Type: "G"})
		assert.Error(t, err)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		_, err := Decode[greeting](Signal{Type: "G", Payload: json.RawMessage(`{`)})
		assert.Error(t, err)
	})
}
