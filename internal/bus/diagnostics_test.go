package bus

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"civitas/internal/platform/logger"
	"civitas/internal/platform/metrics"
	"civitas/internal/signal"
)

func TestLogDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.New(prometheus.NewRegistry())
	b := New(
		WithLogger(logger.NewWithWriter(&buf, "production", "debug")),
		WithMetrics(m),
	)
	b.SubscribeFunc("FAULTY", func(context.Context, signal.Signal) error {
		return errors.New("handler exploded")
	})

	b.Emit(context.Background(), "FAULTY", "test", nil)
	b.Emit(context.Background(), "NOWHERE", "test", nil)
	b.Emit(context.Background(), "", "test", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlerFaults.WithLabelValues("FAULTY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsUnrouted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignalsRejected))
	assert.Contains(t, buf.String(), "handler exploded")
	assert.Contains(t, buf.String(), "no subscribers for signal")
	assert.Contains(t, buf.String(), "signal rejected")
}
