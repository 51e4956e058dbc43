package bus

import (
	"context"

	"civitas/internal/signal"
)

type causeKey struct{}

// WithCause records the signal being delivered. The bus sets it on every
// handler context so derived signals can carry its id as correlation id.
func WithCause(ctx context.Context, sig signal.Signal) context.Context {
	return context.WithValue(ctx, causeKey{}, sig)
}

// Cause returns the signal whose delivery produced ctx, if any.
func Cause(ctx context.Context) (signal.Signal, bool) {
	if ctx == nil {
		return signal.Signal{}, false
	}
	sig, ok := ctx.Value(causeKey{}).(signal.Signal)
	return sig, ok
}
