package bus

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"civitas/internal/signal"
)

// Handler receives completed signals. A returned error is reported to the
// bus diagnostics and never reaches the dispatcher's caller.
type Handler interface {
	HandleSignal(ctx context.Context, sig signal.Signal) error
}

// HandlerFunc adapts a function to Handler. Func values are not comparable,
// so every Subscribe call with a HandlerFunc creates a distinct entry.
type HandlerFunc func(ctx context.Context, sig signal.Signal) error

func (f HandlerFunc) HandleSignal(ctx context.Context, sig signal.Signal) error {
	return f(ctx, sig)
}

// Subscription is the disposer returned by Subscribe.
type Subscription struct {
	bus     *Bus
	typ     string
	handler Handler
	active  atomic.Bool
	once    sync.Once
}

// Type returns the routing key this subscription listens on.
func (s *Subscription) Type() string {
	if s == nil {
		return ""
	}
	return s.typ
}

// Active reports whether the subscription still receives signals.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

// Unsubscribe removes exactly this handler from exactly this type. Calling it
// again is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() {
		s.active.Store(false)
		s.bus.remove(s)
	})
}

// sameHandler compares handlers by reference when their dynamic type allows it.
func sameHandler(a, b Handler) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
