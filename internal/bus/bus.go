// Package bus is the in-process signal dispatcher.
//
// Dispatch is synchronous: handlers subscribed to the exact type run first in
// registration order, then wildcard handlers in registration order, all on the
// caller's goroutine before Dispatch returns. A handler that wants to do slow
// work starts its own continuation (see internal/actor); the bus never awaits
// it. Handler errors and panics are contained per handler and reported to the
// diagnostics sink.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"civitas/internal/platform/logger"
	"civitas/internal/platform/metrics"
	"civitas/internal/signal"
)

var (
	// ErrEmptyType is reported when a signal without a routing key is dispatched.
	ErrEmptyType = errors.New("signal type is empty")
	// ErrWildcardType is reported when a signal is dispatched on the wildcard key.
	ErrWildcardType = errors.New("signal type must not be the wildcard key")
)

// Bus routes signals to subscribers and keeps a bounded recent-activity log.
// Build one per process and pass it to every actor.
type Bus struct {
	mu       sync.Mutex
	subs     map[string][]*Subscription
	activity *activityLog
	total    int

	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics
	diag       Diagnostics
	middleware []Middleware
	monitor    Sink

	dispatch Dispatcher
}

type Option func(*Bus)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithCapacity sets the size of the recent-activity log.
func WithCapacity(n int) Option {
	return func(b *Bus) {
		b.activity = newActivityLog(n)
	}
}

// WithClock overrides the time source used to complete signals.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		b.now = now
	}
}

// WithDiagnostics replaces the default log-and-count diagnostics sink.
func WithDiagnostics(d Diagnostics) Option {
	return func(b *Bus) {
		b.diag = d
	}
}

// WithMiddleware appends interceptors to the dispatch chain. The chain is
// fixed once New returns.
func WithMiddleware(mw ...Middleware) Option {
	return func(b *Bus) {
		b.middleware = append(b.middleware, mw...)
	}
}

// WithMonitor installs the monitor tap. Only one tap is ever active: a later
// WithMonitor replaces an earlier one.
func WithMonitor(sink Sink) Option {
	return func(b *Bus) {
		b.monitor = sink
	}
}

// New constructs a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:     make(map[string][]*Subscription),
		activity: newActivityLog(DefaultActivityCapacity),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Discard()
	}
	if b.diag == nil {
		b.diag = NewLogDiagnostics(b.logger, b.metrics)
	}

	d := Dispatcher(b.deliver)
	for i := len(b.middleware) - 1; i >= 0; i-- {
		d = b.middleware[i](d)
	}
	if b.monitor != nil {
		d = b.tap(b.monitor)(d)
	}
	b.dispatch = d
	return b
}

// Subscribe registers h for signals of type typ (signal.Wildcard for every
// signal). Subscribing a handler value that is already registered for typ
// returns the existing subscription.
func (b *Bus) Subscribe(typ string, h Handler) *Subscription {
	typ = strings.TrimSpace(typ)
	if typ == "" || h == nil {
		b.logger.Warn("ignoring invalid subscription", "signal_type", typ, "nil_handler", h == nil)
		return &Subscription{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.subs[typ] {
		if sameHandler(existing.handler, h) {
			return existing
		}
	}

	sub := &Subscription{bus: b, typ: typ, handler: h}
	sub.active.Store(true)
	b.subs[typ] = append(b.subs[typ], sub)
	b.total++
	b.metrics.SetSubscriptions(b.total)
	return sub
}

// SubscribeFunc is Subscribe for a plain function.
func (b *Bus) SubscribeFunc(typ string, fn func(ctx context.Context, sig signal.Signal) error) *Subscription {
	if fn == nil {
		return b.Subscribe(typ, nil)
	}
	return b.Subscribe(typ, HandlerFunc(fn))
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.typ]
	idx := slices.Index(list, sub)
	if idx < 0 {
		return
	}
	list = slices.Delete(list, idx, idx+1)
	if len(list) == 0 {
		delete(b.subs, sub.typ)
	} else {
		b.subs[sub.typ] = list
	}
	b.total--
	b.metrics.SetSubscriptions(b.total)
}

// Dispatch completes sig (id, timestamp, priority) and delivers it. It never
// fails from the caller's point of view; rejected signals, handler faults and
// unrouted types are reported to the diagnostics sink.
func (b *Bus) Dispatch(ctx context.Context, sig signal.Signal) {
	if ctx == nil {
		ctx = context.Background()
	}
	sig.Type = strings.TrimSpace(sig.Type)
	switch sig.Type {
	case "":
		b.diag.Rejected(ctx, sig, ErrEmptyType)
		return
	case signal.Wildcard:
		b.diag.Rejected(ctx, sig, ErrWildcardType)
		return
	}

	b.dispatch(ctx, sig.Complete(b.now()))
}

// Emit is shorthand for dispatching a new signal built from its parts.
func (b *Bus) Emit(ctx context.Context, typ, source string, payload any) {
	b.Dispatch(ctx, signal.New(typ, source, payload))
}

// deliver is the terminal Dispatcher: log, then fan out.
func (b *Bus) deliver(ctx context.Context, sig signal.Signal) {
	start := time.Now()

	b.mu.Lock()
	b.activity.push(sig)
	typed := slices.Clone(b.subs[sig.Type])
	wildcard := slices.Clone(b.subs[signal.Wildcard])
	b.mu.Unlock()

	if len(typed) == 0 {
		b.diag.Unrouted(ctx, sig)
	}

	hctx := WithCause(ctx, sig)
	for _, sub := range typed {
		b.invoke(hctx, sub, sig)
	}
	for _, sub := range wildcard {
		b.invoke(hctx, sub, sig)
	}

	b.metrics.IncDispatched(sig.Type)
	b.metrics.ObserveDispatch(time.Since(start))
}

func (b *Bus) invoke(ctx context.Context, sub *Subscription, sig signal.Signal) {
	// A handler earlier in this dispatch may have disposed this one.
	if !sub.Active() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.diag.HandlerFault(ctx, sig, Fault{
				SubscriptionType: sub.typ,
				Err:              fmt.Errorf("handler panic: %v", r),
				Panicked:         true,
				Stack:            debug.Stack(),
			})
		}
	}()
	if err := sub.handler.HandleSignal(ctx, sig); err != nil {
		b.diag.HandlerFault(ctx, sig, Fault{SubscriptionType: sub.typ, Err: err})
	}
}

// RecentActivity returns a copy of the activity log, most recent first.
func (b *Bus) RecentActivity() []signal.Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activity.snapshot()
}

// Evicted returns how many signals have fallen out of the activity log.
func (b *Bus) Evicted() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activity.evicted
}

// SubscriberCount returns the number of handlers registered for typ.
func (b *Bus) SubscriberCount(typ string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[typ])
}

// SubscriptionsCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionsCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Types returns the routing keys that currently have subscribers, sorted.
func (b *Bus) Types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for typ := range b.subs {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}
