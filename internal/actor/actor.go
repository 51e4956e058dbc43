// Package actor is the reusable half of every stateful unit on the bus.
//
// A concrete actor embeds *Base[S], declares its subscriptions from the
// initialize hook passed to Start, and talks to the rest of the process only
// through Emit. State is private to the actor; other components observe
// outcomes through emitted signals.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"dario.cat/mergo"

	"civitas/internal/bus"
	"civitas/internal/platform/logger"
	"civitas/internal/platform/metrics"
	"civitas/internal/signal"
	dErrors "civitas/pkg/domain-errors"
)

// Actor is what the hosting process needs to manage an actor's lifetime.
type Actor interface {
	Name() string
	Alive() bool
	Kill()
	Wait()
}

// ListenFunc handles a signal delivered to an actor. Payload is the raw
// signal payload; sig carries the metadata (id, correlation id, priority).
type ListenFunc func(ctx context.Context, payload any, sig signal.Signal) error

// InvalidFunc is called when a payload fails to decode or validate.
type InvalidFunc func(ctx context.Context, sig signal.Signal, err error)

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	onInvalid InvalidFunc
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithInvalidPayload sets the callback for intents whose payload is missing
// required fields. Actors use it to emit their *_ERROR signal.
func WithInvalidPayload(fn InvalidFunc) Option {
	return func(o *options) {
		o.onInvalid = fn
	}
}

// Base carries the bus binding, private state, subscriptions and lifetime of
// one actor.
type Base[S any] struct {
	name    string
	bus     *bus.Bus
	logger  *slog.Logger
	metrics *metrics.Metrics

	onInvalid InvalidFunc

	stateMu sync.RWMutex
	state   S

	subsMu sync.Mutex
	subs   []*bus.Subscription

	started  atomic.Bool
	alive    atomic.Bool
	killOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// NewBase binds a new actor named name to b with the given initial state.
// The actor is inert until Start runs its initialize hook.
func NewBase[S any](b *bus.Bus, name string, initial S, opts ...Option) *Base[S] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Base[S]{
		name:      name,
		bus:       b,
		logger:    o.logger.With("actor", name),
		metrics:   o.metrics,
		onInvalid: o.onInvalid,
		state:     initial,
		ctx:       ctx,
		cancel:    cancel,
	}
	return a
}

// Start marks the actor alive and runs initialize once. Subscriptions and
// rehydration belong in initialize.
func (a *Base[S]) Start(initialize func()) {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	a.alive.Store(true)
	if initialize != nil {
		initialize()
	}
	a.logger.Debug("actor started", "subscriptions", a.subscriptionCount())
}

func (a *Base[S]) Name() string { return a.name }

func (a *Base[S]) Logger() *slog.Logger { return a.logger }

// Alive reports whether the actor has started and not been killed. In-flight
// continuations must check it before acting on their results.
func (a *Base[S]) Alive() bool { return a.alive.Load() }

// Context is cancelled when the actor is killed.
func (a *Base[S]) Context() context.Context { return a.ctx }

// Listen subscribes fn to typ through the bus. The subscription is released
// by Kill. Listening on a dead actor is a no-op.
func (a *Base[S]) Listen(typ string, fn ListenFunc) {
	if !a.Alive() {
		return
	}
	sub := a.bus.Subscribe(typ, bus.HandlerFunc(func(ctx context.Context, sig signal.Signal) error {
		if !a.Alive() {
			return nil
		}
		return fn(ctx, sig.Payload, sig)
	}))

	a.subsMu.Lock()
	a.subs = append(a.subs, sub)
	a.subsMu.Unlock()
}

// On subscribes a handler that receives the payload decoded as P. Payloads
// that fail to decode or validate go to the actor's invalid-payload callback
// and never surface as handler faults.
func On[P any, S any](a *Base[S], typ string, fn func(ctx context.Context, payload P, sig signal.Signal) error) {
	a.Listen(typ, func(ctx context.Context, _ any, sig signal.Signal) error {
		payload, err := signal.Decode[P](sig)
		if err != nil {
			var de *dErrors.Error
			if !errors.As(err, &de) {
				err = dErrors.Wrap(err, dErrors.CodeValidation, "malformed "+sig.Type+" payload")
			}
			a.invalid(ctx, sig, err)
			return nil
		}
		return fn(ctx, payload, sig)
	})
}

// Record counts one collaborator operation outcome ("success", "error",
// "rejected") for this actor.
func (a *Base[S]) Record(outcome string) {
	a.metrics.IncActorOperation(a.name, outcome)
}

func (a *Base[S]) invalid(ctx context.Context, sig signal.Signal, err error) {
	a.Record("rejected")
	if a.onInvalid != nil {
		a.onInvalid(ctx, sig, err)
		return
	}
	a.logger.WarnContext(ctx, "invalid signal payload",
		"signal_type", sig.Type,
		"signal_id", sig.ID,
		"error", err,
	)
}

// EmitOption adjusts a signal built by Emit.
type EmitOption func(*signal.Signal)

func WithPriority(p signal.Priority) EmitOption {
	return func(s *signal.Signal) {
		s.Priority = p
	}
}

func WithConfidence(c float64) EmitOption {
	return func(s *signal.Signal) {
		s.Confidence = c
	}
}

// WithCorrelation overrides the correlation id Emit derives from ctx.
func WithCorrelation(id string) EmitOption {
	return func(s *signal.Signal) {
		s.CorrelationID = id
	}
}

// Emit dispatches a signal with this actor as source. Confidence defaults to
// 1.0 and priority to cognitive. When ctx was produced by a bus delivery the
// triggering signal's id becomes the correlation id. A killed actor emits
// nothing.
func (a *Base[S]) Emit(ctx context.Context, typ string, payload any, opts ...EmitOption) {
	if !a.Alive() {
		a.logger.Debug("dropping emit from inactive actor", "signal_type", typ)
		return
	}
	sig := signal.New(typ, a.name, payload)
	if cause, ok := bus.Cause(ctx); ok {
		sig.CorrelationID = cause.ID
	}
	for _, opt := range opts {
		opt(&sig)
	}
	a.bus.Dispatch(ctx, sig)
}

// State returns a copy of the current state.
func (a *Base[S]) State() S {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

// SetState merges partial into the current state one level deep: every
// non-zero top-level field of partial replaces the current value wholesale,
// so nested structs, maps and pointers are never combined field by field.
// Zero values in partial never overwrite; use UpdateState or ReplaceState to
// clear a field. No signal is emitted.
func (a *Base[S]) SetState(partial S) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	next := a.state
	top := shallow{root: reflect.TypeOf(next)}
	if err := mergo.Merge(&next, partial, mergo.WithOverride, mergo.WithTransformers(top)); err != nil {
		return fmt.Errorf("merge %s state: %w", a.name, err)
	}
	a.state = next
	return nil
}

// shallow stops mergo from descending below the state's own fields.
type shallow struct {
	root reflect.Type
}

func (t shallow) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ == t.root {
		return nil
	}
	switch typ.Kind() {
	case reflect.Struct, reflect.Map, reflect.Pointer, reflect.Slice, reflect.Interface:
		return func(dst, src reflect.Value) error {
			if dst.CanSet() && !src.IsZero() {
				dst.Set(src)
			}
			return nil
		}
	}
	return nil
}

// UpdateState applies fn to the state under the state lock.
func (a *Base[S]) UpdateState(fn func(*S)) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	fn(&a.state)
}

// ReplaceState swaps the whole state.
func (a *Base[S]) ReplaceState(s S) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.state = s
}

// GoOption adjusts a continuation started with Go.
type GoOption func(*continuation)

type continuation struct {
	onPanic func(ctx context.Context, err error)
}

// OnPanic runs fn with an internal error when the continuation panics, so
// the actor can roll back its bookkeeping and answer the intent. It is not
// called once the actor has been killed.
func OnPanic(fn func(ctx context.Context, err error)) GoOption {
	return func(c *continuation) {
		c.onPanic = fn
	}
}

// Go runs fn as an asynchronous continuation. fn keeps the values of ctx
// (cause, trace) but not its cancellation; it is cancelled when the actor is
// killed instead. Panics are recovered, logged and handed to OnPanic.
func (a *Base[S]) Go(ctx context.Context, fn func(ctx context.Context), opts ...GoOption) {
	if !a.Alive() {
		return
	}
	var c continuation
	for _, opt := range opts {
		opt(&c)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(a.ctx, cancel)

	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		defer cancel()
		defer stop()
		defer func() {
			if r := recover(); r != nil {
				a.logger.ErrorContext(runCtx, "actor continuation panic", "error", fmt.Sprint(r))
				a.recovered(runCtx, c.onPanic, r)
			}
		}()
		fn(runCtx)
	}()
}

func (a *Base[S]) recovered(ctx context.Context, onPanic func(context.Context, error), r any) {
	if onPanic == nil || !a.Alive() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorContext(ctx, "actor panic handler panic", "error", fmt.Sprint(r))
		}
	}()
	onPanic(ctx, dErrors.Newf(dErrors.CodeInternal, "%s continuation failed: %v", a.name, r))
}

// Wait blocks until every continuation started with Go has returned.
func (a *Base[S]) Wait() {
	a.inflight.Wait()
}

// Kill releases every subscription and cancels in-flight continuations. The
// actor never emits again. Calling Kill twice is a no-op.
func (a *Base[S]) Kill() {
	a.killOnce.Do(func() {
		a.alive.Store(false)
		a.cancel()

		a.subsMu.Lock()
		subs := a.subs
		a.subs = nil
		a.subsMu.Unlock()

		for _, sub := range subs {
			sub.Unsubscribe()
		}
		a.logger.Debug("actor killed", "released", len(subs))
	})
}

func (a *Base[S]) subscriptionCount() int {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	return len(a.subs)
}
