package testutil

import (
	"context"
	"sync"

	"civitas/internal/bus"
	"civitas/internal/signal"
)

// Recorder captures every signal dispatched on a bus, in delivery order.
type Recorder struct {
	mu      sync.Mutex
	signals []signal.Signal
	sub     *bus.Subscription
}

// Record subscribes a Recorder to every signal on b.
func Record(b *bus.Bus) *Recorder {
	r := &Recorder{}
	r.sub = b.Subscribe(signal.Wildcard, r)
	return r
}

func (r *Recorder) HandleSignal(_ context.Context, sig signal.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	return nil
}

// Stop detaches the recorder from the bus.
func (r *Recorder) Stop() {
	r.sub.Unsubscribe()
}

// All returns a copy of every recorded signal.
func (r *Recorder) All() []signal.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signal.Signal, len(r.signals))
	copy(out, r.signals)
	return out
}

// Types returns the recorded signal types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.signals))
	for _, sig := range r.signals {
		out = append(out, sig.Type)
	}
	return out
}

// OfType returns the recorded signals with the given type.
func (r *Recorder) OfType(typ string) []signal.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []signal.Signal
	for _, sig := range r.signals {
		if sig.Type == typ {
			out = append(out, sig)
		}
	}
	return out
}

// Last returns the most recent signal with the given type.
func (r *Recorder) Last(typ string) (signal.Signal, bool) {
	matches := r.OfType(typ)
	if len(matches) == 0 {
		return signal.Signal{}, false
	}
	return matches[len(matches)-1], true
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = nil
}
