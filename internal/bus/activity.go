package bus

import "civitas/internal/signal"

// DefaultActivityCapacity is the number of recent signals the bus retains.
const DefaultActivityCapacity = 100

// activityLog is a bounded ring of completed signals. When full, the oldest
// entry is overwritten. It is not an audit trail. Guarded by Bus.mu.
type activityLog struct {
	entries  []signal.Signal
	head     int // next write position
	count    int
	capacity int
	evicted  int64
}

func newActivityLog(capacity int) *activityLog {
	if capacity <= 0 {
		capacity = DefaultActivityCapacity
	}
	return &activityLog{
		entries:  make([]signal.Signal, capacity),
		capacity: capacity,
	}
}

func (l *activityLog) push(sig signal.Signal) {
	if l.count == l.capacity {
		l.evicted++
	} else {
		l.count++
	}
	l.entries[l.head] = sig
	l.head = (l.head + 1) % l.capacity
}

// snapshot returns the retained signals, most recent first.
func (l *activityLog) snapshot() []signal.Signal {
	out := make([]signal.Signal, l.count)
	for i := 0; i < l.count; i++ {
		idx := (l.head - 1 - i + l.capacity) % l.capacity
		out[i] = l.entries[idx]
	}
	return out
}
