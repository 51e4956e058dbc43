package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is a sliding-window limiter for a single process. Windows slide, so
// a burst straddling a boundary cannot double the limit.
type Memory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string][]time.Time
}

type MemoryOption func(*Memory)

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(limit int, window time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Allow(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	hits := prune(m.windows[key], now.Add(-m.window))

	if len(hits) >= m.limit {
		m.windows[key] = hits
		resetAt := hits[0].Add(m.window)
		return Result{
			Limit:      m.limit,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(resetAt, now),
		}, nil
	}

	hits = append(hits, now)
	m.windows[key] = hits
	return Result{
		Allowed:   true,
		Limit:     m.limit,
		Remaining: m.limit - len(hits),
		ResetAt:   hits[0].Add(m.window),
	}, nil
}

// Reset forgets every hit recorded for key.
func (m *Memory) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, key)
}

// prune drops timestamps at or before cutoff. hits is sorted.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(hits); i++ {
		if hits[i].After(cutoff) {
			break
		}
	}
	return hits[i:]
}
