// Package ratelimit bounds how many signals one client may post per window.
package ratelimit

import (
	"context"
	"time"
)

// Result describes one limiter decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, set when not allowed
}

// Limiter counts one request against key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

func retryAfter(resetAt, now time.Time) int {
	secs := int(resetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
