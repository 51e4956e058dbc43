package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "civitas:ratelimit:"

// slidingWindow trims the sorted set to the window, then admits the request
// when there is room. Returns {allowed, count, oldest score in ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[5])
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, ARGV[1], ARGV[4])
	redis.call('PEXPIRE', key, ARGV[2])
	count = count + 1
	allowed = 1
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = tonumber(ARGV[1])
if oldest[2] then
	first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// Redis shares one sliding window per key across processes.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

type RedisOption func(*Redis)

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRedis(client *redis.Client, limit int, window time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		limit:  limit,
		window: window,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Allow(ctx context.Context, key string) (Result, error) {
	now := r.now()
	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	vals, err := slidingWindow.Run(ctx, r.client, []string{r.prefix + key},
		nowMs, r.window.Milliseconds(), r.limit, member, nowMs-r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, vals)
	}

	allowed, count, oldest := vals[0] == 1, int(vals[1]), vals[2]
	resetAt := time.UnixMilli(oldest).Add(r.window)
	res := Result{
		Allowed: allowed,
		Limit:   r.limit,
		ResetAt: resetAt,
	}
	if allowed {
		res.Remaining = r.limit - count
	} else {
		res.RetryAfter = retryAfter(resetAt, now)
	}
	return res, nil
}
