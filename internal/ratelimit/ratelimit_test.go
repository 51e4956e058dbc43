package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// limiterContract runs against every Limiter implementation.
type limiterContract struct {
	suite.Suite
	clock   *clock
	limiter Limiter
}

func (s *limiterContract) newClock() *clock {
	return &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *limiterContract) TestAdmitsUpToLimit() {
	ctx := context.Background()
	for i := 3; i > 0; i-- {
		res, err := s.limiter.Allow(ctx, "1.2.3.4")
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(i-1, res.Remaining)
		s.Equal(3, res.Limit)
	}

	res, err := s.limiter.Allow(ctx, "1.2.3.4")
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(60, res.RetryAfter)
	s.Equal(s.clock.t.Add(time.Minute).Unix(), res.ResetAt.Unix())

	other, err := s.limiter.Allow(ctx, "5.6.7.8")
	s.Require().NoError(err)
	s.True(other.Allowed, "keys are independent")
}

func (s *limiterContract) TestWindowSlides() {
	ctx := context.Background()
	for range 3 {
		_, err := s.limiter.Allow(ctx, "k")
		s.Require().NoError(err)
		s.clock.advance(20 * time.Second)
	}
	// The first hit is now 60s old and falls out of the window.
	res, err := s.limiter.Allow(ctx, "k")
	s.Require().NoError(err)
	s.True(res.Allowed)

	res, err = s.limiter.Allow(ctx, "k")
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(20, res.RetryAfter)
}

type MemorySuite struct{ limiterContract }

func TestMemorySuite(t *testing.T) {
	suite.Run(t, new(MemorySuite))
}

func (s *MemorySuite) SetupTest() {
	s.clock = s.newClock()
	s.limiter = NewMemory(3, time.Minute, WithClock(s.clock.now))
}

func (s *MemorySuite) TestReset() {
	m := s.limiter.(*Memory)
	for range 3 {
		_, _ = m.Allow(context.Background(), "k")
	}
	m.Reset("k")
	res, err := m.Allow(context.Background(), "k")
	s.Require().NoError(err)
	s.True(res.Allowed)
}

type RedisSuite struct {
	limiterContract
	mr     *miniredis.Miniredis
	client *redis.Client
}

func TestRedisSuite(t *testing.T) {
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.T().Cleanup(func() { _ = s.client.Close() })
	s.clock = s.newClock()
	s.limiter = NewRedis(s.client, 3, time.Minute, WithRedisClock(s.clock.now), WithKeyPrefix("test:"))
}

func (s *RedisSuite) TestKeysArePrefixed() {
	_, err := s.limiter.Allow(context.Background(), "9.9.9.9")
	s.Require().NoError(err)
	s.True(s.mr.Exists("test:9.9.9.9"))
}

func (s *RedisSuite) TestBackendDown() {
	s.Require().NoError(s.client.Close())
	_, err := s.limiter.Allow(context.Background(), "k")
	s.Error(err)
}

type stubLimiter struct {
	res Result
	err error
}

func (l stubLimiter) Allow(context.Context, string) (Result, error) { return l.res, l.err }

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	reset := time.Unix(1_800_000_000, 0)

	t.Run("allowed requests pass with headers", func(t *testing.T) {
		h := Middleware(stubLimiter{res: Result{Allowed: true, Limit: 10, Remaining: 9, ResetAt: reset}}, nil)(ok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/signals", nil))

		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, "10", rr.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "9", rr.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "1800000000", rr.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("exceeded requests get 429", func(t *testing.T) {
		h := Middleware(stubLimiter{res: Result{Limit: 10, ResetAt: reset, RetryAfter: 7}}, nil)(ok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/signals", nil))

		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, "7", rr.Header().Get("Retry-After"))
		assert.JSONEq(t, `{"error":"rate_limited","error_description":"too many signals from this client, try again later","retry_after":7}`, rr.Body.String())
	})

	t.Run("limiter errors fail open", func(t *testing.T) {
		h := Middleware(stubLimiter{err: errors.New("redis down")}, nil)(ok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/signals", nil))
		require.Equal(t, http.StatusAccepted, rr.Code)
	})
}
