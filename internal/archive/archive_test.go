package archive_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"civitas/internal/archive"
	"civitas/internal/bus/sinks"
	"civitas/internal/signal"
	"civitas/pkg/testutil"
)

// fakeFetcher hands out queued batches, then reports the client closed.
type fakeFetcher struct {
	mu        sync.Mutex
	batches   [][]*kgo.Record
	committed []*kgo.Record
	commitErr error
}

func (f *fakeFetcher) PollFetches(context.Context) kgo.Fetches {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return kgo.Fetches{{Topics: []kgo.FetchTopic{{
			Topic:      "civitas.signals",
			Partitions: []kgo.FetchPartition{{Err: kgo.ErrClientClosed}},
		}}}}
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "civitas.signals",
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: batch}},
	}}}}
}

func (f *fakeFetcher) CommitRecords(_ context.Context, rs ...*kgo.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, rs...)
	return nil
}

// flakyStore fails the first n appends.
type flakyStore struct {
	*archive.Memory
	failures int
	calls    int
}

func (s *flakyStore) Append(ctx context.Context, entries ...archive.Entry) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("connection reset")
	}
	return s.Memory.Append(ctx, entries...)
}

func monitorRecord(t *testing.T, offset int64, id, typ, correlation string) *kgo.Record {
	t.Helper()
	value, err := json.Marshal(sinks.Record{
		ID:            id,
		Type:          typ,
		Source:        "identity",
		Timestamp:     time.Date(2026, 3, 1, 12, 0, int(offset), 0, time.UTC).Format(time.RFC3339Nano),
		Priority:      signal.PriorityCognitive,
		Confidence:    1,
		CorrelationID: correlation,
		Payload:       json.RawMessage(`{"userId":"u-1"}`),
	})
	require.NoError(t, err)
	return &kgo.Record{Topic: "civitas.signals", Key: []byte(typ), Value: value, Offset: offset}
}

type ConsumerSuite struct {
	suite.Suite
	fetcher *fakeFetcher
	store   *archive.Memory
	metrics *archive.Metrics
}

func (s *ConsumerSuite) SetupTest() {
	s.fetcher = &fakeFetcher{}
	s.store = archive.NewMemory()
	s.metrics = archive.NewMetrics(prometheus.NewRegistry())
}

func (s *ConsumerSuite) consumer(store archive.Store) *archive.Consumer {
	return archive.NewConsumer(s.fetcher, store,
		archive.WithMetrics(s.metrics),
		archive.WithBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
}

func (s *ConsumerSuite) TestArchivesAndCommits() {
	t := s.T()
	s.fetcher.batches = [][]*kgo.Record{
		{
			monitorRecord(t, 0, "sig-1", "IDENTITY:LOGIN_SUCCESS", "corr-1"),
			monitorRecord(t, 1, "sig-2", "SOCIAL:SEARCH", ""),
		},
		{monitorRecord(t, 2, "sig-3", "IDENTITY:LOGOUT", "corr-1")},
	}

	require.NoError(t, s.consumer(s.store).Run(context.Background()))

	s.Equal(3, s.store.Len())
	s.Len(s.fetcher.committed, 3)
	s.Equal(float64(3), promtest.ToFloat64(s.metrics.Archived))

	entries, err := s.store.List(context.Background(), archive.Query{CorrelationID: "corr-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	s.Equal("sig-3", entries[0].ID, "newest first")
	s.Equal(int64(2), entries[0].Offset)
	s.JSONEq(`{"userId":"u-1"}`, string(entries[0].Payload))
}

func (s *ConsumerSuite) TestSkipsMalformedRecords() {
	t := s.T()
	s.fetcher.batches = [][]*kgo.Record{{
		{Topic: "civitas.signals", Value: []byte("not json"), Offset: 0},
		{Topic: "civitas.signals", Value: []byte(`{"id":"","type":"X"}`), Offset: 1},
		monitorRecord(t, 2, "sig-1", "SOCIAL:FOLLOW", ""),
	}}

	require.NoError(t, s.consumer(s.store).Run(context.Background()))

	s.Equal(1, s.store.Len())
	s.Len(s.fetcher.committed, 3, "malformed records are committed too")
	s.Equal(float64(2), promtest.ToFloat64(s.metrics.Malformed))
}

func (s *ConsumerSuite) TestRetriesFailedWrites() {
	t := s.T()
	store := &flakyStore{Memory: s.store, failures: 2}
	s.fetcher.batches = [][]*kgo.Record{{monitorRecord(t, 0, "sig-1", "SOCIAL:FOLLOW", "")}}

	require.NoError(t, s.consumer(store).Run(context.Background()))

	s.Equal(3, store.calls)
	s.Equal(1, s.store.Len())
	s.Equal(float64(2), promtest.ToFloat64(s.metrics.Retries))
}

func (s *ConsumerSuite) TestGivesUpWhenPolicyStops() {
	t := s.T()
	store := &flakyStore{Memory: s.store, failures: 10}
	s.fetcher.batches = [][]*kgo.Record{{monitorRecord(t, 0, "sig-1", "SOCIAL:FOLLOW", "")}}

	c := archive.NewConsumer(s.fetcher, store, archive.WithBackoff(func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1)
	}))
	err := c.Run(context.Background())

	require.Error(t, err)
	s.Empty(s.fetcher.committed, "an unarchived batch is never committed")
}

func (s *ConsumerSuite) TestRedeliveryIsIdempotent() {
	t := s.T()
	rec := monitorRecord(t, 0, "sig-1", "SOCIAL:FOLLOW", "")
	s.fetcher.batches = [][]*kgo.Record{{rec}, {rec}}
	s.fetcher.commitErr = errors.New("rebalance in progress")

	require.NoError(t, s.consumer(s.store).Run(context.Background()))

	s.Equal(1, s.store.Len())
}

func (s *ConsumerSuite) TestStopsOnCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.fetcher.batches = [][]*kgo.Record{{monitorRecord(s.T(), 0, "sig-1", "SOCIAL:FOLLOW", "")}}

	s.NoError(s.consumer(s.store).Run(ctx))
	s.Zero(s.store.Len())
}

func TestConsumerSuite(t *testing.T) {
	suite.Run(t, new(ConsumerSuite))
}

func TestDecode(t *testing.T) {
	t.Run("rejects a bad timestamp", func(t *testing.T) {
		_, err := archive.Decode([]byte(`{"id":"a","type":"B","timestamp":"yesterday"}`))
		require.ErrorIs(t, err, archive.ErrMalformed)
	})
	t.Run("keeps an absent payload empty", func(t *testing.T) {
		e, err := archive.Decode([]byte(`{"id":"a","type":"B","timestamp":"2026-03-01T12:00:00Z","priority":"reflex"}`))
		require.NoError(t, err)
		assert.Empty(t, e.Payload)
		assert.Equal(t, signal.PriorityReflex, e.Priority)
	})
}

func TestRoutes(t *testing.T) {
	store := archive.NewMemory()
	require.NoError(t, store.Append(context.Background(),
		archive.Entry{ID: "a", Type: "IDENTITY:LOGIN_SUCCESS"},
		archive.Entry{ID: "b", Type: "SOCIAL:SEARCH"},
		archive.Entry{ID: "c", Type: "SOCIAL:SEARCH"},
	))
	h := archive.Routes(store)

	testutil.When(t, "filtering by type with a limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?type=SOCIAL:SEARCH&limit=1", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Signals []struct {
				ID string `json:"id"`
			} `json:"signals"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Signals, 1)
		assert.Equal(t, "c", body.Signals[0].ID)
	})

	testutil.When(t, "the limit is out of range", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?limit=0", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
