package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"

	"civitas/internal/platform/logger"
)

// Fetcher is the subset of *kgo.Client the consumer needs.
type Fetcher interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// NewKafkaClient builds a group consumer for the monitor topic. Offsets are
// committed manually once a batch is archived.
func NewKafkaClient(brokers []string, topic, group string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create archive consumer: %w", err)
	}
	return client, nil
}

// Metrics counts archiver progress. A nil *Metrics records nothing.
type Metrics struct {
	Archived  prometheus.Counter
	Malformed prometheus.Counter
	Retries   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Archived: f.NewCounter(prometheus.CounterOpts{
			Name: "civitas_archive_records_total",
			Help: "Total number of monitor records written to the archive",
		}),
		Malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "civitas_archive_malformed_total",
			Help: "Total number of monitor records skipped because they could not be decoded",
		}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "civitas_archive_store_retries_total",
			Help: "Total number of failed archive writes that were retried",
		}),
	}
}

func (m *Metrics) archived(n int) {
	if m == nil {
		return
	}
	m.Archived.Add(float64(n))
}

func (m *Metrics) malformed() {
	if m == nil {
		return
	}
	m.Malformed.Inc()
}

func (m *Metrics) retried() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// Consumer moves monitor records from Kafka into a Store.
type Consumer struct {
	client  Fetcher
	store   Store
	logger  *slog.Logger
	metrics *Metrics
	backoff func() backoff.BackOff
}

type ConsumerOption func(*Consumer)

func WithLogger(l *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = l
	}
}

func WithMetrics(m *Metrics) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = m
	}
}

// WithBackoff sets the retry policy for failed store writes.
func WithBackoff(policy func() backoff.BackOff) ConsumerOption {
	return func(c *Consumer) {
		c.backoff = policy
	}
}

func NewConsumer(client Fetcher, store Store, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		client: client,
		store:  store,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Discard()
	}
	return c
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.Poll(ctx)
		switch {
		case err == nil:
		case errors.Is(err, kgo.ErrClientClosed), ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}

// Poll archives one fetched batch and commits its offsets. Store failures are
// retried per the backoff policy so the batch is never skipped.
func (c *Consumer) Poll(ctx context.Context) error {
	fetches := c.client.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return kgo.ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fetches.EachError(func(topic string, partition int32, err error) {
		c.logger.WarnContext(ctx, "archive fetch error",
			"topic", topic,
			"partition", partition,
			"error", err,
		)
	})

	records := fetches.Records()
	if len(records) == 0 {
		return nil
	}
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		entry, err := Decode(r.Value)
		if err != nil {
			c.metrics.malformed()
			c.logger.WarnContext(ctx, "skipping monitor record",
				"topic", r.Topic,
				"partition", r.Partition,
				"offset", r.Offset,
				"error", err,
			)
			continue
		}
		entry.Partition = r.Partition
		entry.Offset = r.Offset
		entries = append(entries, entry)
	}

	if len(entries) > 0 {
		write := func() error {
			err := c.store.Append(ctx, entries...)
			if err != nil && ctx.Err() == nil {
				c.metrics.retried()
				c.logger.WarnContext(ctx, "archive write failed, retrying", "entries", len(entries), "error", err)
			}
			return err
		}
		if err := backoff.Retry(write, backoff.WithContext(c.backoff(), ctx)); err != nil {
			return fmt.Errorf("archive batch: %w", err)
		}
		c.metrics.archived(len(entries))
	}

	// A failed commit only means the batch is redelivered; Append skips
	// ids it already holds.
	if err := c.client.CommitRecords(ctx, records...); err != nil {
		c.logger.WarnContext(ctx, "archive offset commit failed", "records", len(records), "error", err)
	}
	return nil
}
