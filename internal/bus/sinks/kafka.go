package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"civitas/internal/signal"
	"civitas/pkg/platform/circuit"
)

// Producer is the subset of *kgo.Client the Kafka sink needs.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// Kafka ships every signal to a topic for out-of-process diagnostics.
// Produce is asynchronous, so the tap never waits on the broker.
type Kafka struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	breaker  *circuit.Breaker
	fallback fallbackSink
}

type fallbackSink interface {
	Observe(ctx context.Context, sig signal.Signal) error
}

type KafkaOption func(*Kafka)

// WithBreaker mirrors signals to fallback while the breaker is open, which
// happens after repeated delivery failures. Records are still produced so a
// recovered broker closes the breaker again.
func WithBreaker(b *circuit.Breaker, fallback fallbackSink) KafkaOption {
	return func(k *Kafka) {
		k.breaker = b
		k.fallback = fallback
	}
}

func NewKafka(producer Producer, topic string, logger *slog.Logger, opts ...KafkaOption) *Kafka {
	k := &Kafka{producer: producer, topic: topic, logger: logger}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// NewKafkaClient builds a franz-go client suitable for NewKafka.
func NewKafkaClient(brokers []string, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates topic when the cluster does not have it yet. Brokers
// with auto-creation disabled would otherwise drop every monitor record.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, partitions, -1, nil, topic)
	if err == nil {
		err = resp.Err
	}
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create kafka topic %s: %w", topic, err)
	}
	return nil
}

// Record is the wire shape of a monitored signal. The archiver decodes the
// same shape on the consuming side.
type Record struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     string          `json:"timestamp"`
	Priority      signal.Priority `json:"priority"`
	Confidence    float64         `json:"confidence"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

func (k *Kafka) Observe(ctx context.Context, sig signal.Signal) error {
	rec := Record{
		ID:            sig.ID,
		Type:          sig.Type,
		Source:        sig.Source,
		Timestamp:     sig.Timestamp.UTC().Format(time.RFC3339Nano),
		Priority:      sig.Priority,
		Confidence:    sig.Confidence,
		CorrelationID: sig.CorrelationID,
	}
	if sig.Payload != nil {
		payload, err := json.Marshal(sig.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of %s: %w", sig.Type, err)
		}
		rec.Payload = payload
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode signal %s: %w", sig.ID, err)
	}

	if k.degraded() {
		if err := k.fallback.Observe(ctx, sig); err != nil {
			return err
		}
	}

	k.producer.Produce(context.WithoutCancel(ctx), &kgo.Record{
		Topic:     k.topic,
		Key:       []byte(sig.Type),
		Value:     value,
		Timestamp: sig.Timestamp,
	}, k.produced)
	return nil
}

func (k *Kafka) degraded() bool {
	return k.breaker != nil && k.fallback != nil && k.breaker.IsOpen()
}

func (k *Kafka) produced(r *kgo.Record, err error) {
	if err != nil && k.logger != nil {
		k.logger.Warn("monitor record not delivered",
			"topic", r.Topic,
			"signal_type", string(r.Key),
			"error", err,
		)
	}
	if k.breaker == nil {
		return
	}
	if err != nil {
		if _, change := k.breaker.RecordFailure(); change.Opened && k.logger != nil {
			k.logger.Warn("monitor kafka degraded, mirroring to fallback", "topic", k.topic)
		}
		return
	}
	if _, change := k.breaker.RecordSuccess(); change.Closed && k.logger != nil {
		k.logger.Info("monitor kafka recovered", "topic", k.topic)
	}
}
