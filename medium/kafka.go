package medium

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/twmb/franz-go/pkg/kgo"

	"hard-bridge/bridge"
	"hard-bridge/metrics"
)

const senderHeader = "hard-sender"

// kafkaClient is the subset of kgo.Client used by the Kafka medium.
type kafkaClient interface {
	Produce(ctx context.Context, record *kgo.Record, fn func(*kgo.Record, error))
	PollFetches(ctx context.Context) kgo.Fetches
	Close()
}

type KafkaConfig struct {
	Logger  *slog.Logger
	Brokers []string
	Topic   string

	client kafkaClient
}

func (c *KafkaConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Topic == "" {
		return errors.New("topic is required")
	}
	// Brokers are unused when a client is injected.
	if c.client == nil && len(c.Brokers) == 0 {
		return errors.New("brokers are required")
	}
	return nil
}

// Kafka broadcasts messages through a single topic. Every instance consumes
// the topic from its end without a consumer group, so each one sees every
// record; records it produced itself are skipped by sender id.
type Kafka struct {
	log    *slog.Logger
	topic  string
	sender string
	client kafkaClient

	mu       sync.Mutex
	handlers map[uint64]func(bridge.Message)
	nextID   uint64
}

// NewKafka creates a new Kafka medium; call Run to start consuming.
func NewKafka(cfg *KafkaConfig) (*Kafka, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	client := cfg.client
	if client == nil {
		c, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Brokers...),
			kgo.ConsumeTopics(cfg.Topic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
			kgo.DefaultProduceTopic(cfg.Topic),
			kgo.AllowAutoTopicCreation(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka client: %w", err)
		}
		client = c
	}
	return &Kafka{
		log:      cfg.Logger.With("component", "medium.kafka", "topic", cfg.Topic),
		topic:    cfg.Topic,
		sender:   ulid.Make().String(),
		client:   client,
		handlers: make(map[uint64]func(bridge.Message)),
	}, nil
}

func (k *Kafka) Publish(ctx context.Context, msg bridge.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	record := &kgo.Record{
		Topic:   k.topic,
		Key:     []byte(msg.Kind),
		Value:   value,
		Headers: []kgo.RecordHeader{{Key: senderHeader, Value: []byte(k.sender)}},
	}

	done := make(chan error, 1)
	k.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		done <- err
	})
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to produce record: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Kafka) Subscribe(handler func(bridge.Message)) func() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextID++
	id := k.nextID
	k.handlers[id] = handler
	return func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		delete(k.handlers, id)
	}
}

// Run polls the topic and delivers records until ctx is cancelled or the client is closed.
func (k *Kafka) Run(ctx context.Context) error {
	for {
		fetches := k.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			k.log.Error("error during fetching", "topic", topic, "partition", partition, "error", err)
		})
		fetches.EachRecord(k.handleRecord)
	}
}

// Close closes the underlying client.
func (k *Kafka) Close() {
	k.client.Close()
}

func (k *Kafka) handleRecord(rec *kgo.Record) {
	for _, h := range rec.Headers {
		if h.Key == senderHeader && string(h.Value) == k.sender {
			return
		}
	}
	var msg bridge.Message
	if err := json.Unmarshal(rec.Value, &msg); err != nil {
		metrics.MediumDeliveryDrops.WithLabelValues("kafka").Inc()
		k.log.Warn("invalid record", "offset", rec.Offset, "error", err)
		return
	}

	k.mu.Lock()
	handlers := make([]func(bridge.Message), 0, len(k.handlers))
	for _, h := range k.handlers {
		handlers = append(handlers, h)
	}
	k.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}
