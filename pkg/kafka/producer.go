package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// ProducerConfig holds Kafka producer configuration.
type ProducerConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	// Async makes Publish return once the message is queued. Delivery
	// failures are then only logged and counted.
	Async bool
}

// DefaultProducerConfig returns synchronous settings with small batches,
// sized for a trickle of analytics events.
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:      brokers,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
}

// Publisher delivers an Event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *Event) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes Events with kafka-go.
type Producer struct {
	writer  messageWriter
	brokers []string
	async   bool
	logger  *slog.Logger
}

// NewProducer creates a producer. No connection is made until the first
// Publish.
func NewProducer(cfg ProducerConfig, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Producer{brokers: cfg.Brokers, async: cfg.Async, logger: logger}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        cfg.Async,
	}
	if cfg.Async {
		w.Completion = p.completed
	}
	p.writer = w
	return p
}

// Publish writes event to topic keyed by its aggregate id, carrying the
// caller's trace context in the message headers.
func (p *Producer) Publish(ctx context.Context, topic string, event *Event) error {
	msg, err := newMessage(topic, event)
	if err != nil {
		return err
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	if p.async && err == nil {
		return nil
	}

	writeDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	countOutcome(topic, 1, err)
	if err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	p.logger.DebugContext(ctx, "event delivered",
		slog.String("topic", topic),
		slog.String("event_type", event.EventType),
		slog.String("aggregate_id", event.AggregateID),
	)
	return nil
}

// completed receives async delivery results from the writer.
func (p *Producer) completed(msgs []kafka.Message, err error) {
	byTopic := make(map[string]int)
	for _, m := range msgs {
		byTopic[m.Topic]++
	}
	for topic, n := range byTopic {
		countOutcome(topic, n, err)
		if err != nil {
			p.logger.Error("async event delivery failed",
				slog.String("topic", topic),
				slog.Int("messages", n),
				slog.String("error", err.Error()),
			)
		}
	}
}

func newMessage(topic string, event *Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s envelope: %w", event.EventType, err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(event.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "source", Value: []byte(event.Source)},
		},
	}, nil
}

// Ping succeeds when any configured broker answers a metadata request.
func (p *Producer) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}

	var errs []error
	for _, addr := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("kafka: no broker reachable: %w", errors.Join(errs...))
}

// Close flushes queued messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
