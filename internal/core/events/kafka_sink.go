package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type keyedEvent interface {
	PartitionKey() string
}

type envelope struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// KafkaSink forwards bus events to a Kafka topic as JSON.
type KafkaSink struct {
	writer MessageWriter
	logger *slog.Logger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewKafkaSink(writer MessageWriter, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{writer: writer, logger: logger}
}

func (s *KafkaSink) Register(bus *EventBus, eventTypes ...string) {
	bus.SubscribeMany(s.Handle, eventTypes...)
}

func (s *KafkaSink) Handle(ctx context.Context, event Event) error {
	value, err := json.Marshal(envelope{
		ID:         event.EventID(),
		Type:       event.EventType(),
		OccurredAt: event.OccurredAt(),
		Payload:    event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.EventID(), err)
	}

	key := event.EventID()
	if k, ok := event.(keyedEvent); ok && k.PartitionKey() != "" {
		key = k.PartitionKey()
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType())},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event %s to kafka: %w", event.EventID(), err)
	}

	s.logger.Debug("event forwarded to kafka", "event_id", event.EventID(), "event_type", event.EventType(), "key", key)
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// RegisterAuditLogger writes every payment lifecycle event to the structured log.
func RegisterAuditLogger(bus *EventBus, logger *slog.Logger) {
	bus.SubscribeMany(func(ctx context.Context, event Event) error {
		logger.Info("payment lifecycle event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"occurred_at", event.OccurredAt(),
			"payload", event.Payload())
		return nil
	}, PaymentEventTypes...)
}
