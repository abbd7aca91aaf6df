package messaging

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/papersim/internal/config"
	"github.com/papersim/internal/models"
	"github.com/segmentio/kafka-go"
)

// EventSink receives settlement events relayed from the outbox
type EventSink interface {
	Publish(ctx context.Context, event models.OutboxEvent) error
}

// KafkaPublisher writes outbox events to a Kafka topic keyed by account,
// so events of one account stay ordered within a partition
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaPublisher creates a publisher for the configured brokers
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            maxRetries,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
	}

	log.Printf("[Kafka] Publisher created, brokers=%v topic=%s", cfg.Brokers, cfg.Topic)
	return &KafkaPublisher{writer: writer, topic: cfg.Topic}
}

// Publish writes one event. The payload is already JSON.
func (p *KafkaPublisher) Publish(ctx context.Context, event models.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AccountID),
		Value: []byte(event.Payload),
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event %s to %s: %w", event.ID, p.topic, err)
	}
	log.Printf("[Kafka] Event sent: id=%s type=%s account=%s", event.ID, event.EventType, event.AccountID)
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the application log. It is the sink used
// when no broker is configured.
type LogPublisher struct{}

// Publish logs the event
func (LogPublisher) Publish(ctx context.Context, event models.OutboxEvent) error {
	log.Printf("[Outbox] %s account=%s id=%s payload=%s", event.EventType, event.AccountID, event.ID, event.Payload)
	return nil
}
