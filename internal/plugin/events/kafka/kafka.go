// Package kafka publishes message events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/messaging-service/internal/config"
	registryevents "github.com/chirino/messaging-service/internal/registry/events"
	"github.com/chirino/messaging-service/internal/security"
	kafkago "github.com/segmentio/kafka-go"
)

func init() {
	registryevents.Register(registryevents.Plugin{
		Name:   "kafka",
		Loader: load,
	})
}

func load(ctx context.Context) (registryevents.Publisher, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("kafka events: missing config")
	}
	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka events: MESSAGING_SERVICE_KAFKA_BROKERS is required")
	}
	log.Info("Kafka events enabled", "brokers", brokers, "topic", cfg.KafkaTopic)
	return New(brokers, cfg.KafkaTopic), nil
}

// Publisher writes JSON events keyed by conversation id, so every event of
// a conversation lands on the same partition in send order.
//
// The writer is asynchronous: Publish only queues the event, and failed
// batches are logged and counted from the writer's completion callback.
type Publisher struct {
	writer *kafkago.Writer
}

// New creates a publisher for topic on brokers.
func New(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
			Async:                  true,
			Completion:             reportFailures,
		},
	}
}

func reportFailures(messages []kafkago.Message, err error) {
	if err == nil {
		return
	}
	for range messages {
		security.RecordEventPublishFailure()
	}
	log.Warn("Failed to deliver message events", "count", len(messages), "err", err)
}

func (p *Publisher) Publish(ctx context.Context, event registryevents.MessageEvent) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka events: write failed: %w", err)
	}
	return nil
}

// Close flushes queued events before closing the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func encode(event registryevents.MessageEvent) (kafkago.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("kafka events: encode failed: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.ConversationID),
		Value: value,
		Time:  event.Date,
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}, nil
}

var _ registryevents.Publisher = (*Publisher)(nil)
