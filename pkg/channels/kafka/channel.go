// Package kafka provides the Kafka delivery channel for the outbox
// dispatcher, built on Watermill's Kafka transport.
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/loopkit/loom/pkg/events"
	"github.com/loopkit/loom/pkg/models"
)

// Channel publishes outbox messages to the workflow events topic.
type Channel struct {
	publisher *kafka.Publisher
	logger    *slog.Logger
}

func NewChannel(logger *slog.Logger, serviceName string) (*Channel, error) {
	brokers := strings.Split(os.Getenv("KAFKA_BROKERS"), ",")
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, errors.New("KAFKA_BROKERS environment variable is not set or empty")
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	// The outbox already guarantees at-least-once; idempotent production
	// keeps broker-side duplicates down on retries.
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig,
			OTELEnabled:           true,
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &Channel{
		publisher: publisher,
		logger:    logger.With("module", "kafka_channel", "service", serviceName),
	}, nil
}

// Publish delivers one outbox row to the events topic, keyed by the
// deterministic idempotency key so consumers can de-duplicate replays.
func (c *Channel) Publish(ctx context.Context, outboxMessage *models.OutboxMessage) error {
	msg := message.NewMessage(outboxMessage.ID, []byte(outboxMessage.Payload))
	msg.Metadata.Set(events.EventMetadataKey, outboxMessage.IdempotencyKey)
	msg.Metadata.Set(events.EventTypeMetadataKey, outboxMessage.EventType)
	msg.Metadata.Set(events.TenantMetadataKey, outboxMessage.TenantID)

	c.logger.DebugContext(ctx, "Publishing outbox message",
		"message_id", outboxMessage.ID,
		"event_type", outboxMessage.EventType,
		"idempotency_key", outboxMessage.IdempotencyKey)

	return c.publisher.Publish(events.Topic, msg)
}

func (c *Channel) Close() error {
	return c.publisher.Close()
}
