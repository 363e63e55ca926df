// Package rabbitmq provides the RabbitMQ delivery channel for the
// outbox dispatcher.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/loopkit/loom/pkg/events"
	"github.com/loopkit/loom/pkg/models"
)

// Exchange carries all workflow events; consumers bind with routing
// keys matching the event types they care about.
const Exchange = "loom.workflow"

// Channel publishes outbox messages to a topic exchange, routed by
// event type.
type Channel struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewChannel(logger *slog.Logger) (*Channel, error) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		return nil, errors.New("RABBITMQ_URL environment variable is not set")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()

		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()

		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Channel{
		logger:  logger.With("module", "rabbitmq_channel"),
		conn:    conn,
		channel: ch,
	}, nil
}

// Publish delivers one outbox row, persistent, routed by its event type.
func (c *Channel) Publish(ctx context.Context, outboxMessage *models.OutboxMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.channel.PublishWithContext(
		ctx,
		Exchange,
		outboxMessage.EventType,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    outboxMessage.ID,
			Body:         outboxMessage.Payload,
			Headers: amqp.Table{
				events.EventMetadataKey:     outboxMessage.IdempotencyKey,
				events.EventTypeMetadataKey: outboxMessage.EventType,
				events.TenantMetadataKey:    outboxMessage.TenantID,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", Exchange, outboxMessage.EventType, err)
	}

	c.logger.DebugContext(ctx, "Published outbox message",
		"message_id", outboxMessage.ID,
		"event_type", outboxMessage.EventType)

	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.channel.Close(); err != nil {
		return err
	}

	return c.conn.Close()
}
