package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopkit/loom/pkg/metrics"
	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/persistence"
)

// Publisher delivers one committed outbox message to an external broker.
// Implementations live under pkg/channels.
type Publisher interface {
	Publish(ctx context.Context, message *models.OutboxMessage) error
	Close() error
}

const (
	defaultBatchSize    = 100
	defaultPollInterval = 2 * time.Second
	defaultMaxRetries   = 10

	retryBackoffBase = 30 * time.Second
	retryBackoffMax  = time.Hour
)

// Dispatcher drains unprocessed outbox rows to a broker. Delivery is
// at-least-once: a row is marked processed only after a successful
// publish, and failures reschedule the row with exponential backoff.
type Dispatcher struct {
	outbox     persistence.OutboxRepository
	publisher  Publisher
	logger     *slog.Logger
	batchSize  int
	interval   time.Duration
	maxRetries int
}

type DispatcherOption func(*Dispatcher)

func WithBatchSize(size int) DispatcherOption {
	return func(d *Dispatcher) { d.batchSize = size }
}

func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.interval = interval }
}

func WithMaxRetries(retries int) DispatcherOption {
	return func(d *Dispatcher) { d.maxRetries = retries }
}

func NewDispatcher(outbox persistence.OutboxRepository, publisher Publisher, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	dispatcher := &Dispatcher{
		outbox:     outbox,
		publisher:  publisher,
		logger:     logger.With("module", "outbox_dispatcher"),
		batchSize:  defaultBatchSize,
		interval:   defaultPollInterval,
		maxRetries: defaultMaxRetries,
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher
}

// Run polls the outbox until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.InfoContext(ctx, "Outbox dispatcher started", "interval", d.interval, "batch_size", d.batchSize)

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "Outbox dispatcher stopped")

			return ctx.Err()
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.logger.ErrorContext(ctx, "Dispatch batch failed", "error", err)
			}
		}
	}
}

// DispatchOnce delivers one batch and returns the number of messages
// successfully published.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	batch, err := d.outbox.ListUnprocessed(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unprocessed outbox messages: %w", err)
	}

	delivered := 0

	for _, message := range batch {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		if message.RetryCount >= d.maxRetries {
			// Parked; an operator re-drives it by resetting retry_count.
			continue
		}

		if err := d.publisher.Publish(ctx, message); err != nil {
			d.logger.WarnContext(ctx, "Failed to publish outbox message",
				"message_id", message.ID,
				"event_type", message.EventType,
				"retry_count", message.RetryCount,
				"error", err)

			metrics.OutboxDispatchFailures.Inc()

			nextRetry := time.Now().UTC().Add(backoff(message.RetryCount))
			if markErr := d.outbox.MarkFailed(ctx, message.ID, err.Error(), nextRetry); markErr != nil {
				d.logger.ErrorContext(ctx, "Failed to record outbox delivery failure",
					"message_id", message.ID, "error", markErr)
			}

			continue
		}

		if err := d.outbox.MarkProcessed(ctx, message.ID); err != nil {
			// The message will be re-delivered; consumers de-duplicate
			// on the idempotency key.
			d.logger.ErrorContext(ctx, "Failed to mark outbox message processed",
				"message_id", message.ID, "error", err)

			continue
		}

		metrics.OutboxDispatched.Inc()

		delivered++
	}

	return delivered, nil
}

func backoff(retryCount int) time.Duration {
	wait := retryBackoffBase << uint(retryCount)
	if wait > retryBackoffMax || wait <= 0 {
		return retryBackoffMax
	}

	return wait
}
