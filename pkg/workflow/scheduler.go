package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopkit/loom/pkg/metrics"
	"github.com/loopkit/loom/pkg/persistence"
)

const (
	defaultSchedulerInterval = 5 * time.Second
	defaultSchedulerBatch    = 100
)

// Scheduler polls for due timer subscriptions and re-enters the advance
// cycle of the owning instances. The timer executor resolves the wait
// and marks the subscription fired inside the advance commit, so a
// crashed scheduler simply re-delivers on the next poll.
type Scheduler struct {
	store    persistence.Persistence
	runtime  *Runtime
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

type SchedulerOption func(*Scheduler)

func WithSchedulerInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = interval }
}

func WithSchedulerBatch(batch int) SchedulerOption {
	return func(s *Scheduler) { s.batch = batch }
}

func NewScheduler(store persistence.Persistence, runtime *Runtime, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	scheduler := &Scheduler{
		store:    store,
		runtime:  runtime,
		logger:   logger.With("module", "timer_scheduler"),
		interval: defaultSchedulerInterval,
		batch:    defaultSchedulerBatch,
	}

	for _, opt := range opts {
		opt(scheduler)
	}

	return scheduler
}

// Run polls for due timers until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "Timer scheduler started", "interval", s.interval, "batch_size", s.batch)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Timer scheduler stopped")

			return ctx.Err()
		case <-ticker.C:
			if _, err := s.FireDue(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Timer poll failed", "error", err)
			}
		}
	}
}

// FireDue advances every instance with a due timer and returns how many
// were re-entered.
func (s *Scheduler) FireDue(ctx context.Context) (int, error) {
	due, err := s.store.Timers().ListDue(ctx, s.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list due timers: %w", err)
	}

	fired := 0

	for _, timer := range due {
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}

		err := s.runtime.ContinueWorkflow(ctx, timer.TenantID, timer.InstanceID)
		if err != nil {
			// A terminal instance cannot consume its timer anymore, so
			// retire the subscription instead of re-polling it forever.
			if errors.Is(err, ErrInstanceTerminal) {
				s.retire(ctx, timer.InstanceID, timer.NodeID)

				continue
			}

			s.logger.WarnContext(ctx, "Failed to advance instance for due timer",
				"tenant_id", timer.TenantID,
				"instance_id", timer.InstanceID,
				"node_id", timer.NodeID,
				"error", err)

			continue
		}

		metrics.TimersFired.Inc()

		fired++
	}

	return fired, nil
}

func (s *Scheduler) retire(ctx context.Context, instanceID, nodeID string) {
	uow, err := s.store.Begin(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to retire orphaned timer", "instance_id", instanceID, "error", err)

		return
	}

	uow.MarkTimerFired(instanceID, nodeID)

	if err := uow.Commit(ctx); err != nil {
		s.logger.WarnContext(ctx, "Failed to retire orphaned timer", "instance_id", instanceID, "error", err)
	}
}
