// Package timer provides the executor for timer nodes. A timer parks
// its branch, records a durable subscription for the scheduler, and
// advances once the fire time has passed.
package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/loopkit/loom/pkg/events"
	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/outbox"
	"github.com/loopkit/loom/pkg/protocol"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TimerExecutor schedules and resolves timer waits. The wait state lives
// in instance context under the node's reserved key; the matching
// TimerSubscription row is what the scheduler polls to re-enter the
// instance.
type TimerExecutor struct {
	emitter *outbox.Emitter
	clock   func() time.Time
}

func NewTimerExecutor(emitter *outbox.Emitter) *TimerExecutor {
	return &TimerExecutor{emitter: emitter, clock: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source. Tests only.
func (e *TimerExecutor) WithClock(clock func() time.Time) *TimerExecutor {
	e.clock = clock

	return e
}

func (e *TimerExecutor) NodeType() string {
	return models.NodeTypeTimer
}

func (e *TimerExecutor) CanExecute(node *models.Node) bool {
	return node.Type == models.NodeTypeTimer
}

func (e *TimerExecutor) Execute(ctx context.Context, scope *protocol.ExecutionScope) (*models.NodeExecutionResult, error) {
	node := scope.Node
	instance := scope.Instance
	key := models.TimerWaitKey(node.ID)
	now := e.clock()

	if wait, ok := scope.Context[key].(map[string]any); ok {
		return e.resolveWait(ctx, scope, wait, now)
	}

	fireAt, err := e.fireTime(node, now)
	if err != nil {
		return models.Failed(err.Error()), nil
	}

	scope.UnitOfWork.AppendTimer(&models.TimerSubscription{
		ID:         uuid.New().String(),
		TenantID:   instance.TenantID,
		InstanceID: instance.ID,
		NodeID:     node.ID,
		FireAt:     fireAt,
		CreatedAt:  now,
	})

	scheduled := events.TimerScheduled{
		BaseEvent: events.NewBaseEvent(events.TimerScheduledEvent, instance.TenantID, instance.ID),
		NodeID:    node.ID,
		FireAt:    fireAt,
	}

	timerKey := outbox.IdempotencyKey(instance.TenantID, "timer", instance.ID, "scheduled", instance.DefinitionVersion, node.ID)
	if err := e.emitter.Emit(scope.UnitOfWork, scheduled, events.RecordTypeTimer, "Scheduled", timerKey); err != nil {
		return nil, fmt.Errorf("failed to stage timer scheduled event: %w", err)
	}

	scope.Logger.InfoContext(ctx, "Scheduled timer",
		"node_id", node.ID,
		"fire_at", fireAt)

	result := models.Waiting()
	result.UpdatedContext = models.Context{
		key: map[string]any{
			"fire_at": fireAt.Format(time.RFC3339Nano),
			"fired":   false,
		},
	}

	return result, nil
}

// resolveWait handles a re-entered timer node: advance when the fire
// time has passed, otherwise keep waiting.
func (e *TimerExecutor) resolveWait(ctx context.Context, scope *protocol.ExecutionScope, wait map[string]any, now time.Time) (*models.NodeExecutionResult, error) {
	node := scope.Node

	raw, _ := wait["fire_at"].(string)

	fireAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return models.Failed(fmt.Sprintf("timer node %s: corrupt wait marker: %v", node.ID, err)), nil
	}

	if now.Before(fireAt) {
		return models.Waiting(), nil
	}

	scope.UnitOfWork.MarkTimerFired(scope.Instance.ID, node.ID)

	scope.Logger.InfoContext(ctx, "Timer fired",
		"node_id", node.ID,
		"fire_at", fireAt)

	edges := scope.Definition.Graph.OutgoingEdges(node.ID)

	next := make([]string, 0, len(edges))
	for _, edge := range edges {
		next = append(next, edge.Target)
	}

	result := models.Succeeded(next...)
	result.UpdatedContext = models.Context{
		models.TimerWaitKey(node.ID): map[string]any{
			"fire_at": raw,
			"fired":   true,
		},
	}

	return result, nil
}

// fireTime computes the absolute fire time from the node config, which
// must carry exactly one of delay_seconds, until or cron.
func (e *TimerExecutor) fireTime(node *models.Node, now time.Time) (time.Time, error) {
	if raw, ok := node.Config["delay_seconds"]; ok {
		seconds, ok := raw.(float64)
		if !ok || seconds < 0 {
			return time.Time{}, fmt.Errorf("timer node %s: delay_seconds must be a non-negative number", node.ID)
		}

		return now.Add(time.Duration(seconds * float64(time.Second))), nil
	}

	if raw, ok := node.ConfigString("until"); ok {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("timer node %s: invalid until timestamp: %w", node.ID, err)
		}

		return until.UTC(), nil
	}

	if expr, ok := node.ConfigString("cron"); ok {
		schedule, err := cronParser.Parse(expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("timer node %s: invalid cron expression %q: %w", node.ID, expr, err)
		}

		return schedule.Next(now).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("timer node %s: config requires one of delay_seconds, until or cron", node.ID)
}
