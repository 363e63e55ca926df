// Package workflow implements the execution runtime: the instance state
// machine, the breadth-first advance cycle, and the public lifecycle
// operations. One advance cycle owns an instance exclusively; atomicity
// comes from committing every staged change in a single unit of work,
// and concurrent writers are serialized by the store's optimistic
// version check.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loopkit/loom/pkg/config"
	"github.com/loopkit/loom/pkg/events"
	"github.com/loopkit/loom/pkg/lock"
	"github.com/loopkit/loom/pkg/metrics"
	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/notify"
	"github.com/loopkit/loom/pkg/otelhelper"
	"github.com/loopkit/loom/pkg/outbox"
	"github.com/loopkit/loom/pkg/persistence"
	"github.com/loopkit/loom/pkg/registry"
)

// maxAdvanceRetries bounds how often a losing optimistic writer reloads
// and replays the full advance cycle before giving up.
const maxAdvanceRetries = 3

const advanceLockTTL = 30 * time.Second

// Runtime is the top-level orchestrator for workflow instances.
type Runtime struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	emitter     *outbox.Emitter
	notifier    notify.Notifier
	lock        lock.AdvanceLock
	tracer      trace.Tracer
	cfg         config.Runtime
	logger      *slog.Logger
	clock       func() time.Time
}

// Option configures optional Runtime collaborators.
type Option func(*Runtime)

// WithTracer attaches an OpenTelemetry tracer; spans wrap each advance cycle.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runtime) { r.tracer = tracer }
}

// WithAdvanceLock replaces the default no-op lock.
func WithAdvanceLock(l lock.AdvanceLock) Option {
	return func(r *Runtime) { r.lock = l }
}

// WithNotifier replaces the default log-only notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Runtime) { r.notifier = n }
}

func NewRuntime(store persistence.Persistence, reg *registry.Registry, emitter *outbox.Emitter, cfg config.Runtime, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		persistence: store,
		registry:    reg,
		emitter:     emitter,
		notifier:    notify.NewLogNotifier(logger),
		lock:        lock.NewNoopLock(),
		cfg:         cfg,
		logger:      logger.With("module", "workflow_runtime"),
		clock:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// StartWorkflow creates a Running instance of the latest published
// version of the definition and performs one advance cycle.
func (r *Runtime) StartWorkflow(ctx context.Context, tenantID, definitionID string, initialContext models.Context, startedBy string) (*models.WorkflowInstance, error) {
	definition, err := r.persistence.Definitions().GetByID(ctx, tenantID, definitionID)
	if err != nil {
		return nil, err
	}

	if !definition.IsPublished() {
		return nil, persistence.ErrDefinitionNotPublished
	}

	start := definition.Graph.StartNode()
	if start == nil {
		return nil, fmt.Errorf("definition %s version %d has no start node", definitionID, definition.Version)
	}

	now := r.clock()

	instance := &models.WorkflowInstance{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		DefinitionID:      definitionID,
		DefinitionVersion: definition.Version,
		Status:            models.InstanceStatusRunning,
		CurrentNodeIDs:    []string{start.ID},
		Context:           initialContext.Clone(),
		StartedBy:         startedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	uow, err := r.persistence.Begin(ctx)
	if err != nil {
		return nil, err
	}

	started := events.InstanceStarted{
		BaseEvent:         events.NewBaseEvent(events.InstanceStartedEvent, tenantID, instance.ID),
		DefinitionID:      definitionID,
		DefinitionVersion: definition.Version,
		StartedBy:         startedBy,
	}

	key := outbox.IdempotencyKey(tenantID, "instance", instance.ID, "started", definition.Version, "")
	if err := r.emitter.Emit(uow, started, events.RecordTypeInstance, "Started", key); err != nil {
		uow.Rollback(ctx)

		return nil, err
	}

	if err := r.advance(ctx, uow, definition, instance); err != nil {
		uow.Rollback(ctx)

		return nil, err
	}

	r.logger.InfoContext(ctx, "Started workflow instance",
		"tenant_id", tenantID,
		"definition_id", definitionID,
		"definition_version", definition.Version,
		"instance_id", instance.ID,
		"status", instance.Status)

	return instance, nil
}

// ContinueWorkflow re-enters the advance cycle for a parked instance.
// Suspended instances are left untouched; instances with nothing to
// advance are a no-op, not an error.
func (r *Runtime) ContinueWorkflow(ctx context.Context, tenantID, instanceID string) error {
	return r.advanceWithRetry(ctx, tenantID, instanceID, nil)
}

// SignalWorkflow merges the signal payload into instance context and
// advances.
func (r *Runtime) SignalWorkflow(ctx context.Context, tenantID, instanceID, signalName string, signalData models.Context, signalledBy string) error {
	return r.advanceWithRetry(ctx, tenantID, instanceID, func(uow persistence.UnitOfWork, definition *models.WorkflowDefinition, instance *models.WorkflowInstance) error {
		instance.Context = instance.Context.Merge(signalData)

		signalled := events.InstanceSignalled{
			BaseEvent:   events.NewBaseEvent(events.InstanceSignalledEvent, tenantID, instanceID),
			SignalName:  signalName,
			SignalledBy: signalledBy,
		}

		correlation := signalName + "@" + strconv.FormatInt(instance.Version, 10)
		key := outbox.IdempotencyKey(tenantID, "instance", instanceID, "signalled", instance.DefinitionVersion, correlation)

		return r.emitter.Emit(uow, signalled, events.RecordTypeInstance, "Signalled", key)
	})
}

// CompleteTask transitions the task to Completed, merges its completion
// data into instance context, and advances the instance from the task's
// node. Retried calls are safe: a terminal task on a no-longer-active
// node yields the same committed state and a byte-identical outbox key.
func (r *Runtime) CompleteTask(ctx context.Context, tenantID, taskID string, completionData models.Context, completedBy string) error {
	task, err := r.persistence.Tasks().GetByID(ctx, tenantID, taskID)
	if err != nil {
		return err
	}

	return r.advanceWithRetry(ctx, tenantID, task.InstanceID, func(uow persistence.UnitOfWork, definition *models.WorkflowDefinition, instance *models.WorkflowInstance) error {
		// Reload inside the retry loop so a replayed cycle sees fresh state.
		task, err := r.persistence.Tasks().GetByID(ctx, tenantID, taskID)
		if err != nil {
			return err
		}

		if !task.CanComplete() {
			if task.Status == models.TaskStatusCompleted {
				// Idempotent replay of an already-completed task.
				return nil
			}

			return fmt.Errorf("%w: task %s is %s", ErrTaskNotCompletable, taskID, task.Status)
		}

		now := r.clock()
		task.Status = models.TaskStatusCompleted
		task.CompletedBy = completedBy
		task.CompletionData = completionData.Clone()
		task.UpdatedAt = now
		task.CompletedAt = &now

		uow.SaveTask(task)

		instance.Context = instance.Context.Merge(completionData)

		completed := events.TaskCompleted{
			BaseEvent:   events.NewBaseEvent(events.TaskCompletedEvent, tenantID, instance.ID),
			TaskID:      task.ID,
			NodeID:      task.NodeID,
			CompletedBy: completedBy,
		}

		key := outbox.IdempotencyKey(tenantID, "task", task.ID, "completed", instance.DefinitionVersion, completedBy)
		if err := r.emitter.Emit(uow, completed, events.RecordTypeTask, "Completed", key); err != nil {
			return err
		}

		// The human task node parks the instance; completing the task is
		// what moves it past the node.
		return r.leaveNode(definition, instance, task.NodeID)
	})
}

// CancelWorkflow forces Cancelled regardless of current node state.
// Already-terminal instances are treated as success.
func (r *Runtime) CancelWorkflow(ctx context.Context, tenantID, instanceID, reason, cancelledBy string) error {
	instance, err := r.persistence.Instances().GetByID(ctx, tenantID, instanceID)
	if err != nil {
		return err
	}

	if instance.IsTerminal() {
		return nil
	}

	uow, err := r.persistence.Begin(ctx)
	if err != nil {
		return err
	}

	now := r.clock()
	instance.Status = models.InstanceStatusCancelled
	instance.UpdatedAt = now
	instance.CompletedAt = &now

	cancelled := events.InstanceCancelled{
		BaseEvent:   events.NewBaseEvent(events.InstanceCancelledEvent, tenantID, instanceID),
		Reason:      reason,
		CancelledBy: cancelledBy,
	}

	key := outbox.IdempotencyKey(tenantID, "instance", instanceID, "cancelled", instance.DefinitionVersion, "")
	if err := r.emitter.Emit(uow, cancelled, events.RecordTypeInstance, "Cancelled", key); err != nil {
		uow.Rollback(ctx)

		return err
	}

	uow.SaveInstance(instance)

	if err := uow.Commit(ctx); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Cancelled workflow instance",
		"tenant_id", tenantID,
		"instance_id", instanceID,
		"reason", reason)

	return nil
}

// RetryWorkflow resets a Failed instance to Running, optionally rewinds
// the active set to a specific node, and advances.
func (r *Runtime) RetryWorkflow(ctx context.Context, tenantID, instanceID, resetToNodeID string) error {
	instance, err := r.persistence.Instances().GetByID(ctx, tenantID, instanceID)
	if err != nil {
		return err
	}

	if instance.Status != models.InstanceStatusFailed {
		return fmt.Errorf("%w: cannot retry instance in status %s", ErrInvalidTransition, instance.Status)
	}

	definition, err := r.persistence.Definitions().GetVersion(ctx, tenantID, instance.DefinitionID, instance.DefinitionVersion)
	if err != nil {
		return err
	}

	if resetToNodeID != "" {
		if definition.Graph.NodeByID(resetToNodeID) == nil {
			return fmt.Errorf("reset node %s not found in definition %s version %d", resetToNodeID, instance.DefinitionID, instance.DefinitionVersion)
		}

		instance.CurrentNodeIDs = []string{resetToNodeID}
	}

	instance.Status = models.InstanceStatusRunning
	instance.ErrorMessage = ""
	instance.UpdatedAt = r.clock()

	uow, err := r.persistence.Begin(ctx)
	if err != nil {
		return err
	}

	retried := events.InstanceRetried{
		BaseEvent:     events.NewBaseEvent(events.InstanceRetriedEvent, tenantID, instanceID),
		ResetToNodeID: resetToNodeID,
	}

	correlation := "retry@" + strconv.FormatInt(instance.Version, 10)
	key := outbox.IdempotencyKey(tenantID, "instance", instanceID, "retried", instance.DefinitionVersion, correlation)
	if err := r.emitter.Emit(uow, retried, events.RecordTypeInstance, "Retried", key); err != nil {
		uow.Rollback(ctx)

		return err
	}

	if err := r.advance(ctx, uow, definition, instance); err != nil {
		uow.Rollback(ctx)

		return err
	}

	return nil
}

// SuspendWorkflow parks a Running instance in Suspended without touching
// its active nodes or context.
func (r *Runtime) SuspendWorkflow(ctx context.Context, tenantID, instanceID, reason string) error {
	return r.toggleSuspension(ctx, tenantID, instanceID, models.InstanceStatusSuspended, reason, "")
}

// ResumeWorkflow returns a Suspended instance to Running and advances it.
func (r *Runtime) ResumeWorkflow(ctx context.Context, tenantID, instanceID, resumedBy string) error {
	if err := r.toggleSuspension(ctx, tenantID, instanceID, models.InstanceStatusRunning, "", resumedBy); err != nil {
		return err
	}

	return r.ContinueWorkflow(ctx, tenantID, instanceID)
}

func (r *Runtime) toggleSuspension(ctx context.Context, tenantID, instanceID string, target models.InstanceStatus, reason, resumedBy string) error {
	instance, err := r.persistence.Instances().GetByID(ctx, tenantID, instanceID)
	if err != nil {
		return err
	}

	if instance.IsTerminal() {
		return fmt.Errorf("%w: instance %s is %s", ErrInstanceTerminal, instanceID, instance.Status)
	}

	if instance.Status == target {
		return nil
	}

	if !instance.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, instance.Status, target)
	}

	uow, err := r.persistence.Begin(ctx)
	if err != nil {
		return err
	}

	instance.Status = target
	instance.UpdatedAt = r.clock()

	var (
		event      events.Event
		recordName string
		kind       string
	)

	if target == models.InstanceStatusSuspended {
		event = events.InstanceSuspended{
			BaseEvent: events.NewBaseEvent(events.InstanceSuspendedEvent, tenantID, instanceID),
			Reason:    reason,
		}
		recordName = "Suspended"
		kind = "suspended"
	} else {
		event = events.InstanceResumed{
			BaseEvent: events.NewBaseEvent(events.InstanceResumedEvent, tenantID, instanceID),
			ResumedBy: resumedBy,
		}
		recordName = "Resumed"
		kind = "resumed"
	}

	correlation := kind + "@" + strconv.FormatInt(instance.Version, 10)
	key := outbox.IdempotencyKey(tenantID, "instance", instanceID, kind, instance.DefinitionVersion, correlation)
	if err := r.emitter.Emit(uow, event, events.RecordTypeInstance, recordName, key); err != nil {
		uow.Rollback(ctx)

		return err
	}

	uow.SaveInstance(instance)

	return uow.Commit(ctx)
}

// advanceWithRetry loads the instance and its pinned definition version,
// applies the optional mutation, runs the advance cycle and commits.
// A lost optimistic version check reloads everything and replays.
func (r *Runtime) advanceWithRetry(ctx context.Context, tenantID, instanceID string, mutate func(persistence.UnitOfWork, *models.WorkflowDefinition, *models.WorkflowInstance) error) error {
	release, ok, err := r.lock.Acquire(ctx, tenantID, instanceID, advanceLockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire advance lock: %w", err)
	}

	if !ok {
		return fmt.Errorf("instance %s is locked by another advance cycle", instanceID)
	}
	defer release()

	var lastErr error

	for attempt := 0; attempt <= maxAdvanceRetries; attempt++ {
		instance, err := r.persistence.Instances().GetByID(ctx, tenantID, instanceID)
		if err != nil {
			return err
		}

		if instance.IsTerminal() {
			return fmt.Errorf("%w: instance %s is %s", ErrInstanceTerminal, instanceID, instance.Status)
		}

		if instance.Status == models.InstanceStatusSuspended {
			r.logger.DebugContext(ctx, "Skipping advance of suspended instance",
				"tenant_id", tenantID,
				"instance_id", instanceID)

			return nil
		}

		definition, err := r.persistence.Definitions().GetVersion(ctx, tenantID, instance.DefinitionID, instance.DefinitionVersion)
		if err != nil {
			return err
		}

		uow, err := r.persistence.Begin(ctx)
		if err != nil {
			return err
		}

		if mutate != nil {
			if err := mutate(uow, definition, instance); err != nil {
				uow.Rollback(ctx)

				return err
			}
		}

		err = r.advance(ctx, uow, definition, instance)
		if err == nil {
			return nil
		}

		if !errors.Is(err, persistence.ErrConcurrentUpdate) {
			uow.Rollback(ctx)

			return err
		}

		metrics.ConcurrencyConflicts.Inc()
		lastErr = err

		r.logger.WarnContext(ctx, "Lost optimistic version check, replaying advance cycle",
			"tenant_id", tenantID,
			"instance_id", instanceID,
			"attempt", attempt+1)
	}

	return fmt.Errorf("advance cycle for instance %s exhausted %d retries: %w", instanceID, maxAdvanceRetries, lastErr)
}

func (r *Runtime) startSpan(ctx context.Context, name string, instance *models.WorkflowInstance) (context.Context, trace.Span) {
	if r.tracer == nil {
		return ctx, nil
	}

	return otelhelper.StartSpan(ctx, r.tracer, name,
		attribute.String(otelhelper.TenantIDKey, instance.TenantID),
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.DefinitionIDKey, instance.DefinitionID),
		attribute.Int(otelhelper.DefinitionVersionKey, instance.DefinitionVersion),
	)
}
