package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/loopkit/loom/pkg/events"
	"github.com/loopkit/loom/pkg/metrics"
	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/notify"
	"github.com/loopkit/loom/pkg/otelhelper"
	"github.com/loopkit/loom/pkg/outbox"
	"github.com/loopkit/loom/pkg/persistence"
	"github.com/loopkit/loom/pkg/protocol"
)

// advance runs one breadth-first advance cycle: every active node that
// does not wait is executed, activations cascade within the same cycle,
// and all staged changes commit atomically at the end. The instance is
// mutated in place so callers observe the post-cycle state.
func (r *Runtime) advance(ctx context.Context, uow persistence.UnitOfWork, definition *models.WorkflowDefinition, instance *models.WorkflowInstance) error {
	ctx, span := r.startSpan(ctx, "workflow.advance", instance)
	if span != nil {
		defer span.End()
	}

	started := time.Now()
	outcome := "completed_cycle"

	defer func() {
		metrics.AdvanceCycles.WithLabelValues(outcome).Inc()
		metrics.AdvanceDuration.Observe(time.Since(started).Seconds())
	}()

	waiting := make(map[string]bool)

	for {
		executed := false

		for _, nodeID := range append([]string(nil), instance.CurrentNodeIDs...) {
			if waiting[nodeID] {
				continue
			}

			// Honor cancellation between node executions, never mid-commit.
			if err := ctx.Err(); err != nil {
				outcome = "cancelled"

				return err
			}

			stop, err := r.executeNode(ctx, uow, definition, instance, nodeID, waiting)
			if err != nil {
				outcome = "error"

				if span != nil {
					otelhelper.SetError(span, err)
				}

				return err
			}

			if stop {
				// The instance reached Failed or Suspended; the cycle has
				// already been committed.
				outcome = string(instance.Status)

				return nil
			}

			executed = true
		}

		if !executed {
			break
		}
	}

	if len(instance.CurrentNodeIDs) == 0 {
		if err := r.completeInstance(uow, definition, instance); err != nil {
			outcome = "error"

			return err
		}

		outcome = "completed_instance"
	}

	instance.UpdatedAt = r.clock()
	uow.SaveInstance(instance)

	if err := uow.Commit(ctx); err != nil {
		outcome = "conflict"

		return err
	}

	if instance.Status == models.InstanceStatusCompleted {
		r.notifyBestEffort(ctx, notify.Notification{
			TenantID:   instance.TenantID,
			InstanceID: instance.ID,
			Kind:       "instance.completed",
			Audience:   []string{instance.StartedBy},
		})
	}

	return nil
}

// executeNode runs one active node. It reports stop=true when the
// instance left Running and the cycle must not continue.
func (r *Runtime) executeNode(ctx context.Context, uow persistence.UnitOfWork, definition *models.WorkflowDefinition, instance *models.WorkflowInstance, nodeID string, waiting map[string]bool) (bool, error) {
	node := definition.Graph.NodeByID(nodeID)
	if node == nil {
		// A re-published graph must never silently strand an instance.
		message := fmt.Sprintf("current node %s missing from definition %s version %d", nodeID, definition.ID, definition.Version)

		return true, r.failInstance(ctx, uow, instance, nodeID, message, models.FailInstance)
	}

	executor, err := r.registry.ResolveExecutor(node)
	if err != nil {
		return true, r.failInstance(ctx, uow, instance, nodeID, err.Error(), models.FailInstance)
	}

	scope := &protocol.ExecutionScope{
		Definition: definition,
		Instance:   instance,
		Node:       node,
		Context:    instance.Context.Clone(),
		UnitOfWork: uow,
		Logger:     r.logger.With("instance_id", instance.ID, "node_id", node.ID, "node_type", node.Type),
	}

	nodeCtx := ctx
	if r.tracer != nil {
		spanCtx, nodeSpan := otelhelper.StartSpan(ctx, r.tracer, "workflow.node.execute",
			attribute.String(otelhelper.NodeIDKey, node.ID),
			attribute.String(otelhelper.NodeTypeKey, node.Type),
		)
		nodeCtx = spanCtx

		defer nodeSpan.End()
	}

	result, err := executor.Execute(nodeCtx, scope)
	if err != nil {
		metrics.NodeExecutions.WithLabelValues(node.Type, "error").Inc()

		return false, fmt.Errorf("executor for node %s (%s) failed: %w", node.ID, node.Type, err)
	}

	if result.UpdatedContext != nil {
		instance.Context = instance.Context.Merge(result.UpdatedContext)
	}

	if !result.Success {
		metrics.NodeExecutions.WithLabelValues(node.Type, "failure").Inc()

		return true, r.failInstance(ctx, uow, instance, node.ID, result.ErrorMessage, result.OnFailure)
	}

	metrics.NodeExecutions.WithLabelValues(node.Type, "success").Inc()

	if result.ShouldWait {
		waiting[nodeID] = true

		return false, nil
	}

	instance.RemoveCurrentNode(nodeID)
	r.activate(definition, instance, nodeID, result.NextNodeIDs, waiting)

	return false, nil
}

// activate adds the next nodes to the active set, recording join arrival
// markers so join executors can count branches. A node parked earlier in
// the same cycle is un-parked when a new activation targets it, so a join
// waiting on a longer branch is re-checked once that branch arrives.
func (r *Runtime) activate(definition *models.WorkflowDefinition, instance *models.WorkflowInstance, fromNodeID string, nextNodeIDs []string, waiting map[string]bool) {
	for _, nextID := range nextNodeIDs {
		if next := definition.Graph.NodeByID(nextID); next != nil && next.Type == models.NodeTypeJoin {
			instance.Context = instance.Context.Merge(models.Context{
				models.JoinArrivalsKey(nextID): map[string]any{fromNodeID: true},
			})
		}

		delete(waiting, nextID)
		instance.AddCurrentNode(nextID)
	}
}

// leaveNode moves the instance past a parked node, used when an external
// trigger (task completion) resolves the wait instead of the executor.
func (r *Runtime) leaveNode(definition *models.WorkflowDefinition, instance *models.WorkflowInstance, nodeID string) error {
	if !instance.HasCurrentNode(nodeID) {
		// Already advanced past the node by an earlier, committed cycle.
		return nil
	}

	node := definition.Graph.NodeByID(nodeID)
	if node == nil {
		return fmt.Errorf("current node %s missing from definition %s version %d", nodeID, definition.ID, definition.Version)
	}

	edges := definition.Graph.OutgoingEdges(nodeID)

	next := make([]string, 0, len(edges))
	for _, edge := range edges {
		next = append(next, edge.Target)
	}

	instance.RemoveCurrentNode(nodeID)
	r.activate(definition, instance, nodeID, next, nil)

	return nil
}

// failInstance transitions to Failed or Suspended per the directive,
// stages the audit event and outbox message, and commits the cycle.
func (r *Runtime) failInstance(ctx context.Context, uow persistence.UnitOfWork, instance *models.WorkflowInstance, nodeID, message string, directive models.FailureDirective) error {
	now := r.clock()
	instance.ErrorMessage = message
	instance.UpdatedAt = now

	var (
		event      events.Event
		recordName string
		kind       string
	)

	if directive == models.SuspendInstance {
		instance.Status = models.InstanceStatusSuspended

		event = events.InstanceSuspended{
			BaseEvent: events.NewBaseEvent(events.InstanceSuspendedEvent, instance.TenantID, instance.ID),
			Reason:    message,
		}
		recordName = "Suspended"
		kind = "suspended"
	} else {
		instance.Status = models.InstanceStatusFailed
		instance.CompletedAt = &now

		event = events.InstanceFailed{
			BaseEvent: events.NewBaseEvent(events.InstanceFailedEvent, instance.TenantID, instance.ID),
			NodeID:    nodeID,
			Error:     message,
		}
		recordName = "Failed"
		kind = "failed"
	}

	key := outbox.IdempotencyKey(instance.TenantID, "instance", instance.ID, kind, instance.DefinitionVersion, nodeID)
	if err := r.emitter.Emit(uow, event, events.RecordTypeInstance, recordName, key); err != nil {
		return err
	}

	uow.SaveInstance(instance)

	if err := uow.Commit(ctx); err != nil {
		return err
	}

	r.logger.WarnContext(ctx, "Workflow instance left running state",
		"tenant_id", instance.TenantID,
		"instance_id", instance.ID,
		"node_id", nodeID,
		"status", instance.Status,
		"error", message)

	r.notifyBestEffort(ctx, notify.Notification{
		TenantID:   instance.TenantID,
		InstanceID: instance.ID,
		Kind:       "instance." + kind,
		Audience:   []string{instance.StartedBy},
		Data:       map[string]any{"error": message, "node_id": nodeID},
	})

	return nil
}

// completeInstance stages the terminal Completed transition once the
// active set drains.
func (r *Runtime) completeInstance(uow persistence.UnitOfWork, definition *models.WorkflowDefinition, instance *models.WorkflowInstance) error {
	now := r.clock()
	instance.Status = models.InstanceStatusCompleted
	instance.CompletedAt = &now

	completed := events.InstanceCompleted{
		BaseEvent:    events.NewBaseEvent(events.InstanceCompletedEvent, instance.TenantID, instance.ID),
		DefinitionID: definition.ID,
		DurationMs:   now.Sub(instance.CreatedAt).Milliseconds(),
	}

	key := outbox.IdempotencyKey(instance.TenantID, "instance", instance.ID, "completed", instance.DefinitionVersion, "")

	return r.emitter.Emit(uow, completed, events.RecordTypeInstance, "Completed", key)
}

func (r *Runtime) notifyBestEffort(ctx context.Context, notification notify.Notification) {
	if err := r.notifier.Notify(ctx, notification); err != nil {
		r.logger.WarnContext(ctx, "Notification dispatch failed",
			"tenant_id", notification.TenantID,
			"instance_id", notification.InstanceID,
			"kind", notification.Kind,
			"error", err)
	}
}
