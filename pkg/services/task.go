package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopkit/loom/pkg/events"
	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/notify"
	"github.com/loopkit/loom/pkg/outbox"
	"github.com/loopkit/loom/pkg/persistence"
	"github.com/loopkit/loom/pkg/workflow"
)

// TaskService is the surface human actors use to work on tasks. State
// transitions enforce the task machine; completion delegates to the
// runtime so the owning instance advances in the same logical operation.
type TaskService struct {
	persistence persistence.Persistence
	runtime     *workflow.Runtime
	emitter     *outbox.Emitter
	notifier    notify.Notifier
	logger      *slog.Logger
}

func NewTaskService(store persistence.Persistence, runtime *workflow.Runtime, emitter *outbox.Emitter, notifier notify.Notifier, logger *slog.Logger) *TaskService {
	return &TaskService{
		persistence: store,
		runtime:     runtime,
		emitter:     emitter,
		notifier:    notifier,
		logger:      logger.With("module", "task_service"),
	}
}

// Claim assigns the task to a user. The task must be unclaimed and in
// Created or Assigned.
func (s *TaskService) Claim(ctx context.Context, tenantID, taskID, userID string) error {
	task, err := s.persistence.Tasks().GetByID(ctx, tenantID, taskID)
	if err != nil {
		return err
	}

	if !task.CanClaim() {
		return fmt.Errorf("task %s cannot be claimed: status %s, claimed_by %q", taskID, task.Status, task.ClaimedBy)
	}

	task.Status = models.TaskStatusClaimed
	task.ClaimedBy = userID
	task.UpdatedAt = time.Now().UTC()

	claimed := events.TaskClaimed{
		BaseEvent: events.NewBaseEvent(events.TaskClaimedEvent, tenantID, task.InstanceID),
		TaskID:    taskID,
		ClaimedBy: userID,
	}

	key := outbox.IdempotencyKey(tenantID, "task", taskID, "claimed", s.definitionVersion(ctx, tenantID, task.InstanceID), userID)
	if err := s.commitTask(ctx, task, claimed, "Claimed", key); err != nil {
		return err
	}

	s.notifyBestEffort(ctx, task, "task.claimed", []string{userID})

	return nil
}

// Start moves a claimed task to InProgress.
func (s *TaskService) Start(ctx context.Context, tenantID, taskID string) error {
	task, err := s.persistence.Tasks().GetByID(ctx, tenantID, taskID)
	if err != nil {
		return err
	}

	if !task.CanStart() {
		return fmt.Errorf("task %s cannot be started: status %s", taskID, task.Status)
	}

	task.Status = models.TaskStatusInProgress
	task.UpdatedAt = time.Now().UTC()

	uow, err := s.persistence.Begin(ctx)
	if err != nil {
		return err
	}

	uow.SaveTask(task)

	return uow.Commit(ctx)
}

// Complete finishes the task and advances the owning instance.
func (s *TaskService) Complete(ctx context.Context, tenantID, taskID string, completionData models.Context, completedBy string) error {
	if err := s.runtime.CompleteTask(ctx, tenantID, taskID, completionData, completedBy); err != nil {
		return err
	}

	task, err := s.persistence.Tasks().GetByID(ctx, tenantID, taskID)
	if err != nil {
		return err
	}

	s.notifyBestEffort(ctx, task, "task.completed", audience(task))

	return nil
}

// Fail marks the task failed with an error message. The instance stays
// parked at the node for an operator to retry or cancel.
func (s *TaskService) Fail(ctx context.Context, tenantID, taskID, errorMessage string) error {
	task, err := s.persistence.Tasks().GetByID(ctx, tenantID, taskID)
	if err != nil {
		return err
	}

	if task.IsTerminal() {
		return fmt.Errorf("task %s is already %s", taskID, task.Status)
	}

	now := time.Now().UTC()
	task.Status = models.TaskStatusFailed
	task.ErrorMessage = errorMessage
	task.UpdatedAt = now
	task.CompletedAt = &now

	failed := events.TaskFailed{
		BaseEvent: events.NewBaseEvent(events.TaskFailedEvent, tenantID, task.InstanceID),
		TaskID:    taskID,
		Error:     errorMessage,
	}

	key := outbox.IdempotencyKey(tenantID, "task", taskID, "failed", s.definitionVersion(ctx, tenantID, task.InstanceID), "")

	return s.commitTask(ctx, task, failed, "Failed", key)
}

// Cancel withdraws the task, e.g. when its instance is cancelled.
func (s *TaskService) Cancel(ctx context.Context, tenantID, taskID, reason string) error {
	task, err := s.persistence.Tasks().GetByID(ctx, tenantID, taskID)
	if err != nil {
		return err
	}

	if task.IsTerminal() {
		return nil
	}

	now := time.Now().UTC()
	task.Status = models.TaskStatusCancelled
	task.UpdatedAt = now
	task.CompletedAt = &now

	cancelled := events.TaskCancelled{
		BaseEvent: events.NewBaseEvent(events.TaskCancelledEvent, tenantID, task.InstanceID),
		TaskID:    taskID,
		Reason:    reason,
	}

	key := outbox.IdempotencyKey(tenantID, "task", taskID, "cancelled", s.definitionVersion(ctx, tenantID, task.InstanceID), "")

	return s.commitTask(ctx, task, cancelled, "Cancelled", key)
}

// Reassign changes the assignment of an unfinished task. A claimed task
// is released back to Assigned.
func (s *TaskService) Reassign(ctx context.Context, tenantID, taskID, assigneeID, assigneeRole string) error {
	if assigneeID != "" && assigneeRole != "" {
		return fmt.Errorf("task %s cannot be assigned to both a user and a role", taskID)
	}

	task, err := s.persistence.Tasks().GetByID(ctx, tenantID, taskID)
	if err != nil {
		return err
	}

	if task.IsTerminal() {
		return fmt.Errorf("task %s is already %s", taskID, task.Status)
	}

	task.AssigneeID = assigneeID
	task.AssigneeRole = assigneeRole
	task.ClaimedBy = ""
	task.Status = models.TaskStatusAssigned
	task.UpdatedAt = time.Now().UTC()

	uow, err := s.persistence.Begin(ctx)
	if err != nil {
		return err
	}

	uow.SaveTask(task)

	if err := uow.Commit(ctx); err != nil {
		return err
	}

	s.notifyBestEffort(ctx, task, "task.assigned", audience(task))

	return nil
}

// definitionVersion resolves the definition version pinned by the
// task's instance, used as the stable version part of idempotency keys.
func (s *TaskService) definitionVersion(ctx context.Context, tenantID, instanceID string) int {
	instance, err := s.persistence.Instances().GetByID(ctx, tenantID, instanceID)
	if err != nil {
		return 0
	}

	return instance.DefinitionVersion
}

func (s *TaskService) commitTask(ctx context.Context, task *models.WorkflowTask, event events.Event, recordName, idempotencyKey string) error {
	uow, err := s.persistence.Begin(ctx)
	if err != nil {
		return err
	}

	uow.SaveTask(task)

	if err := s.emitter.Emit(uow, event, events.RecordTypeTask, recordName, idempotencyKey); err != nil {
		uow.Rollback(ctx)

		return err
	}

	return uow.Commit(ctx)
}

func (s *TaskService) notifyBestEffort(ctx context.Context, task *models.WorkflowTask, kind string, recipients []string) {
	err := s.notifier.Notify(ctx, notify.Notification{
		TenantID:   task.TenantID,
		InstanceID: task.InstanceID,
		Kind:       kind,
		Audience:   recipients,
		Data:       map[string]any{"task_id": task.ID, "node_id": task.NodeID},
	})
	if err != nil {
		s.logger.WarnContext(ctx, "Notification dispatch failed",
			"task_id", task.ID,
			"kind", kind,
			"error", err)
	}
}

func audience(task *models.WorkflowTask) []string {
	switch {
	case task.ClaimedBy != "":
		return []string{task.ClaimedBy}
	case task.AssigneeID != "":
		return []string{task.AssigneeID}
	case task.AssigneeRole != "":
		return []string{task.AssigneeRole}
	default:
		return nil
	}
}
