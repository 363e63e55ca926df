// Package humantask provides the executor that creates human tasks and
// parks the instance until the task completes.
package humantask

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loopkit/loom/pkg/events"
	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/outbox"
	"github.com/loopkit/loom/pkg/persistence"
	"github.com/loopkit/loom/pkg/protocol"
)

// HumanTaskExecutor creates a WorkflowTask on node entry and waits. The
// instance is re-entered by the task service once the task completes.
type HumanTaskExecutor struct {
	tasks   persistence.TaskRepository
	emitter *outbox.Emitter
}

func NewHumanTaskExecutor(tasks persistence.TaskRepository, emitter *outbox.Emitter) *HumanTaskExecutor {
	return &HumanTaskExecutor{tasks: tasks, emitter: emitter}
}

func (e *HumanTaskExecutor) NodeType() string {
	return models.NodeTypeHumanTask
}

func (e *HumanTaskExecutor) CanExecute(node *models.Node) bool {
	return node.Type == models.NodeTypeHumanTask
}

func (e *HumanTaskExecutor) Execute(ctx context.Context, scope *protocol.ExecutionScope) (*models.NodeExecutionResult, error) {
	instance := scope.Instance
	node := scope.Node

	// A re-entered advance cycle must not create a second task while one
	// is still open for this node.
	existing, err := e.tasks.ListByInstance(ctx, instance.TenantID, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for instance %s: %w", instance.ID, err)
	}

	for _, task := range existing {
		if task.NodeID == node.ID && !task.IsTerminal() {
			return models.Waiting(), nil
		}
	}

	task, err := e.buildTask(instance, node)
	if err != nil {
		return models.Failed(err.Error()), nil
	}

	scope.UnitOfWork.SaveTask(task)

	created := events.TaskCreated{
		BaseEvent:    events.NewBaseEvent(events.TaskCreatedEvent, instance.TenantID, instance.ID),
		TaskID:       task.ID,
		NodeID:       node.ID,
		AssigneeID:   task.AssigneeID,
		AssigneeRole: task.AssigneeRole,
	}

	key := outbox.IdempotencyKey(instance.TenantID, "task", instance.ID, "created", instance.DefinitionVersion, node.ID)
	if err := e.emitter.Emit(scope.UnitOfWork, created, events.RecordTypeTask, "Created", key); err != nil {
		return nil, fmt.Errorf("failed to stage task created event: %w", err)
	}

	scope.Logger.InfoContext(ctx, "Created human task",
		"task_id", task.ID,
		"node_id", node.ID,
		"status", task.Status)

	return models.Waiting(), nil
}

func (e *HumanTaskExecutor) buildTask(instance *models.WorkflowInstance, node *models.Node) (*models.WorkflowTask, error) {
	assigneeID, _ := node.ConfigString("assignee_id")
	assigneeRole, _ := node.ConfigString("assignee_role")

	if assigneeID != "" && assigneeRole != "" {
		return nil, fmt.Errorf("human task node %s configures both assignee_id and assignee_role", node.ID)
	}

	status := models.TaskStatusCreated
	if assigneeID != "" || assigneeRole != "" {
		status = models.TaskStatusAssigned
	}

	now := time.Now().UTC()

	task := &models.WorkflowTask{
		ID:           uuid.New().String(),
		TenantID:     instance.TenantID,
		InstanceID:   instance.ID,
		NodeID:       node.ID,
		Name:         node.Name,
		Status:       status,
		AssigneeID:   assigneeID,
		AssigneeRole: assigneeRole,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if data, ok := node.Config["task_data"].(map[string]any); ok {
		task.TaskData = models.Context(data).Clone()
	}

	if dueAt, err := parseDueDate(node, now); err != nil {
		return nil, err
	} else if dueAt != nil {
		task.DueAt = dueAt
	}

	return task, nil
}

func parseDueDate(node *models.Node, now time.Time) (*time.Time, error) {
	if raw, ok := node.Config["due_in_seconds"]; ok {
		seconds, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("human task node %s: due_in_seconds must be a number", node.ID)
		}

		due := now.Add(time.Duration(seconds) * time.Second)

		return &due, nil
	}

	if raw, ok := node.ConfigString("due_at"); ok {
		due, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("human task node %s: invalid due_at: %w", node.ID, err)
		}

		return &due, nil
	}

	return nil, nil
}
