package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/persistence"
)

// unitOfWork stages writes in memory and applies them in one database
// transaction on Commit. Instance saves carry the optimistic version
// check: the UPDATE is guarded by WHERE version = expected and a row
// miss on an existing instance surfaces ErrConcurrentUpdate.
type unitOfWork struct {
	db *sql.DB

	instances   []*models.WorkflowInstance
	tasks       []*models.WorkflowTask
	events      []*models.WorkflowEvent
	outbox      []*models.OutboxMessage
	timers      []*models.TimerSubscription
	firedTimers [][2]string
	done        bool
}

func (u *unitOfWork) SaveInstance(instance *models.WorkflowInstance) {
	u.instances = append(u.instances, instance)
}

func (u *unitOfWork) SaveTask(task *models.WorkflowTask) {
	u.tasks = append(u.tasks, task)
}

func (u *unitOfWork) AppendEvent(event *models.WorkflowEvent) {
	u.events = append(u.events, event)
}

func (u *unitOfWork) AppendOutbox(message *models.OutboxMessage) {
	u.outbox = append(u.outbox, message)
}

func (u *unitOfWork) AppendTimer(timer *models.TimerSubscription) {
	u.timers = append(u.timers, timer)
}

func (u *unitOfWork) MarkTimerFired(instanceID, nodeID string) {
	u.firedTimers = append(u.firedTimers, [2]string{instanceID, nodeID})
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return nil
	}

	u.done = true

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = u.apply(ctx, tx)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit unit of work: %w", err)
	}

	return nil
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	u.done = true

	return nil
}

func (u *unitOfWork) apply(ctx context.Context, tx *sql.Tx) error {
	for _, instance := range u.instances {
		if err := saveInstance(ctx, tx, instance); err != nil {
			return err
		}
	}

	for _, task := range u.tasks {
		if err := saveTask(ctx, tx, task); err != nil {
			return err
		}
	}

	for _, event := range u.events {
		if err := appendEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	for _, message := range u.outbox {
		if err := appendOutbox(ctx, tx, message); err != nil {
			return err
		}
	}

	for _, timer := range u.timers {
		if err := appendTimer(ctx, tx, timer); err != nil {
			return err
		}
	}

	for _, fired := range u.firedTimers {
		_, err := tx.ExecContext(ctx,
			"UPDATE timer_subscriptions SET fired = TRUE WHERE instance_id = $1 AND node_id = $2 AND fired = FALSE",
			fired[0], fired[1])
		if err != nil {
			return fmt.Errorf("failed to mark timer fired: %w", err)
		}
	}

	return nil
}

func saveInstance(ctx context.Context, tx *sql.Tx, instance *models.WorkflowInstance) error {
	currentNodeIDs, err := json.Marshal(instance.CurrentNodeIDs)
	if err != nil {
		return fmt.Errorf("failed to encode current node ids: %w", err)
	}

	if instance.CurrentNodeIDs == nil {
		currentNodeIDs = []byte("[]")
	}

	instanceCtx, err := json.Marshal(instance.Context)
	if err != nil {
		return fmt.Errorf("failed to encode instance context: %w", err)
	}

	if instance.Context == nil {
		instanceCtx = []byte("{}")
	}

	update := `
		UPDATE workflow_instances SET
			status = $3,
			current_node_ids = $4,
			context = $5,
			error_message = $6,
			version = version + 1,
			updated_at = $7,
			completed_at = $8
		WHERE tenant_id = $1 AND id = $2 AND version = $9
	`

	result, err := tx.ExecContext(ctx, update,
		instance.TenantID,
		instance.ID,
		instance.Status,
		currentNodeIDs,
		instanceCtx,
		nullString(instance.ErrorMessage),
		instance.UpdatedAt,
		instance.CompletedAt,
		instance.Version,
	)
	if err != nil {
		return &persistence.StoreError{Op: "save_instance", TenantID: instance.TenantID, EntityID: instance.ID, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected > 0 {
		return nil
	}

	// Either the row does not exist yet, or a concurrent writer bumped
	// the version first.
	var exists bool

	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM workflow_instances WHERE tenant_id = $1 AND id = $2)",
		instance.TenantID, instance.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check instance existence: %w", err)
	}

	if exists {
		return persistence.ErrConcurrentUpdate
	}

	insert := `
		INSERT INTO workflow_instances (
			id, tenant_id, definition_id, definition_version, status,
			current_node_ids, context, error_message, started_by, version,
			created_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(ctx, insert,
		instance.ID,
		instance.TenantID,
		instance.DefinitionID,
		instance.DefinitionVersion,
		instance.Status,
		currentNodeIDs,
		instanceCtx,
		nullString(instance.ErrorMessage),
		nullString(instance.StartedBy),
		instance.Version+1,
		instance.CreatedAt,
		instance.UpdatedAt,
		instance.CompletedAt,
	)
	if err != nil {
		return &persistence.StoreError{Op: "insert_instance", TenantID: instance.TenantID, EntityID: instance.ID, Err: err}
	}

	return nil
}

func saveTask(ctx context.Context, tx *sql.Tx, task *models.WorkflowTask) error {
	taskData, err := marshalContext(task.TaskData)
	if err != nil {
		return fmt.Errorf("failed to encode task data: %w", err)
	}

	completionData, err := marshalContext(task.CompletionData)
	if err != nil {
		return fmt.Errorf("failed to encode completion data: %w", err)
	}

	query := `
		INSERT INTO workflow_tasks (
			id, tenant_id, instance_id, node_id, name, status,
			assignee_id, assignee_role, claimed_by, due_at,
			task_data, completion_data, completed_by, error_message,
			created_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			status = EXCLUDED.status,
			assignee_id = EXCLUDED.assignee_id,
			assignee_role = EXCLUDED.assignee_role,
			claimed_by = EXCLUDED.claimed_by,
			completion_data = EXCLUDED.completion_data,
			completed_by = EXCLUDED.completed_by,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
	`

	_, err = tx.ExecContext(ctx, query,
		task.ID,
		task.TenantID,
		task.InstanceID,
		task.NodeID,
		task.Name,
		task.Status,
		nullString(task.AssigneeID),
		nullString(task.AssigneeRole),
		nullString(task.ClaimedBy),
		task.DueAt,
		taskData,
		completionData,
		nullString(task.CompletedBy),
		nullString(task.ErrorMessage),
		task.CreatedAt,
		task.UpdatedAt,
		task.CompletedAt,
	)
	if err != nil {
		return &persistence.StoreError{Op: "save_task", TenantID: task.TenantID, EntityID: task.ID, Err: err}
	}

	return nil
}

func appendEvent(ctx context.Context, tx *sql.Tx, event *models.WorkflowEvent) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO workflow_events (id, tenant_id, instance_id, type, name, data, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		event.ID, event.TenantID, event.InstanceID, event.Type, event.Name, data, event.CreatedAt)
	if err != nil {
		return &persistence.StoreError{Op: "append_event", TenantID: event.TenantID, EntityID: event.ID, Err: err}
	}

	return nil
}

func appendOutbox(ctx context.Context, tx *sql.Tx, message *models.OutboxMessage) error {
	// Replays with the same deterministic key collapse silently.
	query := `
		INSERT INTO outbox_messages (
			id, tenant_id, idempotency_key, event_type, payload,
			processed, retry_count, next_retry_at, last_error, created_at
		)
		VALUES ($1, $2, $3, $4, $5, FALSE, 0, NULL, NULL, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	_, err := tx.ExecContext(ctx, query,
		message.ID,
		message.TenantID,
		message.IdempotencyKey,
		message.EventType,
		[]byte(message.Payload),
		message.CreatedAt,
	)
	if err != nil {
		return &persistence.StoreError{Op: "append_outbox", TenantID: message.TenantID, EntityID: message.ID, Err: err}
	}

	return nil
}

func appendTimer(ctx context.Context, tx *sql.Tx, timer *models.TimerSubscription) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO timer_subscriptions (id, tenant_id, instance_id, node_id, fire_at, fired, created_at) VALUES ($1, $2, $3, $4, $5, FALSE, $6)",
		timer.ID, timer.TenantID, timer.InstanceID, timer.NodeID, timer.FireAt, timer.CreatedAt)
	if err != nil {
		return &persistence.StoreError{Op: "append_timer", TenantID: timer.TenantID, EntityID: timer.ID, Err: err}
	}

	return nil
}

func marshalContext(data models.Context) ([]byte, error) {
	if data == nil {
		return nil, nil
	}

	return json.Marshal(data)
}
