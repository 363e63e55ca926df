package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/persistence"
)

// DefinitionRepository handles workflow definition rows.
type DefinitionRepository struct {
	db *sql.DB
}

const definitionColumns = `
	id
  , tenant_id
  , version
  , name
  , description
  , status
  , graph
  , created_at
  , updated_at
  , published_at
  , published_by
`

func (r *DefinitionRepository) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE tenant_id = $1 AND id = $2
		ORDER BY version DESC
		LIMIT 1
	`

	return r.scanDefinition(r.db.QueryRowContext(ctx, query, tenantID, id))
}

func (r *DefinitionRepository) GetVersion(ctx context.Context, tenantID, id string, version int) (*models.WorkflowDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE tenant_id = $1 AND id = $2 AND version = $3
	`

	return r.scanDefinition(r.db.QueryRowContext(ctx, query, tenantID, id, version))
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	graph, err := json.Marshal(definition.Graph)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (
			id, tenant_id, version, name, description, status, graph,
			created_at, updated_at, published_at, published_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, id, version) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			graph = EXCLUDED.graph,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at,
			published_by = EXCLUDED.published_by
	`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID,
		definition.TenantID,
		definition.Version,
		definition.Name,
		definition.Description,
		definition.Status,
		graph,
		definition.CreatedAt,
		definition.UpdatedAt,
		definition.PublishedAt,
		nullString(definition.PublishedBy),
	)
	if err != nil {
		return &persistence.StoreError{Op: "save_definition", TenantID: definition.TenantID, EntityID: definition.ID, Err: err}
	}

	return nil
}

func (r *DefinitionRepository) ListByTenant(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT DISTINCT ON (id) ` + definitionColumns + `
		FROM workflow_definitions
		WHERE tenant_id = $1
		ORDER BY id, version DESC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkflowDefinition

	for rows.Next() {
		definition, err := r.scanDefinition(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, definition)
	}

	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DefinitionRepository) scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		definition  models.WorkflowDefinition
		graph       []byte
		publishedBy sql.NullString
	)

	err := row.Scan(
		&definition.ID,
		&definition.TenantID,
		&definition.Version,
		&definition.Name,
		&definition.Description,
		&definition.Status,
		&graph,
		&definition.CreatedAt,
		&definition.UpdatedAt,
		&definition.PublishedAt,
		&publishedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrDefinitionNotFound
		}

		return nil, fmt.Errorf("failed to scan definition: %w", err)
	}

	if err := json.Unmarshal(graph, &definition.Graph); err != nil {
		return nil, fmt.Errorf("failed to decode graph: %w", err)
	}

	definition.PublishedBy = publishedBy.String

	return &definition, nil
}

// InstanceRepository reads workflow instance rows.
type InstanceRepository struct {
	db *sql.DB
}

func (r *InstanceRepository) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowInstance, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , definition_id
		  , definition_version
		  , status
		  , current_node_ids
		  , context
		  , error_message
		  , started_by
		  , version
		  , created_at
		  , updated_at
		  , completed_at
		FROM workflow_instances
		WHERE tenant_id = $1 AND id = $2
	`

	var (
		instance       models.WorkflowInstance
		currentNodeIDs []byte
		instanceCtx    []byte
		errorMessage   sql.NullString
		startedBy      sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, tenantID, id).Scan(
		&instance.ID,
		&instance.TenantID,
		&instance.DefinitionID,
		&instance.DefinitionVersion,
		&instance.Status,
		&currentNodeIDs,
		&instanceCtx,
		&errorMessage,
		&startedBy,
		&instance.Version,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&instance.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	if err := json.Unmarshal(currentNodeIDs, &instance.CurrentNodeIDs); err != nil {
		return nil, fmt.Errorf("failed to decode current node ids: %w", err)
	}

	if err := json.Unmarshal(instanceCtx, &instance.Context); err != nil {
		return nil, fmt.Errorf("failed to decode instance context: %w", err)
	}

	instance.ErrorMessage = errorMessage.String
	instance.StartedBy = startedBy.String

	return &instance, nil
}

// TaskRepository reads workflow task rows.
type TaskRepository struct {
	db *sql.DB
}

const taskColumns = `
	id
  , tenant_id
  , instance_id
  , node_id
  , name
  , status
  , assignee_id
  , assignee_role
  , claimed_by
  , due_at
  , task_data
  , completion_data
  , completed_by
  , error_message
  , created_at
  , updated_at
  , completed_at
`

func (r *TaskRepository) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM workflow_tasks
		WHERE tenant_id = $1 AND id = $2
	`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTaskNotFound
		}

		return nil, err
	}

	return task, nil
}

func (r *TaskRepository) ListByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM workflow_tasks
		WHERE tenant_id = $1 AND instance_id = $2
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkflowTask

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, task)
	}

	return out, rows.Err()
}

func scanTask(row rowScanner) (*models.WorkflowTask, error) {
	var (
		task           models.WorkflowTask
		assigneeID     sql.NullString
		assigneeRole   sql.NullString
		claimedBy      sql.NullString
		taskData       []byte
		completionData []byte
		completedBy    sql.NullString
		errorMessage   sql.NullString
	)

	err := row.Scan(
		&task.ID,
		&task.TenantID,
		&task.InstanceID,
		&task.NodeID,
		&task.Name,
		&task.Status,
		&assigneeID,
		&assigneeRole,
		&claimedBy,
		&task.DueAt,
		&taskData,
		&completionData,
		&completedBy,
		&errorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if taskData != nil {
		if err := json.Unmarshal(taskData, &task.TaskData); err != nil {
			return nil, fmt.Errorf("failed to decode task data: %w", err)
		}
	}

	if completionData != nil {
		if err := json.Unmarshal(completionData, &task.CompletionData); err != nil {
			return nil, fmt.Errorf("failed to decode completion data: %w", err)
		}
	}

	task.AssigneeID = assigneeID.String
	task.AssigneeRole = assigneeRole.String
	task.ClaimedBy = claimedBy.String
	task.CompletedBy = completedBy.String
	task.ErrorMessage = errorMessage.String

	return &task, nil
}

// EventRepository reads the append-only audit log.
type EventRepository struct {
	db *sql.DB
}

func (r *EventRepository) ListByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowEvent, error) {
	query := `
		SELECT id, tenant_id, instance_id, type, name, data, created_at
		FROM workflow_events
		WHERE tenant_id = $1 AND instance_id = $2
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkflowEvent

	for rows.Next() {
		var (
			event models.WorkflowEvent
			data  []byte
		)

		err := rows.Scan(&event.ID, &event.TenantID, &event.InstanceID, &event.Type, &event.Name, &data, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if err := json.Unmarshal(data, &event.Data); err != nil {
			return nil, fmt.Errorf("failed to decode event data: %w", err)
		}

		out = append(out, &event)
	}

	return out, rows.Err()
}

// OutboxRepository is the dispatcher's view of the outbox table.
type OutboxRepository struct {
	db *sql.DB
}

func (r *OutboxRepository) ListUnprocessed(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	query := `
		SELECT
			id
		  , tenant_id
		  , idempotency_key
		  , event_type
		  , payload
		  , processed
		  , retry_count
		  , next_retry_at
		  , last_error
		  , created_at
		  , processed_at
		FROM outbox_messages
		WHERE processed = FALSE
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var out []*models.OutboxMessage

	for rows.Next() {
		var (
			message   models.OutboxMessage
			lastError sql.NullString
		)

		err := rows.Scan(
			&message.ID,
			&message.TenantID,
			&message.IdempotencyKey,
			&message.EventType,
			&message.Payload,
			&message.Processed,
			&message.RetryCount,
			&message.NextRetryAt,
			&lastError,
			&message.CreatedAt,
			&message.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}

		message.LastError = lastError.String
		out = append(out, &message)
	}

	return out, rows.Err()
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE outbox_messages SET processed = TRUE, processed_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message processed: %w", err)
	}

	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, deliveryErr string, nextRetryAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE outbox_messages SET retry_count = retry_count + 1, last_error = $2, next_retry_at = $3 WHERE id = $1",
		id, deliveryErr, nextRetryAt)
	if err != nil {
		return fmt.Errorf("failed to mark outbox message failed: %w", err)
	}

	return nil
}

// TimerRepository is the scheduler's view of timer subscriptions.
type TimerRepository struct {
	db *sql.DB
}

func (r *TimerRepository) ListDue(ctx context.Context, limit int) ([]*models.TimerSubscription, error) {
	query := `
		SELECT id, tenant_id, instance_id, node_id, fire_at, fired, created_at
		FROM timer_subscriptions
		WHERE fired = FALSE AND fire_at <= NOW()
		ORDER BY fire_at
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query timers: %w", err)
	}
	defer rows.Close()

	var out []*models.TimerSubscription

	for rows.Next() {
		var timer models.TimerSubscription

		err := rows.Scan(&timer.ID, &timer.TenantID, &timer.InstanceID, &timer.NodeID, &timer.FireAt, &timer.Fired, &timer.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}

		out = append(out, &timer)
	}

	return out, rows.Err()
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
