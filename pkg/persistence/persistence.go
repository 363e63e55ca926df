// Package persistence provides the storage abstraction for the workflow
// runtime: repositories for reads and a transactional unit of work that
// stages instance, task, event, outbox and timer changes for one atomic
// commit per advance cycle.
package persistence

import (
	"context"
	"time"

	"github.com/loopkit/loom/pkg/models"
)

// Persistence is the top-level storage collaborator. All entities are
// keyed by tenant id plus entity id.
type Persistence interface {
	Definitions() DefinitionRepository
	Instances() InstanceRepository
	Tasks() TaskRepository
	Events() EventRepository
	Outbox() OutboxRepository
	Timers() TimerRepository

	// Begin opens a unit of work. Everything staged into it becomes
	// durable in one atomic commit, or not at all.
	Begin(ctx context.Context) (UnitOfWork, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// UnitOfWork collects pending writes for a single advance cycle. Staging
// never touches the store; Commit applies everything atomically. Saving
// an existing instance carries an optimistic version check: a concurrent
// writer wins and the loser's Commit fails with ErrConcurrentUpdate.
type UnitOfWork interface {
	SaveInstance(instance *models.WorkflowInstance)
	SaveTask(task *models.WorkflowTask)
	AppendEvent(event *models.WorkflowEvent)

	// AppendOutbox stages an outbox row. Rows whose idempotency key
	// already exists are silently dropped at commit time.
	AppendOutbox(message *models.OutboxMessage)

	AppendTimer(timer *models.TimerSubscription)
	MarkTimerFired(instanceID, nodeID string)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DefinitionRepository reads and writes workflow definitions.
type DefinitionRepository interface {
	GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error)
	GetVersion(ctx context.Context, tenantID, id string, version int) (*models.WorkflowDefinition, error)
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	ListByTenant(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error)
}

// InstanceRepository reads workflow instances. Writes go through the
// unit of work only.
type InstanceRepository interface {
	GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowInstance, error)
}

// TaskRepository reads workflow tasks. Writes go through the unit of work.
type TaskRepository interface {
	GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowTask, error)
	ListByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowTask, error)
}

// EventRepository reads the append-only event log.
type EventRepository interface {
	ListByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowEvent, error)
}

// OutboxRepository is the dispatcher's view of the outbox table.
type OutboxRepository interface {
	// ListUnprocessed returns up to limit rows that are due for
	// delivery (unprocessed and past their next retry time).
	ListUnprocessed(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, deliveryErr string, nextRetryAt time.Time) error
}

// TimerRepository is the scheduler's view of timer subscriptions.
type TimerRepository interface {
	ListDue(ctx context.Context, limit int) ([]*models.TimerSubscription, error)
}
