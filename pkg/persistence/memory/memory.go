// Package memory provides an in-memory persistence implementation used by
// tests and local development. It honors the same unit-of-work and
// optimistic concurrency semantics as the PostgreSQL implementation.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/persistence"
)

type Persistence struct {
	mu sync.Mutex

	definitions map[string]*models.WorkflowDefinition // tenant/id/version
	latest      map[string]*models.WorkflowDefinition // tenant/id -> newest version
	instances   map[string]*models.WorkflowInstance   // tenant/id
	tasks       map[string]*models.WorkflowTask       // tenant/id
	events      []*models.WorkflowEvent
	outbox      []*models.OutboxMessage
	outboxKeys  map[string]struct{} // idempotency keys
	timers      []*models.TimerSubscription
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		definitions: make(map[string]*models.WorkflowDefinition),
		latest:      make(map[string]*models.WorkflowDefinition),
		instances:   make(map[string]*models.WorkflowInstance),
		tasks:       make(map[string]*models.WorkflowTask),
		outboxKeys:  make(map[string]struct{}),
	}
}

func defKey(tenantID, id string, version int) string {
	return tenantID + "/" + id + "/" + strconv.Itoa(version)
}

func entityKey(tenantID, id string) string {
	return tenantID + "/" + id
}

func (p *Persistence) Definitions() persistence.DefinitionRepository { return &definitionRepo{p} }
func (p *Persistence) Instances() persistence.InstanceRepository     { return &instanceRepo{p} }
func (p *Persistence) Tasks() persistence.TaskRepository             { return &taskRepo{p} }
func (p *Persistence) Events() persistence.EventRepository           { return &eventRepo{p} }
func (p *Persistence) Outbox() persistence.OutboxRepository          { return &outboxRepo{p} }
func (p *Persistence) Timers() persistence.TimerRepository           { return &timerRepo{p} }

func (p *Persistence) Begin(ctx context.Context) (persistence.UnitOfWork, error) {
	return &unitOfWork{store: p}, nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error { return nil }
func (p *Persistence) Close(ctx context.Context) error       { return nil }

type definitionRepo struct{ store *Persistence }

func (r *definitionRepo) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowDefinition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	definition, ok := r.store.latest[entityKey(tenantID, id)]
	if !ok {
		return nil, persistence.ErrDefinitionNotFound
	}

	clone := *definition

	return &clone, nil
}

func (r *definitionRepo) GetVersion(ctx context.Context, tenantID, id string, version int) (*models.WorkflowDefinition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	definition, ok := r.store.definitions[defKey(tenantID, id, version)]
	if !ok {
		return nil, persistence.ErrDefinitionNotFound
	}

	clone := *definition

	return &clone, nil
}

func (r *definitionRepo) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *definition
	r.store.definitions[defKey(definition.TenantID, definition.ID, definition.Version)] = &clone

	current, ok := r.store.latest[entityKey(definition.TenantID, definition.ID)]
	if !ok || current.Version <= definition.Version {
		r.store.latest[entityKey(definition.TenantID, definition.ID)] = &clone
	}

	return nil
}

func (r *definitionRepo) ListByTenant(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*models.WorkflowDefinition

	for _, definition := range r.store.latest {
		if definition.TenantID == tenantID {
			clone := *definition
			out = append(out, &clone)
		}
	}

	return out, nil
}

type instanceRepo struct{ store *Persistence }

func (r *instanceRepo) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowInstance, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	instance, ok := r.store.instances[entityKey(tenantID, id)]
	if !ok {
		return nil, persistence.ErrInstanceNotFound
	}

	return cloneInstance(instance), nil
}

type taskRepo struct{ store *Persistence }

func (r *taskRepo) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowTask, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	task, ok := r.store.tasks[entityKey(tenantID, id)]
	if !ok {
		return nil, persistence.ErrTaskNotFound
	}

	clone := *task

	return &clone, nil
}

func (r *taskRepo) ListByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowTask, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*models.WorkflowTask

	for _, task := range r.store.tasks {
		if task.TenantID == tenantID && task.InstanceID == instanceID {
			clone := *task
			out = append(out, &clone)
		}
	}

	return out, nil
}

type eventRepo struct{ store *Persistence }

func (r *eventRepo) ListByInstance(ctx context.Context, tenantID, instanceID string) ([]*models.WorkflowEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*models.WorkflowEvent

	for _, event := range r.store.events {
		if event.TenantID == tenantID && event.InstanceID == instanceID {
			clone := *event
			out = append(out, &clone)
		}
	}

	return out, nil
}

type outboxRepo struct{ store *Persistence }

func (r *outboxRepo) ListUnprocessed(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()

	var out []*models.OutboxMessage

	for _, message := range r.store.outbox {
		if message.Processed {
			continue
		}

		if message.NextRetryAt != nil && message.NextRetryAt.After(now) {
			continue
		}

		clone := *message
		out = append(out, &clone)

		if len(out) == limit {
			break
		}
	}

	return out, nil
}

func (r *outboxRepo) MarkProcessed(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, message := range r.store.outbox {
		if message.ID == id {
			now := time.Now().UTC()
			message.Processed = true
			message.ProcessedAt = &now

			return nil
		}
	}

	return nil
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id string, deliveryErr string, nextRetryAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, message := range r.store.outbox {
		if message.ID == id {
			message.RetryCount++
			message.LastError = deliveryErr
			retry := nextRetryAt
			message.NextRetryAt = &retry

			return nil
		}
	}

	return nil
}

type timerRepo struct{ store *Persistence }

func (r *timerRepo) ListDue(ctx context.Context, limit int) ([]*models.TimerSubscription, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()

	var out []*models.TimerSubscription

	for _, timer := range r.store.timers {
		if timer.Fired || timer.FireAt.After(now) {
			continue
		}

		clone := *timer
		out = append(out, &clone)

		if len(out) == limit {
			break
		}
	}

	return out, nil
}

// unitOfWork stages changes in memory and applies them under the store
// lock on Commit, emulating a transactional write.
type unitOfWork struct {
	store *Persistence

	instances   []*models.WorkflowInstance
	tasks       []*models.WorkflowTask
	events      []*models.WorkflowEvent
	outbox      []*models.OutboxMessage
	timers      []*models.TimerSubscription
	firedTimers [][2]string // instanceID, nodeID
	done        bool
}

func (u *unitOfWork) SaveInstance(instance *models.WorkflowInstance) {
	u.instances = append(u.instances, cloneInstance(instance))
}

func (u *unitOfWork) SaveTask(task *models.WorkflowTask) {
	clone := *task
	u.tasks = append(u.tasks, &clone)
}

func (u *unitOfWork) AppendEvent(event *models.WorkflowEvent) {
	clone := *event
	u.events = append(u.events, &clone)
}

func (u *unitOfWork) AppendOutbox(message *models.OutboxMessage) {
	clone := *message
	u.outbox = append(u.outbox, &clone)
}

func (u *unitOfWork) AppendTimer(timer *models.TimerSubscription) {
	clone := *timer
	u.timers = append(u.timers, &clone)
}

func (u *unitOfWork) MarkTimerFired(instanceID, nodeID string) {
	u.firedTimers = append(u.firedTimers, [2]string{instanceID, nodeID})
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return nil
	}

	u.done = true

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	// Version checks first so a conflict leaves the store untouched.
	for _, staged := range u.instances {
		existing, ok := u.store.instances[entityKey(staged.TenantID, staged.ID)]
		if ok && existing.Version != staged.Version {
			return persistence.ErrConcurrentUpdate
		}
	}

	for _, staged := range u.instances {
		staged.Version++
		u.store.instances[entityKey(staged.TenantID, staged.ID)] = staged
	}

	for _, task := range u.tasks {
		u.store.tasks[entityKey(task.TenantID, task.ID)] = task
	}

	u.store.events = append(u.store.events, u.events...)

	for _, message := range u.outbox {
		if _, exists := u.store.outboxKeys[message.IdempotencyKey]; exists {
			continue
		}

		u.store.outboxKeys[message.IdempotencyKey] = struct{}{}
		u.store.outbox = append(u.store.outbox, message)
	}

	u.store.timers = append(u.store.timers, u.timers...)

	for _, fired := range u.firedTimers {
		for _, timer := range u.store.timers {
			if timer.InstanceID == fired[0] && timer.NodeID == fired[1] && !timer.Fired {
				timer.Fired = true
			}
		}
	}

	return nil
}

func (u *unitOfWork) Rollback(ctx context.Context) error {
	u.done = true

	return nil
}

func cloneInstance(instance *models.WorkflowInstance) *models.WorkflowInstance {
	clone := *instance
	clone.CurrentNodeIDs = append([]string(nil), instance.CurrentNodeIDs...)
	clone.Context = instance.Context.Clone()

	return &clone
}
