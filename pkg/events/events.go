// Package events defines the typed domain events emitted by the workflow
// runtime and the wire event types carried on outbox messages.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topic drained to by the outbox dispatcher.
const Topic = "loom.workflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"
const TenantMetadataKey = "tenant_id"

const (
	// Instance lifecycle events.
	InstanceStartedEvent   EventType = "workflow.instance.started"
	InstanceCompletedEvent EventType = "workflow.instance.completed"
	InstanceFailedEvent    EventType = "workflow.instance.failed"
	InstanceCancelledEvent EventType = "workflow.instance.cancelled"
	InstanceSuspendedEvent EventType = "workflow.instance.suspended"
	InstanceResumedEvent   EventType = "workflow.instance.resumed"
	InstanceSignalledEvent EventType = "workflow.instance.signalled"
	InstanceRetriedEvent   EventType = "workflow.instance.retried"

	// Task lifecycle events.
	TaskCreatedEvent   EventType = "workflow.task.created"
	TaskClaimedEvent   EventType = "workflow.task.claimed"
	TaskCompletedEvent EventType = "workflow.task.completed"
	TaskFailedEvent    EventType = "workflow.task.failed"
	TaskCancelledEvent EventType = "workflow.task.cancelled"

	// Diagnostics events.
	GatewayDecisionEvent       EventType = "workflow.gateway.decision"
	GatewayDecisionPrunedEvent EventType = "workflow.gateway.decision_pruned"
	TimerScheduledEvent        EventType = "workflow.timer.scheduled"
)

// Audit record type/name pairs stored on WorkflowEvent rows.
const (
	RecordTypeInstance = "Instance"
	RecordTypeTask     = "Task"
	RecordTypeGateway  = "Gateway"
	RecordTypePrune    = "Prune"
	RecordTypeTimer    = "Timer"
)

type Event interface {
	GetType() EventType
	Base() BaseEvent
}

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TenantID   string    `json:"tenant_id"`
	InstanceID string    `json:"instance_id"`
}

// Base exposes the embedded event envelope to emitters.
func (b BaseEvent) Base() BaseEvent { return b }

func NewBaseEvent(eventType EventType, tenantID, instanceID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		TenantID:   tenantID,
		InstanceID: instanceID,
	}
}

type InstanceStarted struct {
	BaseEvent

	DefinitionID      string `json:"definition_id"`
	DefinitionVersion int    `json:"definition_version"`
	StartedBy         string `json:"started_by,omitempty"`
}

func (e InstanceStarted) GetType() EventType { return InstanceStartedEvent }

type InstanceCompleted struct {
	BaseEvent

	DefinitionID string `json:"definition_id"`
	DurationMs   int64  `json:"duration_ms"`
}

func (e InstanceCompleted) GetType() EventType { return InstanceCompletedEvent }

type InstanceFailed struct {
	BaseEvent

	NodeID string `json:"node_id,omitempty"`
	Error  string `json:"error"`
}

func (e InstanceFailed) GetType() EventType { return InstanceFailedEvent }

type InstanceCancelled struct {
	BaseEvent

	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by,omitempty"`
}

func (e InstanceCancelled) GetType() EventType { return InstanceCancelledEvent }

type InstanceSuspended struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e InstanceSuspended) GetType() EventType { return InstanceSuspendedEvent }

type InstanceResumed struct {
	BaseEvent

	ResumedBy string `json:"resumed_by,omitempty"`
}

func (e InstanceResumed) GetType() EventType { return InstanceResumedEvent }

type InstanceSignalled struct {
	BaseEvent

	SignalName  string `json:"signal_name"`
	SignalledBy string `json:"signalled_by,omitempty"`
}

func (e InstanceSignalled) GetType() EventType { return InstanceSignalledEvent }

type InstanceRetried struct {
	BaseEvent

	ResetToNodeID string `json:"reset_to_node_id,omitempty"`
}

func (e InstanceRetried) GetType() EventType { return InstanceRetriedEvent }

type TaskCreated struct {
	BaseEvent

	TaskID       string `json:"task_id"`
	NodeID       string `json:"node_id"`
	AssigneeID   string `json:"assignee_id,omitempty"`
	AssigneeRole string `json:"assignee_role,omitempty"`
}

func (e TaskCreated) GetType() EventType { return TaskCreatedEvent }

type TaskClaimed struct {
	BaseEvent

	TaskID    string `json:"task_id"`
	ClaimedBy string `json:"claimed_by"`
}

func (e TaskClaimed) GetType() EventType { return TaskClaimedEvent }

type TaskCompleted struct {
	BaseEvent

	TaskID      string `json:"task_id"`
	NodeID      string `json:"node_id"`
	CompletedBy string `json:"completed_by"`
}

func (e TaskCompleted) GetType() EventType { return TaskCompletedEvent }

type TaskFailed struct {
	BaseEvent

	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

func (e TaskFailed) GetType() EventType { return TaskFailedEvent }

type TaskCancelled struct {
	BaseEvent

	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

func (e TaskCancelled) GetType() EventType { return TaskCancelledEvent }

type GatewayDecision struct {
	BaseEvent

	NodeID  string   `json:"node_id"`
	Branch  string   `json:"branch"`
	EdgeIDs []string `json:"edge_ids"`
}

func (e GatewayDecision) GetType() EventType { return GatewayDecisionEvent }

type GatewayDecisionPruned struct {
	BaseEvent

	NodeID    string `json:"node_id"`
	Removed   int    `json:"removed"`
	Remaining int    `json:"remaining"`
}

func (e GatewayDecisionPruned) GetType() EventType { return GatewayDecisionPrunedEvent }

type TimerScheduled struct {
	BaseEvent

	NodeID string    `json:"node_id"`
	FireAt time.Time `json:"fire_at"`
}

func (e TimerScheduled) GetType() EventType { return TimerScheduledEvent }
