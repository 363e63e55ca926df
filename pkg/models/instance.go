package models

import "time"

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
	InstanceStatusSuspended InstanceStatus = "suspended"
)

// instanceTransitions encodes the legal state machine:
// Running -> {Completed, Failed, Cancelled, Suspended}, Suspended -> {Running, Cancelled}.
var instanceTransitions = map[InstanceStatus][]InstanceStatus{
	InstanceStatusRunning: {
		InstanceStatusCompleted,
		InstanceStatusFailed,
		InstanceStatusCancelled,
		InstanceStatusSuspended,
	},
	InstanceStatusSuspended: {
		InstanceStatusRunning,
		InstanceStatusCancelled,
	},
	InstanceStatusFailed: {
		InstanceStatusRunning, // retry
		InstanceStatusCancelled,
	},
}

// WorkflowInstance is one running execution of a published definition
// version. It is exclusively owned by a single advance cycle at a time;
// the Version field backs the store's optimistic concurrency check.
type WorkflowInstance struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"          validate:"required"`
	DefinitionID      string         `json:"definition_id"      validate:"required"`
	DefinitionVersion int            `json:"definition_version" validate:"min=1"`
	Status            InstanceStatus `json:"status"`
	CurrentNodeIDs    []string       `json:"current_node_ids"`
	Context           Context        `json:"context"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	StartedBy         string         `json:"started_by,omitempty"`
	Version           int64          `json:"version"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the instance has reached a final state.
func (i *WorkflowInstance) IsTerminal() bool {
	switch i.Status {
	case InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (i *WorkflowInstance) CanTransitionTo(next InstanceStatus) bool {
	for _, allowed := range instanceTransitions[i.Status] {
		if allowed == next {
			return true
		}
	}

	return false
}

// RemoveCurrentNode drops a node id from the active set, preserving order.
func (i *WorkflowInstance) RemoveCurrentNode(nodeID string) {
	remaining := i.CurrentNodeIDs[:0]

	for _, id := range i.CurrentNodeIDs {
		if id != nodeID {
			remaining = append(remaining, id)
		}
	}

	i.CurrentNodeIDs = remaining
}

// AddCurrentNode appends a node id to the active set unless it is
// already present.
func (i *WorkflowInstance) AddCurrentNode(nodeID string) {
	for _, id := range i.CurrentNodeIDs {
		if id == nodeID {
			return
		}
	}

	i.CurrentNodeIDs = append(i.CurrentNodeIDs, nodeID)
}

// HasCurrentNode reports whether the node id is in the active set.
func (i *WorkflowInstance) HasCurrentNode(nodeID string) bool {
	for _, id := range i.CurrentNodeIDs {
		if id == nodeID {
			return true
		}
	}

	return false
}
