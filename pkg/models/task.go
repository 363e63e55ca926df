package models

import "time"

// TaskStatus represents the lifecycle state of a human task.
type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "created"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusClaimed    TaskStatus = "claimed"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// WorkflowTask is a human-actionable unit created by the human-task
// executor when an instance enters the node. The assignment is either a
// concrete user id or a role, never both.
type WorkflowTask struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"   validate:"required"`
	InstanceID     string     `json:"instance_id" validate:"required"`
	NodeID         string     `json:"node_id"     validate:"required"`
	Name           string     `json:"name"`
	Status         TaskStatus `json:"status"`
	AssigneeID     string     `json:"assignee_id,omitempty"`
	AssigneeRole   string     `json:"assignee_role,omitempty"`
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	TaskData       Context    `json:"task_data,omitempty"`
	CompletionData Context    `json:"completion_data,omitempty"`
	CompletedBy    string     `json:"completed_by,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the task has reached a final state.
func (t *WorkflowTask) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanClaim reports whether the task may be claimed: it must be unclaimed
// and still in Created or Assigned.
func (t *WorkflowTask) CanClaim() bool {
	if t.ClaimedBy != "" {
		return false
	}

	return t.Status == TaskStatusCreated || t.Status == TaskStatusAssigned
}

// CanComplete reports whether the task may be completed.
func (t *WorkflowTask) CanComplete() bool {
	return t.Status == TaskStatusClaimed || t.Status == TaskStatusInProgress
}

// CanStart reports whether the task may move to InProgress.
func (t *WorkflowTask) CanStart() bool {
	return t.Status == TaskStatusClaimed
}
