package models

import "time"

// WorkflowEvent is an append-only audit record scoped to an instance.
// Events are never mutated or deleted; only the gateway decision history
// kept inside instance context is subject to pruning.
type WorkflowEvent struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	InstanceID string         `json:"instance_id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
