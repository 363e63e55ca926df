package models

import "time"

// TimerSubscription is a durable record of an instance waiting at a
// timer node. The scheduler polls due subscriptions and re-enters the
// advance cycle; the fire time itself is advisory.
type TimerSubscription struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	InstanceID string    `json:"instance_id"`
	NodeID     string    `json:"node_id"`
	FireAt     time.Time `json:"fire_at"`
	Fired      bool      `json:"fired"`
	CreatedAt  time.Time `json:"created_at"`
}
