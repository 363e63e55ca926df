package models

import (
	"encoding/json"
	"time"
)

// OutboxMessage is a durable envelope staged in the same unit of work as
// the state change it describes. A separate dispatcher drains unprocessed
// rows and guarantees at-least-once delivery to external consumers. The
// idempotency key is derived deterministically from stable business
// identifiers, so replays of the same logical event collapse onto one row.
type OutboxMessage struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Processed      bool            `json:"processed"`
	RetryCount     int             `json:"retry_count"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}
