package models

import "time"

// Context is the mutable JSON document carried by a workflow instance.
// The runtime treats it as an opaque blob; only executors and the pruner
// know specific keys. Reserved keys (gateway decision history, join
// arrival markers, timer waits) are namespaced with a leading underscore
// so they never collide with user data.
type Context map[string]any

// Reserved context key prefixes.
const (
	gatewayHistoryKeyPrefix = "_gateway_decisions:"
	joinArrivalsKeyPrefix   = "_join_arrivals:"
	timerWaitKeyPrefix      = "_timer_wait:"
)

// GatewayHistoryKey returns the reserved context key holding the decision
// history array for a gateway node.
func GatewayHistoryKey(nodeID string) string {
	return gatewayHistoryKeyPrefix + nodeID
}

// JoinArrivalsKey returns the reserved context key holding the arrival
// markers for a join node.
func JoinArrivalsKey(nodeID string) string {
	return joinArrivalsKeyPrefix + nodeID
}

// TimerWaitKey returns the reserved context key holding the wait-until
// timestamp for a timer node.
func TimerWaitKey(nodeID string) string {
	return timerWaitKeyPrefix + nodeID
}

// Merge deep-merges other into the receiver and returns it. Nested
// map[string]any values merge recursively; everything else is replaced.
// A nil receiver allocates, so the result must always be used.
func (c Context) Merge(other Context) Context {
	if c == nil {
		c = make(Context, len(other))
	}

	for key, value := range other {
		incoming, incomingIsMap := value.(map[string]any)
		existing, existingIsMap := c[key].(map[string]any)

		if incomingIsMap && existingIsMap {
			c[key] = map[string]any(Context(existing).Merge(incoming))

			continue
		}

		c[key] = value
	}

	return c
}

// Clone returns a deep copy of the context for map values; slices and
// scalars are copied by reference, which is safe because executors never
// mutate slice elements in place.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}

	clone := make(Context, len(c))
	for key, value := range c {
		if nested, ok := value.(map[string]any); ok {
			clone[key] = map[string]any(Context(nested).Clone())

			continue
		}

		clone[key] = value
	}

	return clone
}

// DiagnosticsVersion tags gateway decision history entries so future
// readers can evolve the record shape without breaking old instances.
const DiagnosticsVersion = 1

// GatewayDecision is one entry of a gateway's decision history.
type GatewayDecision struct {
	DiagnosticsVersion int       `json:"diagnostics_version"`
	NodeID             string    `json:"node_id"`
	Branch             string    `json:"branch"`
	EdgeIDs            []string  `json:"edge_ids"`
	ConditionResult    *bool     `json:"condition_result,omitempty"`
	Bucket             *int      `json:"bucket,omitempty"`
	Variant            string    `json:"variant,omitempty"`
	DecidedAt          time.Time `json:"decided_at"`
}
