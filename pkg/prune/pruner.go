// Package prune bounds the per-gateway decision history retained inside
// instance context. Audit events themselves are never pruned.
package prune

import (
	"log/slog"

	"github.com/loopkit/loom/pkg/events"
	"github.com/loopkit/loom/pkg/outbox"
	"github.com/loopkit/loom/pkg/persistence"
)

// Pruner caps gateway decision history arrays at a configured maximum,
// evicting oldest-first.
type Pruner struct {
	max     int
	emitter *outbox.Emitter
	logger  *slog.Logger
}

func NewPruner(maxDecisionsPerNode int, emitter *outbox.Emitter, logger *slog.Logger) *Pruner {
	return &Pruner{
		max:     maxDecisionsPerNode,
		emitter: emitter,
		logger:  logger.With("module", "context_pruner"),
	}
}

// Prune trims history to the configured cap and stages a
// GatewayDecisionPruned event when anything was evicted. The event is
// best-effort: a staging failure never fails the gateway's own decision.
func (p *Pruner) Prune(uow persistence.UnitOfWork, tenantID, instanceID, nodeID string, history []any) []any {
	if p.max <= 0 || len(history) <= p.max {
		return history
	}

	removed := len(history) - p.max
	pruned := history[removed:]

	pruneEvent := events.GatewayDecisionPruned{
		BaseEvent: events.NewBaseEvent(events.GatewayDecisionPrunedEvent, tenantID, instanceID),
		NodeID:    nodeID,
		Removed:   removed,
		Remaining: len(pruned),
	}

	p.emitter.EmitBestEffort(uow, pruneEvent, events.RecordTypePrune, "GatewayDecisionPruned")

	p.logger.Debug("Pruned gateway decision history",
		"instance_id", instanceID,
		"node_id", nodeID,
		"removed", removed,
		"remaining", len(pruned))

	return pruned
}

// Max returns the configured cap.
func (p *Pruner) Max() int {
	return p.max
}
