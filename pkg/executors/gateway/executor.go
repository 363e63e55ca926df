// Package gateway provides the branch-decision executor: binary
// condition routing, parallel fan-out and deterministic experiment
// bucketing, with bounded decision history kept in instance context.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loopkit/loom/pkg/bucketing"
	"github.com/loopkit/loom/pkg/condition"
	"github.com/loopkit/loom/pkg/events"
	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/outbox"
	"github.com/loopkit/loom/pkg/protocol"
	"github.com/loopkit/loom/pkg/prune"
)

// Gateway strategies.
const (
	StrategyCondition  = "condition"
	StrategyParallel   = "parallel"
	StrategyExperiment = "experiment"
)

type GatewayExecutor struct {
	hasher  *bucketing.Hasher
	pruner  *prune.Pruner
	emitter *outbox.Emitter
	verbose bool
}

func NewGatewayExecutor(hasher *bucketing.Hasher, pruner *prune.Pruner, emitter *outbox.Emitter, verboseDiagnostics bool) *GatewayExecutor {
	return &GatewayExecutor{
		hasher:  hasher,
		pruner:  pruner,
		emitter: emitter,
		verbose: verboseDiagnostics,
	}
}

func (e *GatewayExecutor) NodeType() string {
	return models.NodeTypeGateway
}

func (e *GatewayExecutor) CanExecute(node *models.Node) bool {
	return node.Type == models.NodeTypeGateway
}

func (e *GatewayExecutor) Execute(ctx context.Context, scope *protocol.ExecutionScope) (*models.NodeExecutionResult, error) {
	node := scope.Node
	edges := scope.Definition.Graph.OutgoingEdges(node.ID)

	if len(edges) == 0 {
		return models.Failed(fmt.Sprintf("gateway %s has no outgoing edges", node.ID)), nil
	}

	strategy, _ := node.ConfigString("strategy")
	if strategy == "" {
		strategy = StrategyCondition
	}

	var (
		decision models.GatewayDecision
		chosen   []models.Edge
		err      error
	)

	switch strategy {
	case StrategyParallel:
		chosen = edges
		decision = models.GatewayDecision{Branch: StrategyParallel}
	case StrategyExperiment:
		chosen, decision, err = e.decideExperiment(scope, node, edges)
	case StrategyCondition:
		chosen, decision, err = e.decideCondition(scope, node, edges)
	default:
		return models.Failed(fmt.Sprintf("gateway %s: unknown strategy %q", node.ID, strategy)), nil
	}

	if err != nil {
		return models.Failed(err.Error()), nil
	}

	decision.DiagnosticsVersion = models.DiagnosticsVersion
	decision.NodeID = node.ID
	decision.DecidedAt = time.Now().UTC()

	for _, edge := range chosen {
		decision.EdgeIDs = append(decision.EdgeIDs, edge.ID)
	}

	updated, err := e.recordDecision(scope, node.ID, decision)
	if err != nil {
		return nil, err
	}

	next := make([]string, 0, len(chosen))
	for _, edge := range chosen {
		next = append(next, edge.Target)
	}

	result := models.Succeeded(next...)
	result.UpdatedContext = updated

	return result, nil
}

func (e *GatewayExecutor) decideCondition(scope *protocol.ExecutionScope, node *models.Node, edges []models.Edge) ([]models.Edge, models.GatewayDecision, error) {
	expression, _ := node.Config["condition"].(map[string]any)

	outcome, err := condition.Evaluate(expression, scope.Context)
	if err != nil {
		return nil, models.GatewayDecision{}, fmt.Errorf("gateway %s: condition evaluation failed: %w", node.ID, err)
	}

	label := models.EdgeLabelFalse
	if outcome {
		label = models.EdgeLabelTrue
	}

	edge := findEdge(edges, label)
	if edge == nil {
		// Fall back to an else edge when the selected branch is not wired.
		edge = findEdge(edges, models.EdgeLabelElse)
		if edge != nil {
			label = models.EdgeLabelElse
		}
	}

	if edge == nil {
		return nil, models.GatewayDecision{}, fmt.Errorf("gateway %s: no routable branch for condition result %t", node.ID, outcome)
	}

	decision := models.GatewayDecision{
		Branch:          label,
		ConditionResult: &outcome,
	}

	return []models.Edge{*edge}, decision, nil
}

func (e *GatewayExecutor) decideExperiment(scope *protocol.ExecutionScope, node *models.Node, edges []models.Edge) ([]models.Edge, models.GatewayDecision, error) {
	variants, err := experimentVariants(node)
	if err != nil {
		return nil, models.GatewayDecision{}, err
	}

	salt, _ := node.ConfigString("salt")
	instance := scope.Instance

	// The composite key makes the assignment stable per instance: a
	// re-entrant advance cycle re-derives the same branch instead of
	// re-rolling.
	bucket := e.hasher.Bucket(len(variants), instance.TenantID, instance.ID, node.ID, salt)
	variant := variants[bucket]

	edge := findEdge(edges, variant)
	if edge == nil {
		return nil, models.GatewayDecision{}, fmt.Errorf("gateway %s: no edge labelled for variant %q", node.ID, variant)
	}

	decision := models.GatewayDecision{
		Branch:  variant,
		Bucket:  &bucket,
		Variant: variant,
	}

	return []models.Edge{*edge}, decision, nil
}

// recordDecision appends the decision to the node's bounded history and
// stages the diagnostic audit record.
func (e *GatewayExecutor) recordDecision(scope *protocol.ExecutionScope, nodeID string, decision models.GatewayDecision) (models.Context, error) {
	entry, err := decisionEntry(decision)
	if err != nil {
		return nil, err
	}

	key := models.GatewayHistoryKey(nodeID)

	var history []any
	if existing, ok := scope.Context[key].([]any); ok {
		history = append(history, existing...)
	}

	history = append(history, entry)

	instance := scope.Instance
	history = e.pruner.Prune(scope.UnitOfWork, instance.TenantID, instance.ID, nodeID, history)

	decisionEvent := events.GatewayDecision{
		BaseEvent: events.NewBaseEvent(events.GatewayDecisionEvent, instance.TenantID, instance.ID),
		NodeID:    nodeID,
		Branch:    decision.Branch,
		EdgeIDs:   decision.EdgeIDs,
	}

	if e.verbose {
		if err := e.emitter.EmitRecord(scope.UnitOfWork, decisionEvent, events.RecordTypeGateway, "DecisionRecorded"); err != nil {
			return nil, fmt.Errorf("failed to stage gateway decision event: %w", err)
		}
	}

	return models.Context{key: history}, nil
}

// decisionEntry converts the decision to the plain JSON shape stored in
// context, so in-memory and reloaded histories look identical.
func decisionEntry(decision models.GatewayDecision) (map[string]any, error) {
	raw, err := json.Marshal(decision)
	if err != nil {
		return nil, fmt.Errorf("failed to encode gateway decision: %w", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode gateway decision: %w", err)
	}

	return entry, nil
}

func experimentVariants(node *models.Node) ([]string, error) {
	raw, ok := node.Config["variants"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("gateway %s: experiment strategy requires a 'variants' array", node.ID)
	}

	variants := make([]string, 0, len(raw))

	for i, item := range raw {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("gateway %s: variant %d must be a string", node.ID, i)
		}

		variants = append(variants, name)
	}

	return variants, nil
}

func findEdge(edges []models.Edge, label string) *models.Edge {
	for i := range edges {
		if edges[i].Label == label {
			return &edges[i]
		}
	}

	return nil
}
