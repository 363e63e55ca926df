// Package join provides the executor for join nodes, which synchronize
// parallel branches: the node fires only once every expected branch has
// arrived.
package join

import (
	"context"
	"fmt"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/protocol"
)

// JoinExecutor reads the arrival markers the runtime records when a
// branch reaches the join, and advances once all expected sources have
// arrived. Firing resets the markers so the join can trigger again on a
// later loop iteration.
type JoinExecutor struct{}

func NewJoinExecutor() *JoinExecutor {
	return &JoinExecutor{}
}

func (e *JoinExecutor) NodeType() string {
	return models.NodeTypeJoin
}

func (e *JoinExecutor) CanExecute(node *models.Node) bool {
	return node.Type == models.NodeTypeJoin
}

func (e *JoinExecutor) Execute(ctx context.Context, scope *protocol.ExecutionScope) (*models.NodeExecutionResult, error) {
	node := scope.Node

	expected, err := expectedSources(scope.Definition, node)
	if err != nil {
		return models.Failed(err.Error()), nil
	}

	arrivals, _ := scope.Context[models.JoinArrivalsKey(node.ID)].(map[string]any)

	for _, source := range expected {
		arrived, _ := arrivals[source].(bool)
		if !arrived {
			return models.Waiting(), nil
		}
	}

	// All branches are in. Reset markers so a loop back through the
	// parallel section re-arms the join.
	reset := make(map[string]any, len(expected))
	for _, source := range expected {
		reset[source] = false
	}

	scope.Logger.DebugContext(ctx, "Join fired",
		"node_id", node.ID,
		"sources", expected)

	edges := scope.Definition.Graph.OutgoingEdges(node.ID)

	next := make([]string, 0, len(edges))
	for _, edge := range edges {
		next = append(next, edge.Target)
	}

	result := models.Succeeded(next...)
	result.UpdatedContext = models.Context{
		models.JoinArrivalsKey(node.ID): reset,
	}

	return result, nil
}

// expectedSources returns the node ids the join waits for: the config's
// explicit "incoming" list when present, otherwise every incoming edge
// source.
func expectedSources(definition *models.WorkflowDefinition, node *models.Node) ([]string, error) {
	if raw, ok := node.Config["incoming"].([]any); ok {
		if len(raw) == 0 {
			return nil, fmt.Errorf("join node %s: incoming list must not be empty", node.ID)
		}

		sources := make([]string, 0, len(raw))

		for i, item := range raw {
			id, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("join node %s: incoming entry %d must be a string", node.ID, i)
			}

			sources = append(sources, id)
		}

		return sources, nil
	}

	edges := definition.Graph.IncomingEdges(node.ID)
	if len(edges) < 2 {
		return nil, fmt.Errorf("join node %s requires at least two incoming branches", node.ID)
	}

	sources := make([]string, 0, len(edges))
	for _, edge := range edges {
		sources = append(sources, edge.Source)
	}

	return sources, nil
}
