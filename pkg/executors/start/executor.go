// Package start provides the executor for workflow start nodes.
package start

import (
	"context"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/protocol"
)

// StartExecutor passes control straight through to the start node's
// outgoing edges.
type StartExecutor struct{}

func NewStartExecutor() *StartExecutor {
	return &StartExecutor{}
}

func (e *StartExecutor) NodeType() string {
	return models.NodeTypeStart
}

func (e *StartExecutor) CanExecute(node *models.Node) bool {
	return node.Type == models.NodeTypeStart
}

func (e *StartExecutor) Execute(ctx context.Context, scope *protocol.ExecutionScope) (*models.NodeExecutionResult, error) {
	edges := scope.Definition.Graph.OutgoingEdges(scope.Node.ID)
	if len(edges) == 0 {
		return models.Failed("start node has no outgoing edge"), nil
	}

	next := make([]string, 0, len(edges))
	for _, edge := range edges {
		next = append(next, edge.Target)
	}

	return models.Succeeded(next...), nil
}
