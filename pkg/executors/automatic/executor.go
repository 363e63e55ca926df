// Package automatic provides the executor for automatic (side-effecting)
// nodes, which run a configured action synchronously and advance.
package automatic

import (
	"context"
	"fmt"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/protocol"
	"github.com/loopkit/loom/pkg/registry"
)

// AutomaticExecutor resolves the node's configured action from the
// registry, runs it, and merges its output into instance context under
// the "results" key.
type AutomaticExecutor struct {
	registry *registry.Registry
}

func NewAutomaticExecutor(reg *registry.Registry) *AutomaticExecutor {
	return &AutomaticExecutor{registry: reg}
}

func (e *AutomaticExecutor) NodeType() string {
	return models.NodeTypeAutomatic
}

func (e *AutomaticExecutor) CanExecute(node *models.Node) bool {
	return node.Type == models.NodeTypeAutomatic
}

func (e *AutomaticExecutor) Execute(ctx context.Context, scope *protocol.ExecutionScope) (*models.NodeExecutionResult, error) {
	node := scope.Node

	actionType, ok := node.ConfigString("action_type")
	if !ok || actionType == "" {
		// A bare automatic node is a no-op pass-through.
		return e.advance(scope, nil), nil
	}

	actionConfig, _ := node.Config["action_config"].(map[string]any)

	action, err := e.registry.CreateAction(actionType, actionConfig)
	if err != nil {
		return models.Failed(fmt.Sprintf("node %s: %v", node.ID, err)), nil
	}

	output, err := action.Execute(ctx, scope.Context, scope.Logger.With("action_type", actionType, "node_id", node.ID))
	if err != nil {
		result := models.Failed(fmt.Sprintf("action %s failed on node %s: %v", actionType, node.ID, err))
		if directive, ok := node.ConfigString("on_failure"); ok && directive == string(models.SuspendInstance) {
			result.OnFailure = models.SuspendInstance
		}

		return result, nil
	}

	return e.advance(scope, output), nil
}

func (e *AutomaticExecutor) advance(scope *protocol.ExecutionScope, output map[string]any) *models.NodeExecutionResult {
	edges := scope.Definition.Graph.OutgoingEdges(scope.Node.ID)

	next := make([]string, 0, len(edges))
	for _, edge := range edges {
		next = append(next, edge.Target)
	}

	result := models.Succeeded(next...)

	if output != nil {
		result.UpdatedContext = models.Context{
			"results": map[string]any{scope.Node.ID: output},
		}
	}

	return result
}
