// Package end provides the executor for workflow end nodes.
package end

import (
	"context"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/protocol"
)

// EndExecutor activates nothing. Once every active branch has drained
// through an end node the runtime completes the instance.
type EndExecutor struct{}

func NewEndExecutor() *EndExecutor {
	return &EndExecutor{}
}

func (e *EndExecutor) NodeType() string {
	return models.NodeTypeEnd
}

func (e *EndExecutor) CanExecute(node *models.Node) bool {
	return node.Type == models.NodeTypeEnd
}

func (e *EndExecutor) Execute(ctx context.Context, scope *protocol.ExecutionScope) (*models.NodeExecutionResult, error) {
	return models.Succeeded(), nil
}
