package start

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/protocol"
)

func newScope(edges []models.Edge) *protocol.ExecutionScope {
	definition := &models.WorkflowDefinition{
		Graph: models.Graph{
			Nodes: []models.Node{{ID: "start", Type: models.NodeTypeStart}},
			Edges: edges,
		},
	}

	return &protocol.ExecutionScope{
		Definition: definition,
		Node:       &definition.Graph.Nodes[0],
	}
}

func TestStartActivatesOutgoingTargets(t *testing.T) {
	scope := newScope([]models.Edge{
		{ID: "e1", Source: "start", Target: "task"},
	})

	result, err := NewStartExecutor().Execute(context.Background(), scope)

	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, []string{"task"}, result.NextNodeIDs)
}

func TestStartWithoutOutgoingEdgeFails(t *testing.T) {
	result, err := NewStartExecutor().Execute(context.Background(), newScope(nil))

	require.NoError(t, err)
	assert.False(t, result.Success)
}
