package join

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newScope(t *testing.T, config map[string]any, edges []models.Edge, instanceCtx models.Context) *protocol.ExecutionScope {
	t.Helper()

	definition := &models.WorkflowDefinition{
		ID:       "def-1",
		TenantID: "tenant-1",
		Version:  1,
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "merge", Type: models.NodeTypeJoin, Config: config},
			},
			Edges: edges,
		},
	}

	instance := &models.WorkflowInstance{
		ID:                "inst-1",
		TenantID:          "tenant-1",
		DefinitionID:      "def-1",
		DefinitionVersion: 1,
		Status:            models.InstanceStatusRunning,
		Context:           instanceCtx,
	}

	return &protocol.ExecutionScope{
		Definition: definition,
		Instance:   instance,
		Node:       &definition.Graph.Nodes[0],
		Context:    instanceCtx.Clone(),
		Logger:     testLogger(),
	}
}

func joinEdges() []models.Edge {
	return []models.Edge{
		{ID: "e1", Source: "branch-a", Target: "merge"},
		{ID: "e2", Source: "branch-b", Target: "merge"},
		{ID: "e3", Source: "merge", Target: "end"},
	}
}

func TestJoinWaitsForMissingBranches(t *testing.T) {
	scope := newScope(t, nil, joinEdges(), models.Context{
		models.JoinArrivalsKey("merge"): map[string]any{"branch-a": true},
	})

	result, err := NewJoinExecutor().Execute(context.Background(), scope)

	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.ShouldWait)
}

func TestJoinFiresWhenAllBranchesArrive(t *testing.T) {
	scope := newScope(t, nil, joinEdges(), models.Context{
		models.JoinArrivalsKey("merge"): map[string]any{"branch-a": true, "branch-b": true},
	})

	result, err := NewJoinExecutor().Execute(context.Background(), scope)

	require.NoError(t, err)
	require.True(t, result.Success)
	assert.False(t, result.ShouldWait)
	assert.Equal(t, []string{"end"}, result.NextNodeIDs)

	// Firing re-arms the join for a later loop iteration.
	reset, ok := result.UpdatedContext[models.JoinArrivalsKey("merge")].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"branch-a": false, "branch-b": false}, reset)
}

func TestJoinWithExplicitIncomingList(t *testing.T) {
	config := map[string]any{"incoming": []any{"branch-a", "branch-b", "branch-c"}}

	scope := newScope(t, config, joinEdges(), models.Context{
		models.JoinArrivalsKey("merge"): map[string]any{"branch-a": true, "branch-b": true},
	})

	result, err := NewJoinExecutor().Execute(context.Background(), scope)

	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.ShouldWait, "branch-c has not arrived")
}

func TestJoinWithoutArrivalsWaits(t *testing.T) {
	scope := newScope(t, nil, joinEdges(), models.Context{})

	result, err := NewJoinExecutor().Execute(context.Background(), scope)

	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.ShouldWait)
}

func TestJoinRequiresTwoIncomingBranches(t *testing.T) {
	edges := []models.Edge{
		{ID: "e1", Source: "branch-a", Target: "merge"},
	}
	scope := newScope(t, nil, edges, models.Context{})

	result, err := NewJoinExecutor().Execute(context.Background(), scope)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "at least two incoming branches")
}

func TestJoinRejectsEmptyIncomingList(t *testing.T) {
	scope := newScope(t, map[string]any{"incoming": []any{}}, joinEdges(), models.Context{})

	result, err := NewJoinExecutor().Execute(context.Background(), scope)

	require.NoError(t, err)
	assert.False(t, result.Success)
}
