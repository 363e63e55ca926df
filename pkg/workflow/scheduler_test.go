package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/loom/pkg/models"
)

func timerDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:       "def-timer",
		TenantID: "tenant-1",
		Name:     "delayed step",
		Version:  1,
		Status:   models.DefinitionStatusPublished,
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "start", Type: models.NodeTypeStart},
				{ID: "wait", Type: models.NodeTypeTimer, Config: map[string]any{"delay_seconds": 0.0}},
				{ID: "end", Type: models.NodeTypeEnd},
			},
			Edges: []models.Edge{
				{ID: "e1", Source: "start", Target: "wait"},
				{ID: "e2", Source: "wait", Target: "end"},
			},
		},
	}
}

func TestFireDueResolvesTimerWait(t *testing.T) {
	ctx := context.Background()
	runtime, store := newTestRuntime(t)
	saveDefinition(t, store, timerDefinition())

	instance, err := runtime.StartWorkflow(ctx, "tenant-1", "def-timer", nil, "alice")
	require.NoError(t, err)

	// The timer parked the instance; the zero delay makes it due at once.
	assert.Equal(t, models.InstanceStatusRunning, instance.Status)
	assert.Equal(t, []string{"wait"}, instance.CurrentNodeIDs)

	scheduler := NewScheduler(store, runtime, testLogger())

	fired, err := scheduler.FireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	stored, err := store.Instances().GetByID(ctx, "tenant-1", instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, stored.Status)

	marker, ok := stored.Context[models.TimerWaitKey("wait")].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, marker["fired"])

	// The subscription was consumed inside the advance commit.
	fired, err = scheduler.FireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, fired)
}

func TestFireDueRetiresTimersOfTerminalInstances(t *testing.T) {
	ctx := context.Background()
	runtime, store := newTestRuntime(t)

	now := time.Now().UTC()

	// A due subscription whose instance already finished: the scheduler
	// must stop re-polling it instead of advancing forever.
	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	uow.SaveInstance(&models.WorkflowInstance{
		ID:                "inst-done",
		TenantID:          "tenant-1",
		DefinitionID:      "def-timer",
		DefinitionVersion: 1,
		Status:            models.InstanceStatusCancelled,
		CreatedAt:         now,
		UpdatedAt:         now,
		CompletedAt:       &now,
	})
	uow.AppendTimer(&models.TimerSubscription{
		ID:         uuid.New().String(),
		TenantID:   "tenant-1",
		InstanceID: "inst-done",
		NodeID:     "wait",
		FireAt:     now.Add(-time.Minute),
		CreatedAt:  now,
	})

	require.NoError(t, uow.Commit(ctx))

	scheduler := NewScheduler(store, runtime, testLogger())

	fired, err := scheduler.FireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, fired)

	due, err := store.Timers().ListDue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "retired subscription must not be re-polled")
}
