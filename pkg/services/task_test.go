package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/loom/pkg/bucketing"
	"github.com/loopkit/loom/pkg/config"
	"github.com/loopkit/loom/pkg/executors/automatic"
	"github.com/loopkit/loom/pkg/executors/end"
	"github.com/loopkit/loom/pkg/executors/gateway"
	"github.com/loopkit/loom/pkg/executors/humantask"
	"github.com/loopkit/loom/pkg/executors/start"
	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/notify"
	"github.com/loopkit/loom/pkg/outbox"
	"github.com/loopkit/loom/pkg/persistence/memory"
	"github.com/loopkit/loom/pkg/prune"
	"github.com/loopkit/loom/pkg/registry"
	"github.com/loopkit/loom/pkg/workflow"
)

func newTaskFixture(t *testing.T) (*TaskService, *memory.Persistence, *models.WorkflowTask) {
	t.Helper()

	ctx := context.Background()
	store := memory.NewPersistence()
	logger := testLogger()
	emitter := outbox.NewEmitter(logger)
	cfg := config.DefaultRuntime()

	reg := registry.NewRegistry(logger)
	reg.RegisterExecutor(start.NewStartExecutor())
	reg.RegisterExecutor(end.NewEndExecutor())
	reg.RegisterExecutor(humantask.NewHumanTaskExecutor(store.Tasks(), emitter))
	reg.RegisterExecutor(automatic.NewAutomaticExecutor(reg))
	reg.RegisterExecutor(gateway.NewGatewayExecutor(bucketing.NewHasher(cfg.HashSeed), prune.NewPruner(cfg.MaxGatewayDecisionsPerNode, emitter, logger), emitter, false))

	runtime := workflow.NewRuntime(store, reg, emitter, cfg, logger)
	service := NewTaskService(store, runtime, emitter, notify.NewLogNotifier(logger), logger)

	definition := &models.WorkflowDefinition{
		ID:       "def-approval",
		TenantID: "tenant-1",
		Name:     "expense approval",
		Version:  1,
		Status:   models.DefinitionStatusPublished,
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "start", Type: models.NodeTypeStart},
				{ID: "review", Type: models.NodeTypeHumanTask, Name: "Review", Config: map[string]any{"assignee_role": "approvers"}},
				{ID: "end", Type: models.NodeTypeEnd},
			},
			Edges: []models.Edge{
				{ID: "e1", Source: "start", Target: "review"},
				{ID: "e2", Source: "review", Target: "end"},
			},
		},
	}

	require.NoError(t, store.Definitions().Save(ctx, definition))

	instance, err := runtime.StartWorkflow(ctx, "tenant-1", "def-approval", nil, "alice")
	require.NoError(t, err)

	tasks, err := store.Tasks().ListByInstance(ctx, "tenant-1", instance.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	return service, store, tasks[0]
}

func TestClaimAssignsTask(t *testing.T) {
	ctx := context.Background()
	service, store, task := newTaskFixture(t)

	require.NoError(t, service.Claim(ctx, "tenant-1", task.ID, "bob"))

	claimed, err := store.Tasks().GetByID(ctx, "tenant-1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusClaimed, claimed.Status)
	assert.Equal(t, "bob", claimed.ClaimedBy)

	// Already claimed.
	err = service.Claim(ctx, "tenant-1", task.ID, "carol")
	assert.Error(t, err)
}

func TestStartMovesClaimedTaskToInProgress(t *testing.T) {
	ctx := context.Background()
	service, store, task := newTaskFixture(t)

	// Cannot start an unclaimed task.
	assert.Error(t, service.Start(ctx, "tenant-1", task.ID))

	require.NoError(t, service.Claim(ctx, "tenant-1", task.ID, "bob"))
	require.NoError(t, service.Start(ctx, "tenant-1", task.ID))

	started, err := store.Tasks().GetByID(ctx, "tenant-1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, started.Status)
}

func TestCompleteFinishesTaskAndInstance(t *testing.T) {
	ctx := context.Background()
	service, store, task := newTaskFixture(t)

	require.NoError(t, service.Claim(ctx, "tenant-1", task.ID, "bob"))
	require.NoError(t, service.Complete(ctx, "tenant-1", task.ID, models.Context{"approved": true}, "bob"))

	completed, err := store.Tasks().GetByID(ctx, "tenant-1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, completed.Status)

	instance, err := store.Instances().GetByID(ctx, "tenant-1", task.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, true, instance.Context["approved"])
}

func TestFailMarksTaskFailedButKeepsInstanceParked(t *testing.T) {
	ctx := context.Background()
	service, store, task := newTaskFixture(t)

	require.NoError(t, service.Fail(ctx, "tenant-1", task.ID, "document missing"))

	failed, err := store.Tasks().GetByID(ctx, "tenant-1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, failed.Status)
	assert.Equal(t, "document missing", failed.ErrorMessage)

	// Failing the task does not move the instance; an operator decides.
	instance, err := store.Instances().GetByID(ctx, "tenant-1", task.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, instance.Status)
	assert.Equal(t, []string{"review"}, instance.CurrentNodeIDs)

	// A terminal task cannot fail twice.
	assert.Error(t, service.Fail(ctx, "tenant-1", task.ID, "again"))
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	service, store, task := newTaskFixture(t)

	require.NoError(t, service.Cancel(ctx, "tenant-1", task.ID, "instance cancelled"))
	require.NoError(t, service.Cancel(ctx, "tenant-1", task.ID, "instance cancelled"))

	cancelled, err := store.Tasks().GetByID(ctx, "tenant-1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, cancelled.Status)
}

func TestReassignReleasesClaim(t *testing.T) {
	ctx := context.Background()
	service, store, task := newTaskFixture(t)

	require.NoError(t, service.Claim(ctx, "tenant-1", task.ID, "bob"))
	require.NoError(t, service.Reassign(ctx, "tenant-1", task.ID, "carol", ""))

	reassigned, err := store.Tasks().GetByID(ctx, "tenant-1", task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusAssigned, reassigned.Status)
	assert.Equal(t, "carol", reassigned.AssigneeID)
	assert.Empty(t, reassigned.ClaimedBy)

	// Assignment is a user or a role, never both.
	err = service.Reassign(ctx, "tenant-1", task.ID, "carol", "approvers")
	assert.Error(t, err)
}
