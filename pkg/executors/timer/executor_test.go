package timer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/outbox"
	"github.com/loopkit/loom/pkg/persistence/memory"
	"github.com/loopkit/loom/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newScope(t *testing.T, store *memory.Persistence, config map[string]any, instanceCtx models.Context) *protocol.ExecutionScope {
	t.Helper()

	uow, err := store.Begin(context.Background())
	require.NoError(t, err)

	definition := &models.WorkflowDefinition{
		ID:       "def-1",
		TenantID: "tenant-1",
		Version:  1,
		Graph: models.Graph{
			Nodes: []models.Node{
				{ID: "wait", Type: models.NodeTypeTimer, Config: config},
				{ID: "end", Type: models.NodeTypeEnd},
			},
			Edges: []models.Edge{
				{ID: "e1", Source: "wait", Target: "end"},
			},
		},
	}

	instance := &models.WorkflowInstance{
		ID:                "inst-1",
		TenantID:          "tenant-1",
		DefinitionID:      "def-1",
		DefinitionVersion: 1,
		Status:            models.InstanceStatusRunning,
		CurrentNodeIDs:    []string{"wait"},
		Context:           instanceCtx,
	}

	return &protocol.ExecutionScope{
		Definition: definition,
		Instance:   instance,
		Node:       &definition.Graph.Nodes[0],
		Context:    instanceCtx.Clone(),
		UnitOfWork: uow,
		Logger:     testLogger(),
	}
}

func TestFirstEntrySchedulesAndWaits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	now := time.Now().UTC()

	executor := NewTimerExecutor(outbox.NewEmitter(testLogger())).WithClock(fixedClock(now))
	scope := newScope(t, store, map[string]any{"delay_seconds": 60.0}, models.Context{})

	result, err := executor.Execute(ctx, scope)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.ShouldWait)

	marker, ok := result.UpdatedContext[models.TimerWaitKey("wait")].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, marker["fired"])
	assert.Equal(t, now.Add(time.Minute).Format(time.RFC3339Nano), marker["fire_at"])

	require.NoError(t, scope.UnitOfWork.Commit(ctx))

	// The durable subscription is what the scheduler polls. It is not
	// due yet at the scheduling instant.
	due, err := store.Timers().ListDue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	records, err := store.Events().ListByInstance(ctx, "tenant-1", "inst-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Scheduled", records[0].Name)
}

func TestReentryBeforeFireTimeKeepsWaiting(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fireAt := now.Add(time.Hour)

	executor := NewTimerExecutor(outbox.NewEmitter(testLogger())).WithClock(fixedClock(now))
	scope := newScope(t, memory.NewPersistence(), map[string]any{"delay_seconds": 3600.0}, models.Context{
		models.TimerWaitKey("wait"): map[string]any{
			"fire_at": fireAt.Format(time.RFC3339Nano),
			"fired":   false,
		},
	})

	result, err := executor.Execute(context.Background(), scope)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.ShouldWait)
	assert.Nil(t, result.UpdatedContext)
}

func TestReentryPastFireTimeAdvances(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fireAt := now.Add(-time.Second)

	executor := NewTimerExecutor(outbox.NewEmitter(testLogger())).WithClock(fixedClock(now))
	scope := newScope(t, store, map[string]any{"delay_seconds": 1.0}, models.Context{
		models.TimerWaitKey("wait"): map[string]any{
			"fire_at": fireAt.Format(time.RFC3339Nano),
			"fired":   false,
		},
	})

	result, err := executor.Execute(ctx, scope)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.False(t, result.ShouldWait)
	assert.Equal(t, []string{"end"}, result.NextNodeIDs)

	marker, ok := result.UpdatedContext[models.TimerWaitKey("wait")].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, marker["fired"])
}

func TestCorruptWaitMarkerFails(t *testing.T) {
	executor := NewTimerExecutor(outbox.NewEmitter(testLogger()))
	scope := newScope(t, memory.NewPersistence(), map[string]any{"delay_seconds": 1.0}, models.Context{
		models.TimerWaitKey("wait"): map[string]any{"fire_at": "not-a-timestamp"},
	})

	result, err := executor.Execute(context.Background(), scope)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "corrupt wait marker")
}

func TestFireTimeFromUntil(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	executor := NewTimerExecutor(outbox.NewEmitter(testLogger())).WithClock(fixedClock(now))
	scope := newScope(t, memory.NewPersistence(), map[string]any{"until": "2026-03-02T09:00:00Z"}, models.Context{})

	result, err := executor.Execute(context.Background(), scope)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.ShouldWait)

	marker := result.UpdatedContext[models.TimerWaitKey("wait")].(map[string]any)
	assert.Equal(t, "2026-03-02T09:00:00Z", marker["fire_at"])
}

func TestFireTimeFromCron(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	executor := NewTimerExecutor(outbox.NewEmitter(testLogger())).WithClock(fixedClock(now))
	scope := newScope(t, memory.NewPersistence(), map[string]any{"cron": "0 9 * * *"}, models.Context{})

	result, err := executor.Execute(context.Background(), scope)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.True(t, result.ShouldWait)

	marker := result.UpdatedContext[models.TimerWaitKey("wait")].(map[string]any)
	assert.Equal(t, "2026-03-02T09:00:00Z", marker["fire_at"])
}

func TestInvalidConfigFails(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
	}{
		{name: "empty config", config: map[string]any{}},
		{name: "negative delay", config: map[string]any{"delay_seconds": -5.0}},
		{name: "bad until", config: map[string]any{"until": "tomorrow"}},
		{name: "bad cron", config: map[string]any{"cron": "never"}},
	}

	executor := NewTimerExecutor(outbox.NewEmitter(testLogger()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := newScope(t, memory.NewPersistence(), tt.config, models.Context{})

			result, err := executor.Execute(context.Background(), scope)
			require.NoError(t, err)
			assert.False(t, result.Success)
		})
	}
}
