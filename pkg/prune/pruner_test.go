package prune

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/loom/pkg/outbox"
	"github.com/loopkit/loom/pkg/persistence/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func history(n int) []any {
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, map[string]any{"seq": i})
	}

	return out
}

func TestPruneEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	pruner := NewPruner(25, outbox.NewEmitter(testLogger()), testLogger())

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	pruned := pruner.Prune(uow, "tenant-1", "inst-1", "gw-1", history(30))
	require.Len(t, pruned, 25)

	// The five oldest entries are gone; the newest survives.
	assert.Equal(t, map[string]any{"seq": 5}, pruned[0])
	assert.Equal(t, map[string]any{"seq": 29}, pruned[24])

	require.NoError(t, uow.Commit(ctx))

	// Eviction leaves a best-effort audit record.
	records, err := store.Events().ListByInstance(ctx, "tenant-1", "inst-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Prune", records[0].Type)
	assert.Equal(t, 5.0, records[0].Data["removed"])
}

func TestPruneLeavesShortHistoryAlone(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	pruner := NewPruner(25, outbox.NewEmitter(testLogger()), testLogger())

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	entries := history(25)
	pruned := pruner.Prune(uow, "tenant-1", "inst-1", "gw-1", entries)
	assert.Len(t, pruned, 25)

	require.NoError(t, uow.Commit(ctx))

	records, err := store.Events().ListByInstance(ctx, "tenant-1", "inst-1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPruneDisabledWithNonPositiveCap(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	pruner := NewPruner(0, outbox.NewEmitter(testLogger()), testLogger())

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	pruned := pruner.Prune(uow, "tenant-1", "inst-1", "gw-1", history(100))
	assert.Len(t, pruned, 100)
}
