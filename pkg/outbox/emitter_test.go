package outbox

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/loom/pkg/events"
	"github.com/loopkit/loom/pkg/persistence/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startedEvent(tenantID, instanceID string) events.InstanceStarted {
	return events.InstanceStarted{
		BaseEvent:         events.NewBaseEvent(events.InstanceStartedEvent, tenantID, instanceID),
		DefinitionID:      "def-1",
		DefinitionVersion: 1,
	}
}

func TestEmitStagesRecordAndOutboxMessage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	emitter := NewEmitter(testLogger())

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	key := IdempotencyKey("tenant-1", "instance", "inst-1", "started", 1, "")
	require.NoError(t, emitter.Emit(uow, startedEvent("tenant-1", "inst-1"), events.RecordTypeInstance, "Started", key))
	require.NoError(t, uow.Commit(ctx))

	records, err := store.Events().ListByInstance(ctx, "tenant-1", "inst-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, events.RecordTypeInstance, records[0].Type)
	assert.Equal(t, "Started", records[0].Name)
	assert.Equal(t, "def-1", records[0].Data["definition_id"])

	messages, err := store.Outbox().ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, key, messages[0].IdempotencyKey)
	assert.Equal(t, string(events.InstanceStartedEvent), messages[0].EventType)
}

func TestEmitWithSameKeyCollapsesOutboxRows(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	emitter := NewEmitter(testLogger())

	key := IdempotencyKey("tenant-1", "instance", "inst-1", "started", 1, "")

	for i := 0; i < 2; i++ {
		uow, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, emitter.Emit(uow, startedEvent("tenant-1", "inst-1"), events.RecordTypeInstance, "Started", key))
		require.NoError(t, uow.Commit(ctx))
	}

	messages, err := store.Outbox().ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestEmitRecordStagesNoOutboxMessage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	emitter := NewEmitter(testLogger())

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, emitter.EmitRecord(uow, startedEvent("tenant-1", "inst-1"), events.RecordTypeInstance, "Started"))
	require.NoError(t, uow.Commit(ctx))

	records, err := store.Events().ListByInstance(ctx, "tenant-1", "inst-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	messages, err := store.Outbox().ListUnprocessed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}
