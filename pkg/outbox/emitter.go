package outbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loopkit/loom/pkg/events"
	"github.com/loopkit/loom/pkg/metrics"
	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/persistence"
)

// Emitter stages WorkflowEvent audit rows and OutboxMessage envelopes
// into a unit of work. It never persists anything itself: durability
// comes from the runtime committing the unit of work atomically with the
// state change the event describes.
type Emitter struct {
	logger *slog.Logger
}

func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{logger: logger.With("module", "outbox_emitter")}
}

// Emit stages the audit record and exactly one outbox message for the
// event, keyed by the given idempotency key.
func (e *Emitter) Emit(uow persistence.UnitOfWork, event events.Event, recordType, recordName, idempotencyKey string) error {
	if err := e.stageRecord(uow, event, recordType, recordName); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	base := event.Base()

	uow.AppendOutbox(&models.OutboxMessage{
		ID:             uuid.New().String(),
		TenantID:       base.TenantID,
		IdempotencyKey: idempotencyKey,
		EventType:      string(event.GetType()),
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	})

	metrics.OutboxStaged.Inc()

	return nil
}

// EmitRecord stages only the audit record, with no outbox message. Used
// for purely diagnostic events that external consumers never see.
func (e *Emitter) EmitRecord(uow persistence.UnitOfWork, event events.Event, recordType, recordName string) error {
	return e.stageRecord(uow, event, recordType, recordName)
}

// EmitBestEffort stages the audit record and swallows any failure. Used
// by diagnostics like pruning, which must never fail the owning decision.
func (e *Emitter) EmitBestEffort(uow persistence.UnitOfWork, event events.Event, recordType, recordName string) {
	if err := e.stageRecord(uow, event, recordType, recordName); err != nil {
		e.logger.Warn("dropping best-effort event",
			"event_type", event.GetType(),
			"record", recordType+"/"+recordName,
			"error", err)
	}
}

func (e *Emitter) stageRecord(uow persistence.UnitOfWork, event events.Event, recordType, recordName string) error {
	data, err := eventData(event)
	if err != nil {
		return err
	}

	base := event.Base()

	uow.AppendEvent(&models.WorkflowEvent{
		ID:         base.ID,
		TenantID:   base.TenantID,
		InstanceID: base.InstanceID,
		Type:       recordType,
		Name:       recordName,
		Data:       data,
		CreatedAt:  base.Timestamp,
	})

	return nil
}

// eventData flattens a typed event into the JSON document stored on the
// audit row.
func eventData(event events.Event) (map[string]any, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode event data: %w", err)
	}

	return data, nil
}
