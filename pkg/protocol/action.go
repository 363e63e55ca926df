package protocol

import (
	"context"
	"log/slog"

	"github.com/loopkit/loom/pkg/models"
)

// Action is the side-effecting collaborator invoked by the automatic
// executor (e.g. a webhook call). It must report success or failure
// synchronously.
type Action interface {
	Execute(ctx context.Context, instanceContext models.Context, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory creates action instances from a node's configuration blob.
type ActionFactory interface {
	// Create builds a new action instance with the given configuration.
	Create(config map[string]any) (Action, error)

	// ID returns the unique identifier for this action type.
	ID() string
}
