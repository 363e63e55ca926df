// Package log_action provides a no-op action that records a configured
// message in the structured log, useful for wiring and debugging graphs.
package log_action

import (
	"context"
	"log/slog"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/protocol"
)

func NewLogActionFactory() *LogActionFactory {
	return &LogActionFactory{}
}

type LogActionFactory struct{}

func (*LogActionFactory) ID() string {
	return "log"
}

func (f *LogActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewLogAction(config), nil
}

type LogAction struct {
	message string
	level   string
}

func NewLogAction(config map[string]any) *LogAction {
	message, _ := config["message"].(string)

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &LogAction{message: message, level: level}
}

func (a *LogAction) Execute(ctx context.Context, instanceContext models.Context, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("action_type", "log")

	switch a.level {
	case "debug":
		logger.DebugContext(ctx, a.message)
	case "warn":
		logger.WarnContext(ctx, a.message)
	case "error":
		logger.ErrorContext(ctx, a.message)
	default:
		logger.InfoContext(ctx, a.message)
	}

	return map[string]any{"message": a.message}, nil
}
