// Package notify defines the post-commit notification collaborator. The
// runtime calls it after a successful unit-of-work commit; failures are
// logged and never roll back the already-committed workflow state.
package notify

import (
	"context"
	"log/slog"
)

// Notification identifies the workflow state change and its audience.
type Notification struct {
	TenantID   string
	InstanceID string
	Kind       string   // e.g. "task.created", "instance.completed"
	Audience   []string // affected user ids and/or role names
	Data       map[string]any
}

// Notifier dispatches notifications to an external push transport.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// LogNotifier is the default Notifier: it records the notification in
// the structured log. Production deployments swap in a real transport.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	n.logger.InfoContext(ctx, "Workflow notification",
		"tenant_id", notification.TenantID,
		"instance_id", notification.InstanceID,
		"kind", notification.Kind,
		"audience", notification.Audience)

	return nil
}
