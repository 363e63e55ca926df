// Package protocol defines the interfaces and contracts for pluggable
// node executors, node actions and post-commit notification.
package protocol

import (
	"context"
	"log/slog"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/persistence"
)

// ExecutionScope carries everything an executor may touch while running
// one node. Writes go through the unit of work only; the runtime commits
// them atomically at the end of the advance cycle.
type ExecutionScope struct {
	Definition *models.WorkflowDefinition
	Instance   *models.WorkflowInstance
	Node       *models.Node

	// Context is a read-only snapshot of instance context. Updates are
	// returned on the result and merged by the runtime.
	Context models.Context

	UnitOfWork persistence.UnitOfWork
	Logger     *slog.Logger
}

// Executor runs one node type. Implementations are registered with the
// registry and selected by a first-match CanExecute scan, so new node
// types are added by registering a new implementation, never by
// modifying the runtime.
type Executor interface {
	// NodeType returns the type identifier this executor handles.
	NodeType() string

	// CanExecute reports whether this executor can run the node.
	CanExecute(node *models.Node) bool

	// Execute runs the node. A returned error means the executor itself
	// broke; domain failures are reported on the result instead.
	Execute(ctx context.Context, scope *ExecutionScope) (*models.NodeExecutionResult, error)
}
