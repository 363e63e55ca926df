// Package registry holds the registered node executors and action
// factories the runtime dispatches to.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/protocol"
)

type Registry struct {
	logger          *slog.Logger
	executors       []protocol.Executor
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger,
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

// RegisterExecutor appends an executor. Registration order matters: the
// first executor whose CanExecute matches a node wins.
func (r *Registry) RegisterExecutor(executor protocol.Executor) {
	r.executors = append(r.executors, executor)
	r.logger.Debug("Registered node executor", "node_type", executor.NodeType())
}

// ResolveExecutor scans registered executors and returns the first match.
func (r *Registry) ResolveExecutor(node *models.Node) (protocol.Executor, error) {
	for _, executor := range r.executors {
		if executor.CanExecute(node) {
			return executor, nil
		}
	}

	return nil, fmt.Errorf("no executor registered for node type %q", node.Type)
}

// Executors returns the registered executors in registration order.
func (r *Registry) Executors() []protocol.Executor {
	return r.executors
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
	r.logger.Debug("Registered node action", "action_type", factory.ID())
}

// CreateAction builds an action of the given type from its configuration.
func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type %q not registered", actionType)
	}

	return factory.Create(config)
}
