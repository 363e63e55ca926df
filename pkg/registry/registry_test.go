package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/loom/pkg/models"
	"github.com/loopkit/loom/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubExecutor struct {
	nodeType string
}

func (e *stubExecutor) NodeType() string { return e.nodeType }

func (e *stubExecutor) CanExecute(node *models.Node) bool { return node.Type == e.nodeType }

func (e *stubExecutor) Execute(ctx context.Context, scope *protocol.ExecutionScope) (*models.NodeExecutionResult, error) {
	return models.Succeeded(), nil
}

type stubFactory struct{}

func (f *stubFactory) ID() string { return "stub" }

func (f *stubFactory) Create(config map[string]any) (protocol.Action, error) {
	return nil, nil
}

func TestResolveExecutorPicksFirstMatch(t *testing.T) {
	reg := NewRegistry(testLogger())

	first := &stubExecutor{nodeType: "custom"}
	second := &stubExecutor{nodeType: "custom"}

	reg.RegisterExecutor(first)
	reg.RegisterExecutor(second)

	resolved, err := reg.ResolveExecutor(&models.Node{ID: "n1", Type: "custom"})
	require.NoError(t, err)
	assert.Same(t, first, resolved)
}

func TestResolveExecutorUnknownType(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterExecutor(&stubExecutor{nodeType: "custom"})

	_, err := reg.ResolveExecutor(&models.Node{ID: "n1", Type: "other"})
	assert.Error(t, err)
}

func TestCreateActionUnknownType(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterAction(&stubFactory{})

	_, err := reg.CreateAction("stub", nil)
	require.NoError(t, err)

	_, err = reg.CreateAction("missing", nil)
	assert.Error(t, err)
}
