package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceTransitions(t *testing.T) {
	tests := []struct {
		from    InstanceStatus
		to      InstanceStatus
		allowed bool
	}{
		{InstanceStatusRunning, InstanceStatusCompleted, true},
		{InstanceStatusRunning, InstanceStatusFailed, true},
		{InstanceStatusRunning, InstanceStatusCancelled, true},
		{InstanceStatusRunning, InstanceStatusSuspended, true},
		{InstanceStatusSuspended, InstanceStatusRunning, true},
		{InstanceStatusSuspended, InstanceStatusCancelled, true},
		{InstanceStatusSuspended, InstanceStatusCompleted, false},
		{InstanceStatusFailed, InstanceStatusRunning, true},
		{InstanceStatusFailed, InstanceStatusCancelled, true},
		{InstanceStatusCompleted, InstanceStatusRunning, false},
		{InstanceStatusCancelled, InstanceStatusRunning, false},
	}

	for _, tt := range tests {
		instance := &WorkflowInstance{Status: tt.from}

		assert.Equal(t, tt.allowed, instance.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestInstanceIsTerminal(t *testing.T) {
	assert.False(t, (&WorkflowInstance{Status: InstanceStatusRunning}).IsTerminal())
	assert.False(t, (&WorkflowInstance{Status: InstanceStatusSuspended}).IsTerminal())
	assert.True(t, (&WorkflowInstance{Status: InstanceStatusCompleted}).IsTerminal())
	assert.True(t, (&WorkflowInstance{Status: InstanceStatusFailed}).IsTerminal())
	assert.True(t, (&WorkflowInstance{Status: InstanceStatusCancelled}).IsTerminal())
}

func TestCurrentNodeSet(t *testing.T) {
	instance := &WorkflowInstance{CurrentNodeIDs: []string{"a", "b", "c"}}

	instance.AddCurrentNode("b") // duplicate, ignored
	assert.Equal(t, []string{"a", "b", "c"}, instance.CurrentNodeIDs)

	instance.AddCurrentNode("d")
	assert.Equal(t, []string{"a", "b", "c", "d"}, instance.CurrentNodeIDs)

	instance.RemoveCurrentNode("b")
	assert.Equal(t, []string{"a", "c", "d"}, instance.CurrentNodeIDs)

	assert.True(t, instance.HasCurrentNode("c"))
	assert.False(t, instance.HasCurrentNode("b"))
}
