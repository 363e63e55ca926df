package models

// FailureDirective tells the runtime how to react to an executor failure.
type FailureDirective string

const (
	// FailInstance transitions the instance to Failed.
	FailInstance FailureDirective = "fail"
	// SuspendInstance parks the instance in Suspended for manual review.
	SuspendInstance FailureDirective = "suspend"
)

// NodeExecutionResult is the outcome of running one node.
type NodeExecutionResult struct {
	// Success is false when the node failed; ErrorMessage then carries
	// the reason and OnFailure the directive.
	Success      bool
	ErrorMessage string
	OnFailure    FailureDirective

	// UpdatedContext is merged (never replaced) into instance context.
	UpdatedContext Context

	// NextNodeIDs are activated after this node leaves the active set.
	NextNodeIDs []string

	// ShouldWait keeps the node in the active set until an external
	// trigger re-enters the advance cycle.
	ShouldWait bool
}

// Succeeded returns a successful result activating the given nodes.
func Succeeded(next ...string) *NodeExecutionResult {
	return &NodeExecutionResult{Success: true, NextNodeIDs: next}
}

// Waiting returns a successful result that parks the instance at the node.
func Waiting() *NodeExecutionResult {
	return &NodeExecutionResult{Success: true, ShouldWait: true}
}

// Failed returns a failing result with the FailInstance directive.
func Failed(message string) *NodeExecutionResult {
	return &NodeExecutionResult{
		Success:      false,
		ErrorMessage: message,
		OnFailure:    FailInstance,
	}
}
