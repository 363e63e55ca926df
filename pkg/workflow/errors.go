package workflow

import "errors"

var (
	// ErrInstanceTerminal is returned by lifecycle operations invoked on
	// an instance that already reached Completed, Failed or Cancelled.
	ErrInstanceTerminal = errors.New("workflow instance is in a terminal state")

	// ErrInvalidTransition is returned when an operation requires a
	// status the instance is not in, e.g. retrying a non-failed instance.
	ErrInvalidTransition = errors.New("invalid workflow instance state transition")

	// ErrTaskNotCompletable is returned when CompleteTask is invoked on a
	// task that is not Claimed or InProgress.
	ErrTaskNotCompletable = errors.New("task is not in a completable state")
)
