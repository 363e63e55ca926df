// Package persistence provides standardized error types for storage operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates no definition exists for the identifier.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrDefinitionNotPublished indicates the definition exists but has
	// no published version usable for execution.
	ErrDefinitionNotPublished = errors.New("workflow definition not published")

	// ErrInstanceNotFound indicates an instance was not found.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrTaskNotFound indicates a task was not found.
	ErrTaskNotFound = errors.New("workflow task not found")

	// ErrConcurrentUpdate indicates the optimistic version check failed:
	// another advance cycle committed first. Callers retry the whole
	// cycle from freshly reloaded state.
	ErrConcurrentUpdate = errors.New("concurrent instance update")
)

// StoreError wraps storage errors with operation and entity context.
type StoreError struct {
	Op       string // Operation being performed (e.g., "GetByID", "Commit")
	TenantID string
	EntityID string
	Err      error
}

func (e *StoreError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s failed for %s (tenant %s): %v", e.Op, e.EntityID, e.TenantID, e.Err)
	}

	return fmt.Sprintf("%s failed (tenant %s): %v", e.Op, e.TenantID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a storage error with context.
func NewStoreError(op, tenantID, entityID string, err error) *StoreError {
	return &StoreError{Op: op, TenantID: tenantID, EntityID: entityID, Err: err}
}

// IsDefinitionNotFound checks if an error indicates a missing definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsInstanceNotFound checks if an error indicates a missing instance.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsTaskNotFound checks if an error indicates a missing task.
func IsTaskNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}

// IsConcurrentUpdate checks if an error indicates a lost optimistic write.
func IsConcurrentUpdate(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate)
}
