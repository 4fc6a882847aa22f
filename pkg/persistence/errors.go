// Package persistence provides standardized error types for persistence
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a workflow definition was not found by
	// the given identifier.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrInstanceNotFound indicates a workflow instance was not found.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrTaskNotFound indicates a task was not found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDelegationNotFound indicates a delegation was not found.
	ErrDelegationNotFound = errors.New("delegation not found")

	// ErrTimerNotFound indicates a timer was not found.
	ErrTimerNotFound = errors.New("timer not found")
)

// StorageError wraps persistence errors with operation context.
type StorageError struct {
	Op     string // Operation being performed (e.g. "GetByID", "Save")
	Entity string // Aggregate name (e.g. "instance", "task")
	ID     string // Record ID if applicable
	Err    error  // Underlying error
}

func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for storage errors.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStorageError creates a storage error with context.
func NewStorageError(op, entity, id string, err error) *StorageError {
	return &StorageError{Op: op, Entity: entity, ID: id, Err: err}
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

// IsTimerNotFound checks if an error indicates a missing timer.
func IsTimerNotFound(err error) bool {
	return errors.Is(err, ErrTimerNotFound)
}

// IsDelegationNotFound checks if an error indicates a missing delegation.
func IsDelegationNotFound(err error) bool {
	return errors.Is(err, ErrDelegationNotFound)
}
