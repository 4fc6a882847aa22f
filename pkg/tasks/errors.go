package tasks

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskAlreadyResolved is returned when completing a task that is no
	// longer pending. Re-completion is forbidden so duplicate submissions
	// cannot advance a workflow twice.
	ErrTaskAlreadyResolved = errors.New("task is already resolved")

	// ErrNotUserTaskState is returned when task creation is requested for a
	// state without a user task spec.
	ErrNotUserTaskState = errors.New("state does not declare a user task")
)

// UnauthorizedError is returned when the acting user is neither the task's
// assignee, a member of its assigned role, nor the assignee's resolved
// delegate.
type UnauthorizedError struct {
	TaskID  string
	ActorID string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("user %q is not authorized to complete task %q", e.ActorID, e.TaskID)
}
