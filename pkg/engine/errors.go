package engine

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to callers alongside the message. Codes never
// change between releases; messages may.
const (
	CodeDefinitionInactive = "definition_inactive"
	CodeInvalidData        = "invalid_data"
	CodeWorkflowLocked     = "workflow_locked"
	CodeTransitionNotFound = "transition_not_found"
	CodeInvalidTransition  = "invalid_transition"
	CodeGuardNotSatisfied  = "guard_not_satisfied"
	CodeActivityFailed     = "activity_failed"
	CodeWorkflowCompleted  = "workflow_completed"
)

var (
	// ErrDefinitionInactive is returned by Start when the definition has
	// been deactivated. Running instances keep their pinned version.
	ErrDefinitionInactive = errors.New("workflow definition is inactive")

	// ErrWorkflowLocked is returned when another transition is in flight on
	// the same instance, or the instance's lock flag is stuck from a prior
	// failure and needs an explicit Unlock.
	ErrWorkflowLocked = errors.New("workflow instance is locked")

	// ErrWorkflowCompleted is returned when transitioning an instance that
	// already reached a final state.
	ErrWorkflowCompleted = errors.New("workflow instance is completed")

	// ErrTransitionNotFound is returned when the definition declares no
	// transition with the requested name.
	ErrTransitionNotFound = errors.New("transition not found in definition")
)

// InvalidTransitionError is returned when the instance's current state is
// not among the transition's source states.
type InvalidTransitionError struct {
	Transition   string
	CurrentState string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition %q cannot fire from state %q", e.Transition, e.CurrentState)
}

// GuardNotSatisfiedError is returned when the transition's guard evaluates
// to false against the instance data merged with the caller's patch.
type GuardNotSatisfiedError struct {
	Transition string
	Guard      string
}

func (e *GuardNotSatisfiedError) Error() string {
	return fmt.Sprintf("guard %q for transition %q not satisfied", e.Guard, e.Transition)
}

// InvalidDataError is returned when instance data fails the definition's
// schema.
type InvalidDataError struct {
	Err error
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("workflow data is invalid: %v", e.Err)
}

func (e *InvalidDataError) Unwrap() error {
	return e.Err
}

// ActivityExecutionError is returned when an entry or exit activity fails
// during a transition. The instance is left bit-for-bit unchanged; the
// compensation path has already run by the time this surfaces.
type ActivityExecutionError struct {
	Activity string
	Phase    string // "entry" or "exit"
	Err      error
}

func (e *ActivityExecutionError) Error() string {
	return fmt.Sprintf("%s activity %q failed: %v", e.Phase, e.Activity, e.Err)
}

func (e *ActivityExecutionError) Unwrap() error {
	return e.Err
}

// Code maps any engine failure to its stable error code, or "" for errors
// outside the engine taxonomy (storage faults and the like).
func Code(err error) string {
	var (
		invalidTransition *InvalidTransitionError
		guard             *GuardNotSatisfiedError
		invalidData       *InvalidDataError
		activity          *ActivityExecutionError
	)

	switch {
	case errors.Is(err, ErrDefinitionInactive):
		return CodeDefinitionInactive
	case errors.Is(err, ErrWorkflowLocked):
		return CodeWorkflowLocked
	case errors.Is(err, ErrWorkflowCompleted):
		return CodeWorkflowCompleted
	case errors.Is(err, ErrTransitionNotFound):
		return CodeTransitionNotFound
	case errors.As(err, &invalidTransition):
		return CodeInvalidTransition
	case errors.As(err, &guard):
		return CodeGuardNotSatisfied
	case errors.As(err, &invalidData):
		return CodeInvalidData
	case errors.As(err, &activity):
		return CodeActivityFailed
	}

	return ""
}
