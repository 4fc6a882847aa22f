// Package models defines the core domain models for the workflow engine.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/flowstate/pkg/conditions"
)

// Definition validation errors.
var (
	ErrNoInitialState        = errors.New("definition must declare exactly one initial state")
	ErrMultipleInitialStates = errors.New("definition declares more than one initial state")
	ErrDuplicateState        = errors.New("duplicate state name")
	ErrDuplicateTransition   = errors.New("duplicate transition name")
	ErrUnknownState          = errors.New("transition references an undeclared state")
	ErrInvalidGuard          = errors.New("invalid guard expression")
	ErrInvalidAssigneeSpec   = errors.New("user task must set exactly one of assigned user, role or approvers")
)

// WorkflowDefinition is the immutable, versioned template for a class of
// business process. Instances pin the definition version they were started
// against, so deactivating or replacing a definition never affects running
// instances.
type WorkflowDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"          validate:"required,min=3"`
	Description string         `json:"description"`
	Version     int            `json:"version"       validate:"required,min=1"`
	IsActive    bool           `json:"is_active"`
	Schema      *DataSchema    `json:"schema,omitempty"`
	States      []*State       `json:"states"        validate:"required,min=1"`
	Transitions []*Transition  `json:"transitions"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// State is a named node in the definition's state graph.
type State struct {
	Name            string             `json:"name"  validate:"required"`
	Label           string             `json:"label"`
	IsInitial       bool               `json:"is_initial"`
	IsFinal         bool               `json:"is_final"`
	UserTask        *UserTaskSpec      `json:"user_task,omitempty"`
	Automation      *AutomationRules   `json:"automation,omitempty"`
	EntryActivities []*ActivityBinding `json:"entry_activities,omitempty"`
	ExitActivities  []*ActivityBinding `json:"exit_activities,omitempty"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
}

// Transition connects one or more source states to a single target state.
// An optional guard expression gates whether the transition may fire.
type Transition struct {
	Name       string         `json:"name"        validate:"required"`
	Label      string         `json:"label"`
	FromStates []string       `json:"from_states" validate:"required,min=1"`
	ToState    string         `json:"to_state"    validate:"required"`
	Guard      string         `json:"guard,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ActivityBinding attaches a registered activity to state entry or exit.
type ActivityBinding struct {
	Activity string         `json:"activity" validate:"required"`
	Config   map[string]any `json:"config,omitempty"`
}

// UserTaskSpec marks a state as requiring human action before the workflow
// can progress, and describes who has to act. Exactly one of AssignedUserID,
// AssignedRole or Policy (multi-approver) must be set.
type UserTaskSpec struct {
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	AssignedUserID string          `json:"assigned_user_id,omitempty"`
	AssignedRole   string          `json:"assigned_role,omitempty"`
	Policy         *ApprovalPolicy `json:"policy,omitempty"`
	Priority       string          `json:"priority,omitempty"`
	DueIn          time.Duration   `json:"due_in,omitempty"`
	// Routes maps a task action (e.g. "approve") to the transition the
	// engine should drive once the task outcome is final.
	Routes map[string]string `json:"routes,omitempty"`
}

// ApprovalPolicy configures multi-approver consensus for a user-task state.
type ApprovalPolicy struct {
	Strategy  string             `json:"strategy"  validate:"required"`
	Approvers []string           `json:"approvers" validate:"required,min=1"`
	Threshold float64            `json:"threshold,omitempty"`
	Weights   map[string]float64 `json:"weights,omitempty"`
}

// AutomationRules describe the time-based actions attached to a state.
type AutomationRules struct {
	Escalation   *EscalationPolicy `json:"escalation,omitempty"`
	SLADeadline  time.Duration     `json:"sla_deadline,omitempty"`
	ReminderCron string            `json:"reminder_cron,omitempty"`
}

// EscalationPolicy fires after the workflow has sat in a state for After.
// When Transition is set the engine attempts that transition (only if the
// instance is still in the originating state); otherwise an escalation event
// is emitted for the notification sink.
type EscalationPolicy struct {
	After      time.Duration `json:"after" validate:"required"`
	Transition string        `json:"transition,omitempty"`
}

// Validate checks the structural invariants of the definition: exactly one
// initial state, unique state and transition names, every transition endpoint
// declared, and every guard expression syntactically valid.
func (d *WorkflowDefinition) Validate() error {
	states := make(map[string]*State, len(d.States))
	initial := 0

	for _, state := range d.States {
		if _, exists := states[state.Name]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateState, state.Name)
		}

		states[state.Name] = state

		if state.IsInitial {
			initial++
		}

		if state.UserTask != nil {
			if err := state.UserTask.validate(); err != nil {
				return fmt.Errorf("state %q: %w", state.Name, err)
			}
		}
	}

	switch {
	case initial == 0:
		return ErrNoInitialState
	case initial > 1:
		return ErrMultipleInitialStates
	}

	seen := make(map[string]struct{}, len(d.Transitions))

	for _, transition := range d.Transitions {
		if _, exists := seen[transition.Name]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateTransition, transition.Name)
		}

		seen[transition.Name] = struct{}{}

		if _, ok := states[transition.ToState]; !ok {
			return fmt.Errorf("%w: transition %q -> %q", ErrUnknownState, transition.Name, transition.ToState)
		}

		for _, from := range transition.FromStates {
			if _, ok := states[from]; !ok {
				return fmt.Errorf("%w: transition %q from %q", ErrUnknownState, transition.Name, from)
			}
		}

		if transition.Guard != "" {
			if err := conditions.Validate(transition.Guard); err != nil {
				return fmt.Errorf("%w: transition %q: %w", ErrInvalidGuard, transition.Name, err)
			}
		}
	}

	return nil
}

func (s *UserTaskSpec) validate() error {
	set := 0
	if s.AssignedUserID != "" {
		set++
	}

	if s.AssignedRole != "" {
		set++
	}

	if s.Policy != nil {
		set++
	}

	if set != 1 {
		return ErrInvalidAssigneeSpec
	}

	return nil
}

// InitialState returns the single state flagged as initial.
func (d *WorkflowDefinition) InitialState() (*State, bool) {
	for _, state := range d.States {
		if state.IsInitial {
			return state, true
		}
	}

	return nil, false
}

// StateByName looks up a declared state.
func (d *WorkflowDefinition) StateByName(name string) (*State, bool) {
	for _, state := range d.States {
		if state.Name == name {
			return state, true
		}
	}

	return nil, false
}

// TransitionByName looks up a declared transition.
func (d *WorkflowDefinition) TransitionByName(name string) (*Transition, bool) {
	for _, transition := range d.Transitions {
		if transition.Name == name {
			return transition, true
		}
	}

	return nil, false
}

// TransitionsFrom returns all transitions whose FromStates include the given
// state, in declaration order.
func (d *WorkflowDefinition) TransitionsFrom(state string) []*Transition {
	matches := make([]*Transition, 0)

	for _, transition := range d.Transitions {
		if transition.AllowsFrom(state) {
			matches = append(matches, transition)
		}
	}

	return matches
}

// AllowsFrom reports whether the transition may fire from the given state.
func (t *Transition) AllowsFrom(state string) bool {
	for _, from := range t.FromStates {
		if from == state {
			return true
		}
	}

	return false
}
