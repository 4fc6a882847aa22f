// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukex/flowstate/pkg/models"
)

// CreateTestDefinition creates the purchase-order approval definition shared
// by the engine and task tests:
// Draft(initial) -> Submitted -> Approved(final)/Rejected(final).
func CreateTestDefinition(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	now := time.Now().UTC()
	definition := &models.WorkflowDefinition{
		ID:       uuid.New().String(),
		Name:     "purchase-order-approval",
		Version:  1,
		IsActive: true,
		States: []*models.State{
			{Name: "draft", IsInitial: true},
			{Name: "submitted"},
			{Name: "approved", IsFinal: true},
			{Name: "rejected", IsFinal: true},
		},
		Transitions: []*models.Transition{
			{Name: "submit", FromStates: []string{"draft"}, ToState: "submitted"},
			{Name: "approve", FromStates: []string{"submitted"}, ToState: "approved"},
			{Name: "reject", FromStates: []string{"submitted"}, ToState: "rejected"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(definition)
	}

	return definition
}

// WithGuard sets the guard on the named transition.
func WithGuard(transition, guard string) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		for _, t := range d.Transitions {
			if t.Name == transition {
				t.Guard = guard
			}
		}
	}
}

// WithUserTask attaches a user task spec to the named state.
func WithUserTask(state string, spec *models.UserTaskSpec) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		for _, s := range d.States {
			if s.Name == state {
				s.UserTask = spec
			}
		}
	}
}

// WithAutomation attaches automation rules to the named state.
func WithAutomation(state string, rules *models.AutomationRules) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		for _, s := range d.States {
			if s.Name == state {
				s.Automation = rules
			}
		}
	}
}

// WithEntryActivities binds entry activities to the named state.
func WithEntryActivities(state string, bindings ...*models.ActivityBinding) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		for _, s := range d.States {
			if s.Name == state {
				s.EntryActivities = bindings
			}
		}
	}
}

// WithExitActivities binds exit activities to the named state.
func WithExitActivities(state string, bindings ...*models.ActivityBinding) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		for _, s := range d.States {
			if s.Name == state {
				s.ExitActivities = bindings
			}
		}
	}
}

// WithInactive marks the definition inactive.
func WithInactive() func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.IsActive = false
	}
}

// CreateTestTask creates a pending test task with default values.
func CreateTestTask(overrides ...func(*models.Task)) *models.Task {
	task := &models.Task{
		ID:             uuid.New().String(),
		WorkflowID:     uuid.New().String(),
		StateName:      "submitted",
		Title:          "Review purchase order",
		AssignedUserID: "alice",
		Status:         models.TaskStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	for _, override := range overrides {
		override(task)
	}

	return task
}

// WithDueAt sets the task due time.
func WithDueAt(due time.Time) func(*models.Task) {
	return func(t *models.Task) {
		t.DueAt = &due
	}
}

// CreateTestDelegation creates a delegation active around now.
func CreateTestDelegation(delegator, delegatee string, overrides ...func(*models.Delegation)) *models.Delegation {
	now := time.Now().UTC()
	delegation := &models.Delegation{
		ID:          uuid.New().String(),
		DelegatorID: delegator,
		DelegateeID: delegatee,
		StartsAt:    now.Add(-time.Hour),
		EndsAt:      now.Add(time.Hour),
		CreatedAt:   now,
	}

	for _, override := range overrides {
		override(delegation)
	}

	return delegation
}

// Approvals builds an approvals snapshot from approver id to action.
func Approvals(actions map[string]string) []models.Approval {
	approvals := make([]models.Approval, 0, len(actions))
	for approver, action := range actions {
		approvals = append(approvals, models.Approval{
			ApproverID: approver,
			Action:     action,
			RecordedAt: time.Now().UTC(),
		})
	}

	return approvals
}
