package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:       "def-1",
		Name:     "purchase-order-approval",
		Version:  1,
		IsActive: true,
		States: []*State{
			{Name: "draft", IsInitial: true},
			{Name: "submitted"},
			{Name: "approved", IsFinal: true},
			{Name: "rejected", IsFinal: true},
		},
		Transitions: []*Transition{
			{Name: "submit", FromStates: []string{"draft"}, ToState: "submitted"},
			{Name: "approve", FromStates: []string{"submitted"}, ToState: "approved"},
			{Name: "reject", FromStates: []string{"submitted"}, ToState: "rejected"},
		},
	}
}

func TestWorkflowDefinitionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WorkflowDefinition)
		wantErr error
	}{
		{
			name:   "valid definition",
			mutate: func(d *WorkflowDefinition) {},
		},
		{
			name: "no initial state",
			mutate: func(d *WorkflowDefinition) {
				d.States[0].IsInitial = false
			},
			wantErr: ErrNoInitialState,
		},
		{
			name: "multiple initial states",
			mutate: func(d *WorkflowDefinition) {
				d.States[1].IsInitial = true
			},
			wantErr: ErrMultipleInitialStates,
		},
		{
			name: "duplicate state name",
			mutate: func(d *WorkflowDefinition) {
				d.States = append(d.States, &State{Name: "draft"})
			},
			wantErr: ErrDuplicateState,
		},
		{
			name: "duplicate transition name",
			mutate: func(d *WorkflowDefinition) {
				d.Transitions = append(d.Transitions, &Transition{
					Name:       "submit",
					FromStates: []string{"submitted"},
					ToState:    "draft",
				})
			},
			wantErr: ErrDuplicateTransition,
		},
		{
			name: "transition to undeclared state",
			mutate: func(d *WorkflowDefinition) {
				d.Transitions[1].ToState = "archived"
			},
			wantErr: ErrUnknownState,
		},
		{
			name: "transition from undeclared state",
			mutate: func(d *WorkflowDefinition) {
				d.Transitions[0].FromStates = []string{"archived"}
			},
			wantErr: ErrUnknownState,
		},
		{
			name: "invalid guard expression",
			mutate: func(d *WorkflowDefinition) {
				d.Transitions[1].Guard = "amount >"
			},
			wantErr: ErrInvalidGuard,
		},
		{
			name: "user task without assignee",
			mutate: func(d *WorkflowDefinition) {
				d.States[1].UserTask = &UserTaskSpec{Title: "Review"}
			},
			wantErr: ErrInvalidAssigneeSpec,
		},
		{
			name: "user task with both user and role",
			mutate: func(d *WorkflowDefinition) {
				d.States[1].UserTask = &UserTaskSpec{
					AssignedUserID: "alice",
					AssignedRole:   "manager",
				}
			},
			wantErr: ErrInvalidAssigneeSpec,
		},
		{
			name: "user task with policy only",
			mutate: func(d *WorkflowDefinition) {
				d.States[1].UserTask = &UserTaskSpec{
					Policy: &ApprovalPolicy{
						Strategy:  "unanimous",
						Approvers: []string{"alice", "bob"},
					},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			definition := validDefinition()
			tt.mutate(definition)

			err := definition.Validate()
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestInitialState(t *testing.T) {
	definition := validDefinition()

	initial, ok := definition.InitialState()
	require.True(t, ok)
	assert.Equal(t, "draft", initial.Name)

	definition.States[0].IsInitial = false

	_, ok = definition.InitialState()
	assert.False(t, ok)
}

func TestTransitionsFrom(t *testing.T) {
	definition := validDefinition()

	from := definition.TransitionsFrom("submitted")
	require.Len(t, from, 2)
	assert.Equal(t, "approve", from[0].Name)
	assert.Equal(t, "reject", from[1].Name)

	assert.Empty(t, definition.TransitionsFrom("approved"))
}

func TestTransitionAllowsFrom(t *testing.T) {
	transition := &Transition{
		Name:       "archive",
		FromStates: []string{"approved", "rejected"},
		ToState:    "archived",
	}

	assert.True(t, transition.AllowsFrom("approved"))
	assert.True(t, transition.AllowsFrom("rejected"))
	assert.False(t, transition.AllowsFrom("draft"))
}

func TestDataSchemaValidate(t *testing.T) {
	schema := &DataSchema{
		Document: map[string]any{
			"type":     "object",
			"required": []any{"amount"},
			"properties": map[string]any{
				"amount": map[string]any{"type": "number", "minimum": 0},
			},
		},
	}

	require.NoError(t, schema.Validate(map[string]any{"amount": 150.0}))

	err := schema.Validate(map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaViolation)

	var validationErr *SchemaValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.NotEmpty(t, validationErr.Failures)
}

func TestDataSchemaValidate_EmptySchemaAcceptsAnything(t *testing.T) {
	var schema *DataSchema

	require.NoError(t, schema.Validate(map[string]any{"anything": true}))
	require.NoError(t, (&DataSchema{}).Validate(nil))
}
