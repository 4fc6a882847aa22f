// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"time"

	"github.com/dukex/flowstate/pkg/models"
)

// CreateDefinitionRequest represents the request body for registering a new
// workflow definition.
type CreateDefinitionRequest struct {
	Name        string               `json:"name"        validate:"required,min=3"`
	Description string               `json:"description"`
	Version     int                  `json:"version"     validate:"required,min=1"`
	Schema      *models.DataSchema   `json:"schema,omitempty"`
	States      []*models.State      `json:"states"      validate:"required,min=1"`
	Transitions []*models.Transition `json:"transitions"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
}

// StartWorkflowRequest represents the request body for starting a workflow
// instance against a registered definition.
type StartWorkflowRequest struct {
	DefinitionID string         `json:"definition_id" validate:"required"`
	SubjectType  string         `json:"subject_type"  validate:"required"`
	SubjectID    string         `json:"subject_id"    validate:"required"`
	Data         map[string]any `json:"data,omitempty"`
}

// TransitionRequest represents the request body for applying a transition.
type TransitionRequest struct {
	ActorID string         `json:"actor_id,omitempty"`
	Comment string         `json:"comment,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// CompleteTaskRequest represents the request body for completing a task.
type CompleteTaskRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	Action  string `json:"action"   validate:"required"`
	Comment string `json:"comment,omitempty"`
}

// CreateDelegationRequest represents the request body for registering a
// time-bounded delegation.
type CreateDelegationRequest struct {
	DelegatorID string    `json:"delegator_id" validate:"required"`
	DelegateeID string    `json:"delegatee_id" validate:"required,nefield=DelegatorID"`
	StartsAt    time.Time `json:"starts_at"    validate:"required"`
	EndsAt      time.Time `json:"ends_at"      validate:"required,gtfield=StartsAt"`
}

// CompleteTaskResponse reports the task plus the aggregate outcome, including
// the follow-up transition the engine drove when the verdict routed one.
type CompleteTaskResponse struct {
	Task     *models.Task             `json:"task"`
	Final    bool                     `json:"final"`
	Verdict  string                   `json:"verdict,omitempty"`
	Workflow *models.WorkflowInstance `json:"workflow,omitempty"`
}
