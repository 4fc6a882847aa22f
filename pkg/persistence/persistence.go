// Package persistence provides the data storage abstraction layer for the
// workflow engine: definitions, instances, tasks, delegations, timers and
// history, each keyed by ULID-style string identifiers.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowstate/pkg/models"
)

type Persistence interface {
	Definitions() DefinitionRepository
	Instances() InstanceRepository
	Tasks() TaskRepository
	Delegations() DelegationRepository
	Timers() TimerRepository
	History() HistoryRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type DefinitionRepository interface {
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error)
	SetActive(ctx context.Context, id string, active bool) error
}

type InstanceRepository interface {
	Save(ctx context.Context, instance *models.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	GetBySubject(ctx context.Context, subjectType, subjectID string) ([]*models.WorkflowInstance, error)
	SetLocked(ctx context.Context, id string, locked bool) error
}

type TaskRepository interface {
	Save(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Task, error)
	// ListByState returns all tasks spawned by the given state of a workflow,
	// regardless of status. The multi-approver consensus snapshot is built
	// from these.
	ListByState(ctx context.Context, workflowID, stateName string) ([]*models.Task, error)
	ListByAssignee(ctx context.Context, userID string) ([]*models.Task, error)
	FindOverdue(ctx context.Context, now time.Time) ([]*models.Task, error)
}

type DelegationRepository interface {
	Save(ctx context.Context, delegation *models.Delegation) error
	GetByID(ctx context.Context, id string) (*models.Delegation, error)
	// ActiveForDelegator returns the delegations where the given user is the
	// delegator and the window covers asOf, newest first.
	ActiveForDelegator(ctx context.Context, userID string, asOf time.Time) ([]*models.Delegation, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Delegation, error)
}

type TimerRepository interface {
	Save(ctx context.Context, timer *models.Timer) error
	GetByID(ctx context.Context, id string) (*models.Timer, error)
	// ListDue returns all unfired timers with trigger time at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*models.Timer, error)
	ListPendingByWorkflow(ctx context.Context, workflowID string) ([]*models.Timer, error)
	// MarkFired is the only path by which a timer becomes fired.
	MarkFired(ctx context.Context, id string, firedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// HistoryRepository is append-only: entries are never updated or deleted.
type HistoryRepository interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.HistoryEntry, error)
}
