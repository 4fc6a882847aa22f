// Package tasks creates, assigns and resolves the human tasks that block
// progress through user-task states. Multi-approver states get one task per
// configured approver; the approvals snapshot evaluated by the approval
// strategy is the set of completed sibling tasks for the same workflow and
// state.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowstate/pkg/delegation"
	"github.com/dukex/flowstate/pkg/eventbus"
	"github.com/dukex/flowstate/pkg/events"
	"github.com/dukex/flowstate/pkg/history"
	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
	"github.com/dukex/flowstate/pkg/registry"
)

// RoleMembership answers whether a user belongs to a role. Identity and
// group management live outside the engine; domain code supplies the
// implementation.
type RoleMembership interface {
	IsMember(ctx context.Context, userID, role string) (bool, error)
}

// Outcome is the result of completing one task. Final reports whether the
// aggregate verdict for the task's state is decided; Route carries the
// transition configured for that verdict, if any.
type Outcome struct {
	Task    *models.Task
	Final   bool
	Verdict string
	Route   string
}

// Manager drives the task lifecycle for user-task states.
type Manager struct {
	persistence persistence.Persistence
	resolver    *delegation.Resolver
	registry    *registry.Registry
	recorder    *history.Recorder
	roles       RoleMembership
	eventBus    eventbus.EventBus
	logger      *slog.Logger
}

func NewManager(
	persistence persistence.Persistence,
	resolver *delegation.Resolver,
	registry *registry.Registry,
	recorder *history.Recorder,
	roles RoleMembership,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		persistence: persistence,
		resolver:    resolver,
		registry:    registry,
		recorder:    recorder,
		roles:       roles,
		eventBus:    eventBus,
		logger:      logger.With("module", "tasks"),
	}
}

// CreateTasks creates the pending task(s) for a user-task state the
// instance just entered. Assignees are resolved through the delegation
// resolver; role-assigned states get a single unrouted task claimable by
// any role member.
func (m *Manager) CreateTasks(ctx context.Context, instance *models.WorkflowInstance, state *models.State) ([]*models.Task, error) {
	spec := state.UserTask
	if spec == nil {
		return nil, fmt.Errorf("state %q: %w", state.Name, ErrNotUserTaskState)
	}

	now := time.Now().UTC()

	var created []*models.Task

	switch {
	case spec.Policy != nil:
		for _, approver := range spec.Policy.Approvers {
			effective, err := m.resolver.ResolveAssignee(ctx, approver, now)
			if err != nil {
				return nil, err
			}

			task := m.newTask(instance, state, spec, now)
			task.ApproverID = approver
			task.AssignedUserID = effective

			created = append(created, task)
		}
	case spec.AssignedUserID != "":
		effective, err := m.resolver.ResolveAssignee(ctx, spec.AssignedUserID, now)
		if err != nil {
			return nil, err
		}

		task := m.newTask(instance, state, spec, now)
		task.AssignedUserID = effective

		created = append(created, task)
	default:
		task := m.newTask(instance, state, spec, now)
		task.AssignedRole = spec.AssignedRole

		created = append(created, task)
	}

	for _, task := range created {
		if err := m.persistence.Tasks().Save(ctx, task); err != nil {
			return nil, fmt.Errorf("failed to save task: %w", err)
		}

		m.publishCreated(ctx, task)
	}

	_, err := m.recorder.RecordTaskAction(ctx, instance.ID, state.Name, "", "", map[string]any{
		"event":      "tasks_created",
		"task_count": len(created),
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "created tasks",
		"workflow_id", instance.ID, "state", state.Name, "count", len(created))

	return created, nil
}

// Complete records the actor's action on a pending task and evaluates the
// aggregate outcome for the task's state. For single-assignee and role
// tasks the outcome is final immediately; for multi-approver tasks the
// configured strategy decides, and a final verdict cancels the remaining
// pending siblings.
func (m *Manager) Complete(ctx context.Context, taskID, actorID, action, comment string) (*Outcome, error) {
	task, err := m.persistence.Tasks().GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !task.IsPending() {
		return nil, fmt.Errorf("task %q: %w", taskID, ErrTaskAlreadyResolved)
	}

	if err := m.authorize(ctx, task, actorID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task.Status = models.TaskStatusCompleted
	task.CompletedAt = &now
	task.CompletedBy = actorID
	task.Action = action
	task.Comment = comment

	if err := m.persistence.Tasks().Save(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	state, err := m.stateFor(ctx, task)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Task: task, Final: true, Verdict: action}

	if state.UserTask != nil && state.UserTask.Policy != nil {
		outcome, err = m.evaluatePolicy(ctx, task, state.UserTask.Policy)
		if err != nil {
			return nil, err
		}
	}

	if state.UserTask != nil && outcome.Final {
		outcome.Route = state.UserTask.Routes[outcome.Verdict]
	}

	m.publishCompleted(ctx, task, outcome)

	_, err = m.recorder.RecordTaskAction(ctx, task.WorkflowID, task.StateName, actorID, comment, map[string]any{
		"event":   "task_completed",
		"task_id": task.ID,
		"action":  action,
		"final":   outcome.Final,
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "task completed",
		"task_id", task.ID, "actor_id", actorID, "action", action,
		"final", outcome.Final, "verdict", outcome.Verdict)

	return outcome, nil
}

// FindOverdue returns pending tasks past their due time. The timer sweep
// uses this to drive escalations.
func (m *Manager) FindOverdue(ctx context.Context, now time.Time) ([]*models.Task, error) {
	return m.persistence.Tasks().FindOverdue(ctx, now)
}

// CancelPendingForState cancels every still-pending task spawned by the
// given state, recording the reason. Called when the workflow leaves the
// state through another path.
func (m *Manager) CancelPendingForState(ctx context.Context, workflowID, stateName, reason string) error {
	siblings, err := m.persistence.Tasks().ListByState(ctx, workflowID, stateName)
	if err != nil {
		return err
	}

	for _, task := range siblings {
		if !task.IsPending() {
			continue
		}

		task.Status = models.TaskStatusCancelled

		if err := m.persistence.Tasks().Save(ctx, task); err != nil {
			return fmt.Errorf("failed to cancel task %q: %w", task.ID, err)
		}

		m.publishCancelled(ctx, task, reason)
	}

	return nil
}

func (m *Manager) newTask(instance *models.WorkflowInstance, state *models.State, spec *models.UserTaskSpec, now time.Time) *models.Task {
	task := &models.Task{
		ID:          models.NewID(),
		WorkflowID:  instance.ID,
		StateName:   state.Name,
		Title:       spec.Title,
		Description: spec.Description,
		Status:      models.TaskStatusPending,
		Priority:    spec.Priority,
		CreatedAt:   now,
	}

	if spec.DueIn > 0 {
		due := now.Add(spec.DueIn)
		task.DueAt = &due
	}

	return task
}

func (m *Manager) authorize(ctx context.Context, task *models.Task, actorID string) error {
	if task.AssignedUserID == actorID {
		return nil
	}

	if task.AssignedRole != "" && m.roles != nil {
		member, err := m.roles.IsMember(ctx, actorID, task.AssignedRole)
		if err != nil {
			return fmt.Errorf("failed to check role membership: %w", err)
		}

		if member {
			return nil
		}
	}

	if task.AssignedUserID != "" {
		effective, err := m.resolver.ResolveAssignee(ctx, task.AssignedUserID, time.Now().UTC())
		if err != nil {
			return err
		}

		if effective == actorID {
			return nil
		}
	}

	return &UnauthorizedError{TaskID: task.ID, ActorID: actorID}
}

// evaluatePolicy builds the approvals snapshot from completed sibling tasks
// and asks the configured strategy for a verdict. ShouldReject wins over
// CanProceed so a single reject is never outvoted retroactively.
func (m *Manager) evaluatePolicy(ctx context.Context, task *models.Task, policy *models.ApprovalPolicy) (*Outcome, error) {
	strategy, err := m.registry.ApprovalStrategy(policy.Strategy)
	if err != nil {
		return nil, err
	}

	siblings, err := m.persistence.Tasks().ListByState(ctx, task.WorkflowID, task.StateName)
	if err != nil {
		return nil, err
	}

	approvals := make([]models.Approval, 0, len(siblings))

	for _, sibling := range siblings {
		if sibling.Status != models.TaskStatusCompleted {
			continue
		}

		// Count the configured approver, not the delegate the task landed on;
		// the strategy matches identities against the policy's approver list.
		approverID := sibling.ApproverID
		if approverID == "" {
			approverID = sibling.AssignedUserID
		}

		if approverID == "" {
			approverID = sibling.CompletedBy
		}

		recordedAt := time.Time{}
		if sibling.CompletedAt != nil {
			recordedAt = *sibling.CompletedAt
		}

		approvals = append(approvals, models.Approval{
			ApproverID: approverID,
			Action:     sibling.Action,
			Comment:    sibling.Comment,
			RecordedAt: recordedAt,
		})
	}

	reject, err := strategy.ShouldReject(approvals, policy)
	if err != nil {
		return nil, err
	}

	if reject {
		if err := m.CancelPendingForState(ctx, task.WorkflowID, task.StateName, "verdict reached"); err != nil {
			return nil, err
		}

		return &Outcome{Task: task, Final: true, Verdict: models.TaskActionReject}, nil
	}

	proceed, err := strategy.CanProceed(approvals, policy)
	if err != nil {
		return nil, err
	}

	if proceed {
		if err := m.CancelPendingForState(ctx, task.WorkflowID, task.StateName, "verdict reached"); err != nil {
			return nil, err
		}

		return &Outcome{Task: task, Final: true, Verdict: models.TaskActionApprove}, nil
	}

	return &Outcome{Task: task, Final: false}, nil
}

// stateFor loads the state that spawned the task from the instance's
// pinned definition.
func (m *Manager) stateFor(ctx context.Context, task *models.Task) (*models.State, error) {
	instance, err := m.persistence.Instances().GetByID(ctx, task.WorkflowID)
	if err != nil {
		return nil, err
	}

	definition, err := m.persistence.Definitions().GetByID(ctx, instance.DefinitionID)
	if err != nil {
		return nil, err
	}

	state, ok := definition.StateByName(task.StateName)
	if !ok {
		return nil, fmt.Errorf("definition %q: state %q not declared", definition.ID, task.StateName)
	}

	return state, nil
}

func (m *Manager) publishCreated(ctx context.Context, task *models.Task) {
	event := events.TaskCreated{
		BaseEvent:      m.baseEvent(events.TaskCreatedEvent, task.WorkflowID),
		TaskID:         task.ID,
		StateName:      task.StateName,
		AssignedUserID: task.AssignedUserID,
		AssignedRole:   task.AssignedRole,
		DueAt:          task.DueAt,
	}

	if err := m.eventBus.Publish(ctx, task.WorkflowID, event); err != nil {
		m.logger.WarnContext(ctx, "failed to publish task created event", "task_id", task.ID, "error", err)
	}
}

func (m *Manager) publishCompleted(ctx context.Context, task *models.Task, outcome *Outcome) {
	event := events.TaskCompleted{
		BaseEvent: m.baseEvent(events.TaskCompletedEvent, task.WorkflowID),
		TaskID:    task.ID,
		ActorID:   task.CompletedBy,
		Action:    task.Action,
		Final:     outcome.Final,
		Verdict:   outcome.Verdict,
	}

	if err := m.eventBus.Publish(ctx, task.WorkflowID, event); err != nil {
		m.logger.WarnContext(ctx, "failed to publish task completed event", "task_id", task.ID, "error", err)
	}
}

func (m *Manager) publishCancelled(ctx context.Context, task *models.Task, reason string) {
	event := events.TaskCancelled{
		BaseEvent: m.baseEvent(events.TaskCancelledEvent, task.WorkflowID),
		TaskID:    task.ID,
		Reason:    reason,
	}

	if err := m.eventBus.Publish(ctx, task.WorkflowID, event); err != nil {
		m.logger.WarnContext(ctx, "failed to publish task cancelled event", "task_id", task.ID, "error", err)
	}
}

func (m *Manager) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	return events.BaseEvent{
		ID:         m.eventBus.GenerateID(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}
