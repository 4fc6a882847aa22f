// Package engine implements the state machine core: it owns workflow
// instances, validates and applies transitions against their pinned
// definitions, and coordinates activities, tasks, timers and history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/flowstate/pkg/conditions"
	"github.com/dukex/flowstate/pkg/eventbus"
	"github.com/dukex/flowstate/pkg/events"
	"github.com/dukex/flowstate/pkg/history"
	"github.com/dukex/flowstate/pkg/lock"
	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/otelhelper"
	"github.com/dukex/flowstate/pkg/persistence"
	"github.com/dukex/flowstate/pkg/protocol"
	"github.com/dukex/flowstate/pkg/registry"
	"github.com/dukex/flowstate/pkg/tasks"
)

// DefaultLockTTL caps how long a crashed transition can hold the advisory
// lock before it expires on its own.
const DefaultLockTTL = 30 * time.Second

// TimerScheduler is the slice of the timer subsystem the engine drives:
// scheduling state-entry timers and cancelling the departed state's unfired
// ones. Implemented by timers.Scheduler.
type TimerScheduler interface {
	Schedule(ctx context.Context, workflowID string, timerType models.TimerType, triggerAt time.Time, action models.TimerAction, cronExpression string) (*models.Timer, error)
	CancelForState(ctx context.Context, workflowID, stateName string) error
}

// Engine is the workflow state machine core.
type Engine struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	locker      lock.Locker
	eventBus    eventbus.EventBus
	recorder    *history.Recorder
	tasks       *tasks.Manager
	timers      TimerScheduler
	tracer      trace.Tracer
	logger      *slog.Logger
	lockTTL     time.Duration
}

func NewEngine(
	persistence persistence.Persistence,
	registry *registry.Registry,
	locker lock.Locker,
	eventBus eventbus.EventBus,
	recorder *history.Recorder,
	taskManager *tasks.Manager,
	timers TimerScheduler,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		persistence: persistence,
		registry:    registry,
		locker:      locker,
		eventBus:    eventBus,
		recorder:    recorder,
		tasks:       taskManager,
		timers:      timers,
		tracer:      tracer,
		logger:      logger.With("module", "engine"),
		lockTTL:     DefaultLockTTL,
	}
}

// Start creates a new instance of the definition in its initial state,
// validates initialData against the definition's schema, and sets up the
// initial state's tasks and timers.
func (e *Engine) Start(ctx context.Context, definition *models.WorkflowDefinition, subjectType, subjectID string, initialData map[string]any) (*models.WorkflowInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start",
		attribute.String(otelhelper.DefinitionIDKey, definition.ID))
	defer span.End()

	if !definition.IsActive {
		otelhelper.SetError(span, ErrDefinitionInactive)

		return nil, fmt.Errorf("definition %q: %w", definition.ID, ErrDefinitionInactive)
	}

	if definition.Schema != nil {
		if err := definition.Schema.Validate(initialData); err != nil {
			otelhelper.SetError(span, err)

			return nil, &InvalidDataError{Err: err}
		}
	}

	initial, ok := definition.InitialState()
	if !ok {
		return nil, models.ErrNoInitialState
	}

	now := time.Now().UTC()
	instance := &models.WorkflowInstance{
		ID:                models.NewID(),
		DefinitionID:      definition.ID,
		DefinitionVersion: definition.Version,
		CurrentState:      initial.Name,
		SubjectType:       subjectType,
		SubjectID:         subjectID,
		Data:              initialData,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return nil, err
	}

	if _, err := e.recorder.RecordTransition(ctx, instance.ID, "", "", initial.Name, "", ""); err != nil {
		return nil, err
	}

	if err := e.enterState(ctx, instance, initial); err != nil {
		return nil, err
	}

	e.publish(ctx, instance.ID, events.WorkflowStarted{
		BaseEvent:    e.baseEvent(events.WorkflowStartedEvent, instance.ID),
		DefinitionID: definition.ID,
		SubjectType:  subjectType,
		SubjectID:    subjectID,
		InitialState: initial.Name,
	})

	e.logger.InfoContext(ctx, "workflow started",
		"workflow_id", instance.ID, "definition_id", definition.ID,
		"subject", subjectType+"/"+subjectID, "state", initial.Name)

	return instance, nil
}

// AvailableTransitions returns the transitions that may fire from the
// instance's current state with their guards satisfied against current
// instance data. Read-only.
func (e *Engine) AvailableTransitions(ctx context.Context, instanceID string) ([]*models.Transition, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	definition, err := e.persistence.Definitions().GetByID(ctx, instance.DefinitionID)
	if err != nil {
		return nil, err
	}

	available := make([]*models.Transition, 0)

	for _, transition := range definition.TransitionsFrom(instance.CurrentState) {
		if transition.Guard != "" {
			ok, err := conditions.Evaluate(transition.Guard, instance.Data)
			if err != nil {
				return nil, fmt.Errorf("transition %q: %w", transition.Name, err)
			}

			if !ok {
				continue
			}
		}

		available = append(available, transition)
	}

	return available, nil
}

// Transition applies the named transition to the instance. The whole step
// sequence runs under a per-instance lock; a failure at any step leaves the
// instance bit-for-bit unchanged.
func (e *Engine) Transition(ctx context.Context, instanceID, transitionName, actorID, comment string, patch map[string]any) (*models.WorkflowInstance, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.transition",
		attribute.String(otelhelper.WorkflowIDKey, instanceID),
		attribute.String(otelhelper.TransitionKey, transitionName),
		attribute.String(otelhelper.ActorIDKey, actorID))
	defer span.End()

	token, err := e.locker.Acquire(ctx, instanceID, e.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			err = fmt.Errorf("instance %q: %w", instanceID, ErrWorkflowLocked)
		}

		otelhelper.SetError(span, err)

		return nil, err
	}

	defer func() {
		if releaseErr := e.locker.Release(ctx, instanceID, token); releaseErr != nil {
			e.logger.WarnContext(ctx, "failed to release instance lock",
				"workflow_id", instanceID, "error", releaseErr)
		}
	}()

	instance, err := e.transitionLocked(ctx, instanceID, transitionName, actorID, comment, patch)
	if err != nil {
		otelhelper.SetError(span, err,
			attribute.String(otelhelper.WorkflowIDKey, instanceID),
			attribute.String(otelhelper.TransitionKey, transitionName))

		return nil, err
	}

	return instance, nil
}

func (e *Engine) transitionLocked(ctx context.Context, instanceID, transitionName, actorID, comment string, patch map[string]any) (*models.WorkflowInstance, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.IsLocked {
		return nil, fmt.Errorf("instance %q: %w", instanceID, ErrWorkflowLocked)
	}

	if instance.IsCompleted() {
		return nil, fmt.Errorf("instance %q: %w", instanceID, ErrWorkflowCompleted)
	}

	definition, err := e.persistence.Definitions().GetByID(ctx, instance.DefinitionID)
	if err != nil {
		return nil, err
	}

	transition, ok := definition.TransitionByName(transitionName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTransitionNotFound, transitionName)
	}

	if !transition.AllowsFrom(instance.CurrentState) {
		return nil, &InvalidTransitionError{Transition: transitionName, CurrentState: instance.CurrentState}
	}

	if transition.Guard != "" {
		ok, err := conditions.Evaluate(transition.Guard, instance.MergedData(patch))
		if err != nil {
			return nil, fmt.Errorf("transition %q: %w", transitionName, err)
		}

		if !ok {
			return nil, &GuardNotSatisfiedError{Transition: transitionName, Guard: transition.Guard}
		}
	}

	if err := e.persistence.Instances().SetLocked(ctx, instance.ID, true); err != nil {
		return nil, err
	}

	updated, err := e.applyTransition(ctx, instance, definition, transition, actorID, comment, patch)

	// Clear the flag on clean completion or clean abort; only a crash mid
	// transition leaves it stuck and requires an explicit Unlock.
	if clearErr := e.persistence.Instances().SetLocked(ctx, instance.ID, false); clearErr != nil {
		e.logger.ErrorContext(ctx, "failed to clear instance lock flag",
			"workflow_id", instance.ID, "error", clearErr)
	}

	return updated, err
}

func (e *Engine) applyTransition(ctx context.Context, instance *models.WorkflowInstance, definition *models.WorkflowDefinition, transition *models.Transition, actorID, comment string, patch map[string]any) (*models.WorkflowInstance, error) {
	fromState, ok := definition.StateByName(instance.CurrentState)
	if !ok {
		return nil, fmt.Errorf("definition %q: state %q not declared", definition.ID, instance.CurrentState)
	}

	toState, ok := definition.StateByName(transition.ToState)
	if !ok {
		return nil, fmt.Errorf("definition %q: state %q not declared", definition.ID, transition.ToState)
	}

	priorState := instance.CurrentState
	priorData := instance.CloneData()
	priorUpdatedAt := instance.UpdatedAt

	exitDone, err := e.runActivities(ctx, instance, fromState.ExitActivities, "exit")
	if err != nil {
		return nil, err
	}

	instance.Data = instance.MergedData(patch)
	instance.CurrentState = toState.Name

	entryDone, err := e.runActivities(ctx, instance, toState.EntryActivities, "entry")
	if err != nil {
		e.compensate(ctx, instance, entryDone)
		e.compensate(ctx, instance, exitDone)

		instance.CurrentState = priorState
		instance.Data = priorData

		return nil, err
	}

	now := time.Now().UTC()
	instance.UpdatedAt = now

	if toState.IsFinal {
		instance.CompletedAt = &now
	}

	// The state flip is persisted before the history, task and timer writes
	// so a storage failure here leaves no durable trace of the transition.
	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		e.compensate(ctx, instance, entryDone)
		e.compensate(ctx, instance, exitDone)

		instance.CurrentState = priorState
		instance.Data = priorData
		instance.UpdatedAt = priorUpdatedAt
		instance.CompletedAt = nil

		return nil, err
	}

	if _, err := e.recorder.RecordTransition(ctx, instance.ID, transition.Name, priorState, toState.Name, actorID, comment); err != nil {
		return nil, err
	}

	if err := e.leaveState(ctx, instance, fromState); err != nil {
		return nil, err
	}

	if !toState.IsFinal {
		if err := e.enterState(ctx, instance, toState); err != nil {
			return nil, err
		}
	}

	e.publish(ctx, instance.ID, events.WorkflowTransitioned{
		BaseEvent:  e.baseEvent(events.WorkflowTransitionedEvent, instance.ID),
		Transition: transition.Name,
		FromState:  priorState,
		ToState:    toState.Name,
		ActorID:    actorID,
	})

	if toState.IsFinal {
		e.publish(ctx, instance.ID, events.WorkflowCompleted{
			BaseEvent:   e.baseEvent(events.WorkflowCompletedEvent, instance.ID),
			FinalState:  toState.Name,
			CompletedAt: now,
		})
	}

	e.logger.InfoContext(ctx, "workflow transitioned",
		"workflow_id", instance.ID, "transition", transition.Name,
		"from", priorState, "to", toState.Name, "actor_id", actorID)

	return instance, nil
}

// Unlock clears a stuck lock flag left behind by a crashed transition.
func (e *Engine) Unlock(ctx context.Context, instanceID string) error {
	if err := e.persistence.Instances().SetLocked(ctx, instanceID, false); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "workflow unlocked", "workflow_id", instanceID)

	return nil
}

type executedActivity struct {
	binding  *models.ActivityBinding
	activity protocol.Activity
	result   map[string]any
}

// runActivities executes the bindings in declaration order. On failure the
// already-succeeded ones are compensated in reverse and an
// ActivityExecutionError is returned.
func (e *Engine) runActivities(ctx context.Context, instance *models.WorkflowInstance, bindings []*models.ActivityBinding, phase string) ([]executedActivity, error) {
	executed := make([]executedActivity, 0, len(bindings))

	for _, binding := range bindings {
		activity, err := e.registry.CreateActivity(binding.Activity, binding.Config)
		if err != nil {
			e.compensate(ctx, instance, executed)

			return nil, &ActivityExecutionError{Activity: binding.Activity, Phase: phase, Err: err}
		}

		result, err := activity.Execute(ctx, instance, e.logger)
		if err != nil {
			e.compensate(ctx, instance, executed)

			return nil, &ActivityExecutionError{Activity: binding.Activity, Phase: phase, Err: err}
		}

		executed = append(executed, executedActivity{binding: binding, activity: activity, result: result})
	}

	return executed, nil
}

// compensate undoes executed activities in reverse order. Best-effort: a
// compensation failure is logged and never masks the original error.
func (e *Engine) compensate(ctx context.Context, instance *models.WorkflowInstance, executed []executedActivity) {
	for i := len(executed) - 1; i >= 0; i-- {
		run := executed[i]

		if err := run.activity.Compensate(ctx, instance, run.result, e.logger); err != nil {
			e.logger.ErrorContext(ctx, "activity compensation failed",
				"workflow_id", instance.ID, "activity", run.binding.Activity, "error", err)
		}
	}
}

// leaveState cancels the departed state's open tasks and unfired timers so
// no stale escalation or approval outlives the state.
func (e *Engine) leaveState(ctx context.Context, instance *models.WorkflowInstance, state *models.State) error {
	if state.UserTask != nil {
		if err := e.tasks.CancelPendingForState(ctx, instance.ID, state.Name, "workflow left state"); err != nil {
			return err
		}
	}

	if state.Automation != nil {
		if err := e.timers.CancelForState(ctx, instance.ID, state.Name); err != nil {
			return err
		}
	}

	return nil
}

// enterState creates the new state's tasks and schedules its timers.
func (e *Engine) enterState(ctx context.Context, instance *models.WorkflowInstance, state *models.State) error {
	if state.UserTask != nil {
		if _, err := e.tasks.CreateTasks(ctx, instance, state); err != nil {
			return err
		}
	}

	if state.Automation == nil {
		return nil
	}

	now := time.Now().UTC()

	if escalation := state.Automation.Escalation; escalation != nil {
		action := models.TimerAction{Kind: models.TimerActionEscalate, ExpectedState: state.Name}
		if escalation.Transition != "" {
			action = models.TimerAction{
				Kind:          models.TimerActionTransition,
				Transition:    escalation.Transition,
				ExpectedState: state.Name,
			}
		}

		if _, err := e.timers.Schedule(ctx, instance.ID, models.TimerTypeEscalation, now.Add(escalation.After), action, ""); err != nil {
			return err
		}
	}

	if deadline := state.Automation.SLADeadline; deadline > 0 {
		action := models.TimerAction{Kind: models.TimerActionNotify, ExpectedState: state.Name}

		if _, err := e.timers.Schedule(ctx, instance.ID, models.TimerTypeSLACheck, now.Add(deadline), action, ""); err != nil {
			return err
		}
	}

	if expr := state.Automation.ReminderCron; expr != "" {
		first := models.Timer{CronExpression: expr}

		triggerAt, err := first.NextOccurrence(now)
		if err != nil {
			return err
		}

		action := models.TimerAction{Kind: models.TimerActionNotify, ExpectedState: state.Name}

		if _, err := e.timers.Schedule(ctx, instance.ID, models.TimerTypeReminder, triggerAt, action, expr); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := e.eventBus.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "failed to publish event",
			"event_type", event.GetType(), "workflow_id", key, "error", err)
	}
}

func (e *Engine) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	return events.BaseEvent{
		ID:         e.eventBus.GenerateID(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}
