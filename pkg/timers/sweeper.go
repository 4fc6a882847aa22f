package timers

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/flowstate/pkg/eventbus"
	"github.com/dukex/flowstate/pkg/events"
	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
	"github.com/dukex/flowstate/pkg/tasks"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultMaxRetries    = 5
)

// WorkflowTransitioner is the slice of the engine the sweep drives for
// transition-style timer actions.
type WorkflowTransitioner interface {
	Transition(ctx context.Context, instanceID, transitionName, actorID, comment string, patch map[string]any) (*models.WorkflowInstance, error)
}

// Sweeper is the periodic process that fires due timers and escalates
// overdue tasks. Timer firing is at-least-once: actions are guarded by the
// timer's expected state so re-applying is safe; a timer failing past
// maxRetries emits an operational timer.failed event and is marked fired to
// stop the retry loop.
type Sweeper struct {
	scheduler   *Scheduler
	engine      WorkflowTransitioner
	taskManager *tasks.Manager
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	logger      *slog.Logger

	interval   time.Duration
	maxRetries int
}

func NewSweeper(
	scheduler *Scheduler,
	engine WorkflowTransitioner,
	taskManager *tasks.Manager,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	interval time.Duration,
	maxRetries int,
) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	return &Sweeper{
		scheduler:   scheduler,
		engine:      engine,
		taskManager: taskManager,
		persistence: persistence,
		eventBus:    eventBus,
		logger:      logger.With("module", "sweeper"),
		interval:    interval,
		maxRetries:  maxRetries,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "sweeper started", "interval", s.interval, "max_retries", s.maxRetries)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper stopped")

			return ctx.Err()
		case now := <-ticker.C:
			s.Sweep(ctx, now.UTC())
		}
	}
}

// Sweep runs one cycle: fire due timers, then escalate overdue tasks.
// Per-timer failures are contained; one bad timer never stops the cycle.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	due, err := s.scheduler.PollDue(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to poll due timers", "error", err)

		return
	}

	for _, timer := range due {
		if err := s.processTimer(ctx, timer, now); err != nil {
			s.retryOrFail(ctx, timer, err)
		}
	}

	s.escalateOverdueTasks(ctx, now)
}

func (s *Sweeper) processTimer(ctx context.Context, timer *models.Timer, now time.Time) error {
	logger := s.logger.With("timer_id", timer.ID, "workflow_id", timer.WorkflowID, "type", timer.Type)

	fired, err := s.applyAction(ctx, timer, logger)
	if err != nil {
		return err
	}

	if err := s.scheduler.MarkFired(ctx, timer.ID); err != nil {
		return err
	}

	if fired {
		s.publishFired(ctx, timer)
	}

	// Recurring reminders schedule their next occurrence once the current
	// one is fired.
	if timer.Type == models.TimerTypeReminder && timer.CronExpression != "" {
		next, err := timer.NextOccurrence(now)
		if err != nil {
			logger.ErrorContext(ctx, "failed to compute next reminder occurrence", "error", err)

			return nil
		}

		if _, err := s.scheduler.Schedule(ctx, timer.WorkflowID, timer.Type, next, timer.Action, timer.CronExpression); err != nil {
			logger.ErrorContext(ctx, "failed to reschedule reminder", "error", err)
		}
	}

	return nil
}

// applyAction applies the timer's action and reports whether it actually
// took effect. A stale timer (workflow moved on, task already resolved) is
// not an error: it returns false so the timer is marked fired silently.
func (s *Sweeper) applyAction(ctx context.Context, timer *models.Timer, logger *slog.Logger) (bool, error) {
	switch timer.Action.Kind {
	case models.TimerActionTransition:
		return s.applyTransition(ctx, timer, logger)
	case models.TimerActionEscalate:
		return s.applyEscalation(ctx, timer, logger)
	case models.TimerActionNotify:
		return s.applyNotify(ctx, timer, logger)
	default:
		logger.WarnContext(ctx, "unknown timer action kind", "kind", timer.Action.Kind)

		return false, nil
	}
}

func (s *Sweeper) applyTransition(ctx context.Context, timer *models.Timer, logger *slog.Logger) (bool, error) {
	stale, err := s.isStale(ctx, timer)
	if err != nil {
		return false, err
	}

	if stale {
		logger.DebugContext(ctx, "skipping stale transition timer")

		return false, nil
	}

	_, err = s.engine.Transition(ctx, timer.WorkflowID, timer.Action.Transition, "", "automatic escalation", nil)
	if err != nil {
		return false, err
	}

	return true, nil
}

func (s *Sweeper) applyEscalation(ctx context.Context, timer *models.Timer, logger *slog.Logger) (bool, error) {
	if timer.Action.TaskID != "" {
		task, err := s.persistence.Tasks().GetByID(ctx, timer.Action.TaskID)
		if err != nil {
			if persistence.IsTaskNotFound(err) {
				logger.DebugContext(ctx, "skipping escalation for missing task", "task_id", timer.Action.TaskID)

				return false, nil
			}

			return false, err
		}

		if !task.IsPending() {
			logger.DebugContext(ctx, "skipping escalation for resolved task", "task_id", task.ID)

			return false, nil
		}

		s.publishTaskEscalated(ctx, task)

		return true, nil
	}

	stale, err := s.isStale(ctx, timer)
	if err != nil {
		return false, err
	}

	if stale {
		return false, nil
	}

	s.publish(ctx, timer.WorkflowID, events.TaskEscalated{
		BaseEvent: s.baseEvent(events.TaskEscalatedEvent, timer.WorkflowID),
		StateName: timer.Action.ExpectedState,
	})

	return true, nil
}

func (s *Sweeper) applyNotify(ctx context.Context, timer *models.Timer, _ *slog.Logger) (bool, error) {
	stale, err := s.isStale(ctx, timer)
	if err != nil {
		return false, err
	}

	if stale {
		return false, nil
	}

	s.publish(ctx, timer.WorkflowID, events.NotificationRequested{
		BaseEvent: s.baseEvent(events.NotificationRequestedEvent, timer.WorkflowID),
		Subject:   string(timer.Type),
		Payload:   timer.Action.Payload,
	})

	return true, nil
}

// isStale reports whether the timer's expected state no longer matches the
// instance, covering the completed and deleted cases too.
func (s *Sweeper) isStale(ctx context.Context, timer *models.Timer) (bool, error) {
	if timer.Action.ExpectedState == "" {
		return false, nil
	}

	instance, err := s.persistence.Instances().GetByID(ctx, timer.WorkflowID)
	if err != nil {
		if persistence.IsInstanceNotFound(err) {
			return true, nil
		}

		return false, err
	}

	return instance.IsCompleted() || instance.CurrentState != timer.Action.ExpectedState, nil
}

// retryOrFail bumps the attempt counter; a timer past the retry budget
// surfaces as a timer.failed operational event and is marked fired so it is
// not retried forever.
func (s *Sweeper) retryOrFail(ctx context.Context, timer *models.Timer, cause error) {
	timer.Attempts++

	logger := s.logger.With("timer_id", timer.ID, "workflow_id", timer.WorkflowID, "attempts", timer.Attempts)

	if timer.Attempts < s.maxRetries {
		if err := s.persistence.Timers().Save(ctx, timer); err != nil {
			logger.ErrorContext(ctx, "failed to persist timer attempts", "error", err)
		}

		logger.WarnContext(ctx, "timer action failed, will retry", "error", cause)

		return
	}

	s.publish(ctx, timer.WorkflowID, events.TimerFailed{
		BaseEvent: s.baseEvent(events.TimerFailedEvent, timer.WorkflowID),
		TimerID:   timer.ID,
		Attempts:  timer.Attempts,
		Error:     cause.Error(),
	})

	if err := s.scheduler.MarkFired(ctx, timer.ID); err != nil {
		logger.ErrorContext(ctx, "failed to mark exhausted timer fired", "error", err)
	}

	logger.ErrorContext(ctx, "timer action failed past retry budget", "error", cause)
}

// escalateOverdueTasks emits an escalation event once per overdue pending
// task, flagging the task so later sweeps do not repeat it.
func (s *Sweeper) escalateOverdueTasks(ctx context.Context, now time.Time) {
	overdue, err := s.taskManager.FindOverdue(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to find overdue tasks", "error", err)

		return
	}

	for _, task := range overdue {
		if task.Metadata != nil {
			if _, done := task.Metadata["escalated_at"]; done {
				continue
			}
		}

		if task.Metadata == nil {
			task.Metadata = make(map[string]any)
		}

		task.Metadata["escalated_at"] = now.Format(time.RFC3339)

		if err := s.persistence.Tasks().Save(ctx, task); err != nil {
			s.logger.ErrorContext(ctx, "failed to flag escalated task", "task_id", task.ID, "error", err)

			continue
		}

		s.publishTaskEscalated(ctx, task)
	}
}

func (s *Sweeper) publishTaskEscalated(ctx context.Context, task *models.Task) {
	s.publish(ctx, task.WorkflowID, events.TaskEscalated{
		BaseEvent:      s.baseEvent(events.TaskEscalatedEvent, task.WorkflowID),
		TaskID:         task.ID,
		StateName:      task.StateName,
		AssignedUserID: task.AssignedUserID,
		DueAt:          task.DueAt,
	})
}

func (s *Sweeper) publishFired(ctx context.Context, timer *models.Timer) {
	s.publish(ctx, timer.WorkflowID, events.TimerFired{
		BaseEvent: s.baseEvent(events.TimerFiredEvent, timer.WorkflowID),
		TimerID:   timer.ID,
		TimerType: timer.Type,
		Action:    timer.Action,
	})
}

func (s *Sweeper) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := s.eventBus.Publish(ctx, key, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event",
			"event_type", event.GetType(), "workflow_id", key, "error", err)
	}
}

func (s *Sweeper) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	return events.BaseEvent{
		ID:         s.eventBus.GenerateID(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}
