// Package timers schedules and fires time-based actions against workflow
// instances: escalations, SLA checks, reminders. Firing is at-least-once; a
// timer is only marked fired after its action applied successfully, so a
// crash mid-sweep gets retried on the next cycle.
package timers

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
)

// Scheduler persists and retrieves timers. It is the engine's
// TimerScheduler and the Sweeper's polling source.
type Scheduler struct {
	timers persistence.TimerRepository
	logger *slog.Logger
}

func NewScheduler(timers persistence.TimerRepository, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		timers: timers,
		logger: logger.With("module", "timers"),
	}
}

// Schedule persists a not-yet-fired timer.
func (s *Scheduler) Schedule(ctx context.Context, workflowID string, timerType models.TimerType, triggerAt time.Time, action models.TimerAction, cronExpression string) (*models.Timer, error) {
	timer := &models.Timer{
		ID:             models.NewID(),
		WorkflowID:     workflowID,
		Type:           timerType,
		TriggerAt:      triggerAt,
		Action:         action,
		CronExpression: cronExpression,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.timers.Save(ctx, timer); err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "scheduled timer",
		"timer_id", timer.ID, "workflow_id", workflowID,
		"type", timerType, "trigger_at", triggerAt)

	return timer, nil
}

// PollDue returns all unfired timers with triggerAt at or before now.
func (s *Scheduler) PollDue(ctx context.Context, now time.Time) ([]*models.Timer, error) {
	return s.timers.ListDue(ctx, now)
}

// MarkFired is the only way a timer becomes fired.
func (s *Scheduler) MarkFired(ctx context.Context, timerID string) error {
	return s.timers.MarkFired(ctx, timerID, time.Now().UTC())
}

// Delete removes an unfired timer, the cancellation path for timers whose
// originating state was left through another transition.
func (s *Scheduler) Delete(ctx context.Context, timerID string) error {
	return s.timers.Delete(ctx, timerID)
}

// CancelForState deletes the workflow's unfired timers that expect the
// given state, so a stale escalation never fires after the workflow moved
// on.
func (s *Scheduler) CancelForState(ctx context.Context, workflowID, stateName string) error {
	pending, err := s.timers.ListPendingByWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	for _, timer := range pending {
		if timer.Action.ExpectedState != stateName {
			continue
		}

		if err := s.timers.Delete(ctx, timer.ID); err != nil {
			return err
		}

		s.logger.DebugContext(ctx, "cancelled timer",
			"timer_id", timer.ID, "workflow_id", workflowID, "state", stateName)
	}

	return nil
}
