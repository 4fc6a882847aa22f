package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TimerType categorizes a scheduled action against a workflow instance.
type TimerType string

const (
	TimerTypeEscalation    TimerType = "escalation"
	TimerTypeSLACheck      TimerType = "sla_check"
	TimerTypeReminder      TimerType = "reminder"
	TimerTypeScheduledTask TimerType = "scheduled_task"
)

// Timer action kinds.
const (
	TimerActionTransition = "transition"
	TimerActionEscalate   = "escalate_task"
	TimerActionNotify     = "notify"
)

var ErrNoCronExpression = errors.New("timer has no cron expression")

// TimerAction is the opaque payload describing what to do when a timer
// fires. ExpectedState guards transition-style actions so that firing is
// idempotent: the sweep only acts if the instance is still in that state.
type TimerAction struct {
	Kind          string         `json:"kind"`
	Transition    string         `json:"transition,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	ExpectedState string         `json:"expected_state,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Timer is a scheduled future action against a workflow instance. A fired
// timer never refires; recurring reminders are modelled by scheduling the
// next occurrence from the cron expression when the current one fires.
type Timer struct {
	ID             string      `json:"id"`
	WorkflowID     string      `json:"workflow_id" validate:"required"`
	Type           TimerType   `json:"type"        validate:"required"`
	TriggerAt      time.Time   `json:"trigger_at"`
	Action         TimerAction `json:"action"`
	CronExpression string      `json:"cron_expression,omitempty"`
	Fired          bool        `json:"fired"`
	FiredAt        *time.Time  `json:"fired_at,omitempty"`
	Attempts       int         `json:"attempts"`
	CreatedAt      time.Time   `json:"created_at"`
}

// IsDue reports whether an unfired timer has reached its trigger time.
func (t *Timer) IsDue(now time.Time) bool {
	return !t.Fired && !t.TriggerAt.After(now)
}

// NextOccurrence computes the next trigger time after reference from the
// timer's cron expression. Uses the standard 5-field format
// (minute hour day month weekday).
func (t *Timer) NextOccurrence(reference time.Time) (time.Time, error) {
	if t.CronExpression == "" {
		return time.Time{}, ErrNoCronExpression
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	schedule, err := parser.Parse(t.CronExpression)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", t.CronExpression, err)
	}

	return schedule.Next(reference), nil
}
