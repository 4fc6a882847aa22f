// Package events defines event types and structures for workflow lifecycle
// notifications. The engine emits these for the notification/automation sink;
// delivery (email, push) is out of scope for the core.
package events

import (
	"time"

	"github.com/dukex/flowstate/pkg/models"
)

type EventType string

// Kafka topic for engine events.
const Topic = "flowstate.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow lifecycle events.
	WorkflowStartedEvent      EventType = "workflow.started"
	WorkflowTransitionedEvent EventType = "workflow.transitioned"
	WorkflowCompletedEvent    EventType = "workflow.completed"

	// Task lifecycle events.
	TaskCreatedEvent   EventType = "task.created"
	TaskCompletedEvent EventType = "task.completed"
	TaskCancelledEvent EventType = "task.cancelled"
	TaskEscalatedEvent EventType = "task.escalated"

	// Timer events.
	TimerFiredEvent  EventType = "timer.fired"
	TimerFailedEvent EventType = "timer.failed"

	// NotificationRequestedEvent carries a payload for the delivery sink.
	NotificationRequestedEvent EventType = "notification.requested"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type WorkflowStarted struct {
	BaseEvent

	DefinitionID string `json:"definition_id"`
	SubjectType  string `json:"subject_type"`
	SubjectID    string `json:"subject_id"`
	InitialState string `json:"initial_state"`
}

func (e WorkflowStarted) GetType() EventType {
	return WorkflowStartedEvent
}

type WorkflowTransitioned struct {
	BaseEvent

	Transition string `json:"transition"`
	FromState  string `json:"from_state"`
	ToState    string `json:"to_state"`
	ActorID    string `json:"actor_id,omitempty"`
}

func (e WorkflowTransitioned) GetType() EventType {
	return WorkflowTransitionedEvent
}

type WorkflowCompleted struct {
	BaseEvent

	FinalState  string    `json:"final_state"`
	CompletedAt time.Time `json:"completed_at"`
}

func (e WorkflowCompleted) GetType() EventType {
	return WorkflowCompletedEvent
}

type TaskCreated struct {
	BaseEvent

	TaskID         string     `json:"task_id"`
	StateName      string     `json:"state_name"`
	AssignedUserID string     `json:"assigned_user_id,omitempty"`
	AssignedRole   string     `json:"assigned_role,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
}

func (e TaskCreated) GetType() EventType {
	return TaskCreatedEvent
}

type TaskCompleted struct {
	BaseEvent

	TaskID  string `json:"task_id"`
	ActorID string `json:"actor_id"`
	Action  string `json:"action"`
	// Final indicates the aggregate outcome for the task's state is decided.
	Final   bool   `json:"final"`
	Verdict string `json:"verdict,omitempty"`
}

func (e TaskCompleted) GetType() EventType {
	return TaskCompletedEvent
}

type TaskCancelled struct {
	BaseEvent

	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

func (e TaskCancelled) GetType() EventType {
	return TaskCancelledEvent
}

type TaskEscalated struct {
	BaseEvent

	TaskID         string     `json:"task_id"`
	StateName      string     `json:"state_name"`
	AssignedUserID string     `json:"assigned_user_id,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
}

func (e TaskEscalated) GetType() EventType {
	return TaskEscalatedEvent
}

type TimerFired struct {
	BaseEvent

	TimerID   string             `json:"timer_id"`
	TimerType models.TimerType   `json:"timer_type"`
	Action    models.TimerAction `json:"action"`
}

func (e TimerFired) GetType() EventType {
	return TimerFiredEvent
}

// TimerFailed is the operational alert emitted when a timer action keeps
// failing past the sweep's retry budget.
type TimerFailed struct {
	BaseEvent

	TimerID  string `json:"timer_id"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

func (e TimerFailed) GetType() EventType {
	return TimerFailedEvent
}

type NotificationRequested struct {
	BaseEvent

	Subject string         `json:"subject"`
	Body    string         `json:"body,omitempty"`
	UserIDs []string       `json:"user_ids,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (e NotificationRequested) GetType() EventType {
	return NotificationRequestedEvent
}
