package models

import "time"

// TaskStatus represents the lifecycle state of a human task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Well-known task actions. Action is free-form so domains can define their
// own outcomes; approval strategies only interpret these two.
const (
	TaskActionApprove = "approve"
	TaskActionReject  = "reject"
)

// Task is a unit of required human action blocking progress through a
// user-task state. Multi-approver states create one Task per configured
// approver; the approvals snapshot for consensus evaluation is the set of
// completed sibling tasks for the same workflow and state.
type Task struct {
	ID             string `json:"id"`
	WorkflowID     string `json:"workflow_id" validate:"required"`
	StateName      string `json:"state_name"  validate:"required"`
	Title          string `json:"title"       validate:"required"`
	Description    string `json:"description,omitempty"`
	AssignedUserID string `json:"assigned_user_id,omitempty"`
	AssignedRole   string `json:"assigned_role,omitempty"`
	// ApproverID is the configured approver this task stands in for within a
	// multi-approver state. Assignment may be delegated to someone else, but
	// consensus is always counted against the configured identity.
	ApproverID  string         `json:"approver_id,omitempty"`
	Status      TaskStatus     `json:"status"`
	Priority    string         `json:"priority,omitempty"`
	DueAt       *time.Time     `json:"due_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CompletedBy string         `json:"completed_by,omitempty"`
	Action      string         `json:"action,omitempty"`
	Comment     string         `json:"comment,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// IsPending reports whether the task still awaits action.
func (t *Task) IsPending() bool {
	return t.Status == TaskStatusPending
}

// IsOverdue reports whether a pending task has passed its due time.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.IsPending() && t.DueAt != nil && !t.DueAt.After(now)
}

// Approval is one recorded approver action, the unit approval strategies
// evaluate consensus over.
type Approval struct {
	ApproverID string    `json:"approver_id"`
	Action     string    `json:"action"`
	Comment    string    `json:"comment,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
