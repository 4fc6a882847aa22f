package models

import "time"

// HistoryEntry is one record in a workflow instance's append-only audit
// trail. Entries are write-once: persistence offers no update or delete. The
// full ordered sequence for a WorkflowID reconstructs the complete transition
// history.
//
// Transition is empty for non-transition audit events (task creation, task
// completion); ActorID is empty for system-triggered transitions.
type HistoryEntry struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id" validate:"required"`
	Transition string         `json:"transition,omitempty"`
	FromState  string         `json:"from_state,omitempty"`
	ToState    string         `json:"to_state,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	Comment    string         `json:"comment,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
