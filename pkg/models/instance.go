package models

import "time"

// WorkflowInstance is one running execution of a definition, bound to exactly
// one subject record. It is owned by the engine for its lifetime: callers
// never mutate CurrentState directly, only the engine's transition path does.
type WorkflowInstance struct {
	ID                string         `json:"id"`
	DefinitionID      string         `json:"definition_id"      validate:"required"`
	DefinitionVersion int            `json:"definition_version"`
	CurrentState      string         `json:"current_state"      validate:"required"`
	SubjectType       string         `json:"subject_type"       validate:"required"`
	SubjectID         string         `json:"subject_id"         validate:"required"`
	Data              map[string]any `json:"data,omitempty"`
	IsLocked          bool           `json:"is_locked"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// IsCompleted reports whether the instance has reached a final state.
func (w *WorkflowInstance) IsCompleted() bool {
	return w.CompletedAt != nil
}

// CloneData returns a shallow copy of the instance data map. The transition
// path works on a copy so a failed attempt leaves the instance untouched.
func (w *WorkflowInstance) CloneData() map[string]any {
	cloned := make(map[string]any, len(w.Data))
	for k, v := range w.Data {
		cloned[k] = v
	}

	return cloned
}

// MergedData returns instance data overlaid with the given patch without
// mutating either input.
func (w *WorkflowInstance) MergedData(patch map[string]any) map[string]any {
	merged := w.CloneData()
	for k, v := range patch {
		merged[k] = v
	}

	return merged
}
