// Package history records the append-only audit trail of workflow
// instances. Every state transition and task action produces exactly one
// entry; entries are never updated or deleted.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
)

// Recorder appends audit entries for a workflow instance.
type Recorder struct {
	entries persistence.HistoryRepository
	logger  *slog.Logger
}

// NewRecorder creates a history recorder.
func NewRecorder(entries persistence.HistoryRepository, logger *slog.Logger) *Recorder {
	return &Recorder{
		entries: entries,
		logger:  logger.With("module", "history"),
	}
}

// RecordTransition appends the audit entry for one applied transition.
// actorID is empty for system-triggered transitions.
func (r *Recorder) RecordTransition(ctx context.Context, workflowID, transition, fromState, toState, actorID, comment string) (*models.HistoryEntry, error) {
	entry := &models.HistoryEntry{
		ID:         models.NewID(),
		WorkflowID: workflowID,
		Transition: transition,
		FromState:  fromState,
		ToState:    toState,
		ActorID:    actorID,
		Comment:    comment,
		CreatedAt:  time.Now().UTC(),
	}

	if err := r.entries.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append transition entry: %w", err)
	}

	r.logger.DebugContext(ctx, "recorded transition",
		"workflow_id", workflowID, "transition", transition,
		"from", fromState, "to", toState)

	return entry, nil
}

// RecordTaskAction appends an audit entry for a task lifecycle event. The
// Transition field stays empty so transition entries remain distinguishable
// when replaying the trail.
func (r *Recorder) RecordTaskAction(ctx context.Context, workflowID, stateName, actorID, comment string, metadata map[string]any) (*models.HistoryEntry, error) {
	entry := &models.HistoryEntry{
		ID:         models.NewID(),
		WorkflowID: workflowID,
		FromState:  stateName,
		ToState:    stateName,
		ActorID:    actorID,
		Comment:    comment,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}

	if err := r.entries.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append task entry: %w", err)
	}

	return entry, nil
}

// ListByWorkflow returns the full ordered trail for one instance.
func (r *Recorder) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.HistoryEntry, error) {
	return r.entries.ListByWorkflow(ctx, workflowID)
}
