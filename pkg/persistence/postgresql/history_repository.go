package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
)

// HistoryRepository handles the append-only audit trail. There is no update
// or delete path; the BIGSERIAL seq column preserves append order per
// workflow.
type HistoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *HistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	metadata, err := marshalJSONB(entry.Metadata)
	if err != nil {
		return persistence.NewStorageError("Append", "history", entry.ID, err)
	}

	query := `
		INSERT INTO workflow_history
			(id, workflow_id, transition, from_state, to_state, actor_id, comment, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.WorkflowID,
		nullString(entry.Transition),
		nullString(entry.FromState),
		nullString(entry.ToState),
		nullString(entry.ActorID),
		nullString(entry.Comment),
		metadata,
		entry.CreatedAt,
	)
	if err != nil {
		return persistence.NewStorageError("Append", "history", entry.ID, err)
	}

	return nil
}

func (r *HistoryRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.HistoryEntry, error) {
	query := `
		SELECT id, workflow_id, transition, from_state, to_state, actor_id, comment, metadata, created_at
		FROM workflow_history
		WHERE workflow_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, persistence.NewStorageError("ListByWorkflow", "history", workflowID, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.HistoryEntry, 0)

	for rows.Next() {
		entry := &models.HistoryEntry{}

		var transition, fromState, toState, actorID, comment sql.NullString

		var metadata []byte

		err := rows.Scan(
			&entry.ID,
			&entry.WorkflowID,
			&transition,
			&fromState,
			&toState,
			&actorID,
			&comment,
			&metadata,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}

		entry.Transition = fromNullString(transition)
		entry.FromState = fromNullString(fromState)
		entry.ToState = fromNullString(toState)
		entry.ActorID = fromNullString(actorID)
		entry.Comment = fromNullString(comment)

		if err := unmarshalJSONB(metadata, &entry.Metadata); err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history entries: %w", err)
	}

	return entries, nil
}
