package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
)

// TimerRepository handles timer database operations.
type TimerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const timerColumns = `
	id
  , workflow_id
  , type
  , trigger_at
  , action
  , cron_expression
  , fired
  , fired_at
  , attempts
  , created_at
`

func (r *TimerRepository) Save(ctx context.Context, timer *models.Timer) error {
	action, err := marshalJSONB(timer.Action)
	if err != nil {
		return persistence.NewStorageError("Save", "timer", timer.ID, err)
	}

	query := `
		INSERT INTO timers
			(id, workflow_id, type, trigger_at, action, cron_expression, fired, fired_at, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			trigger_at = EXCLUDED.trigger_at
		  , fired = EXCLUDED.fired
		  , fired_at = EXCLUDED.fired_at
		  , attempts = EXCLUDED.attempts
	`

	_, err = r.db.ExecContext(ctx, query,
		timer.ID,
		timer.WorkflowID,
		string(timer.Type),
		timer.TriggerAt,
		action,
		nullString(timer.CronExpression),
		timer.Fired,
		timer.FiredAt,
		timer.Attempts,
		timer.CreatedAt,
	)
	if err != nil {
		return persistence.NewStorageError("Save", "timer", timer.ID, err)
	}

	return nil
}

func (r *TimerRepository) GetByID(ctx context.Context, id string) (*models.Timer, error) {
	query := "SELECT " + timerColumns + " FROM timers WHERE id = $1"

	timer, err := scanTimer(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStorageError("GetByID", "timer", id, persistence.ErrTimerNotFound)
		}

		return nil, persistence.NewStorageError("GetByID", "timer", id, err)
	}

	return timer, nil
}

func (r *TimerRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Timer, error) {
	query := "SELECT " + timerColumns + " FROM timers WHERE fired = FALSE AND trigger_at <= $1 ORDER BY trigger_at"

	return r.list(ctx, "ListDue", query, now)
}

func (r *TimerRepository) ListPendingByWorkflow(ctx context.Context, workflowID string) ([]*models.Timer, error) {
	query := "SELECT " + timerColumns + " FROM timers WHERE fired = FALSE AND workflow_id = $1 ORDER BY trigger_at"

	return r.list(ctx, "ListPendingByWorkflow", query, workflowID)
}

func (r *TimerRepository) MarkFired(ctx context.Context, id string, firedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE timers SET fired = TRUE, fired_at = $1 WHERE id = $2", firedAt, id)
	if err != nil {
		return persistence.NewStorageError("MarkFired", "timer", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStorageError("MarkFired", "timer", id, err)
	}

	if affected == 0 {
		return persistence.NewStorageError("MarkFired", "timer", id, persistence.ErrTimerNotFound)
	}

	return nil
}

func (r *TimerRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM timers WHERE id = $1", id)
	if err != nil {
		return persistence.NewStorageError("Delete", "timer", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStorageError("Delete", "timer", id, err)
	}

	if affected == 0 {
		return persistence.NewStorageError("Delete", "timer", id, persistence.ErrTimerNotFound)
	}

	return nil
}

func (r *TimerRepository) list(ctx context.Context, op, query string, args ...any) ([]*models.Timer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStorageError(op, "timer", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	timers := make([]*models.Timer, 0)

	for rows.Next() {
		timer, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}

		timers = append(timers, timer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timers: %w", err)
	}

	return timers, nil
}

func scanTimer(row rowScanner) (*models.Timer, error) {
	timer := &models.Timer{}

	var (
		timerType string
		action    []byte
		cronExpr  sql.NullString
	)

	err := row.Scan(
		&timer.ID,
		&timer.WorkflowID,
		&timerType,
		&timer.TriggerAt,
		&action,
		&cronExpr,
		&timer.Fired,
		&timer.FiredAt,
		&timer.Attempts,
		&timer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	timer.Type = models.TimerType(timerType)
	timer.CronExpression = fromNullString(cronExpr)

	if err := unmarshalJSONB(action, &timer.Action); err != nil {
		return nil, err
	}

	return timer, nil
}
