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

// TaskRepository handles task database operations.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const taskColumns = `
	id
  , workflow_id
  , state_name
  , title
  , description
  , assigned_user_id
  , assigned_role
  , approver_id
  , status
  , priority
  , due_at
  , created_at
  , completed_at
  , completed_by
  , action
  , comment
  , metadata
`

func (r *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	metadata, err := marshalJSONB(task.Metadata)
	if err != nil {
		return persistence.NewStorageError("Save", "task", task.ID, err)
	}

	query := `
		INSERT INTO tasks
			(id, workflow_id, state_name, title, description, assigned_user_id, assigned_role, approver_id, status, priority, due_at, created_at, completed_at, completed_by, action, comment, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , due_at = EXCLUDED.due_at
		  , completed_at = EXCLUDED.completed_at
		  , completed_by = EXCLUDED.completed_by
		  , action = EXCLUDED.action
		  , comment = EXCLUDED.comment
		  , metadata = EXCLUDED.metadata
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID,
		task.WorkflowID,
		task.StateName,
		task.Title,
		task.Description,
		nullString(task.AssignedUserID),
		nullString(task.AssignedRole),
		nullString(task.ApproverID),
		string(task.Status),
		nullString(task.Priority),
		task.DueAt,
		task.CreatedAt,
		task.CompletedAt,
		nullString(task.CompletedBy),
		nullString(task.Action),
		nullString(task.Comment),
		metadata,
	)
	if err != nil {
		return persistence.NewStorageError("Save", "task", task.ID, err)
	}

	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE id = $1"

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStorageError("GetByID", "task", id, persistence.ErrTaskNotFound)
		}

		return nil, persistence.NewStorageError("GetByID", "task", id, err)
	}

	return task, nil
}

func (r *TaskRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE workflow_id = $1 ORDER BY created_at"

	return r.list(ctx, "ListByWorkflow", query, workflowID)
}

func (r *TaskRepository) ListByState(ctx context.Context, workflowID, stateName string) ([]*models.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE workflow_id = $1 AND state_name = $2 ORDER BY created_at"

	return r.list(ctx, "ListByState", query, workflowID, stateName)
}

func (r *TaskRepository) ListByAssignee(ctx context.Context, userID string) ([]*models.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE assigned_user_id = $1 ORDER BY created_at"

	return r.list(ctx, "ListByAssignee", query, userID)
}

func (r *TaskRepository) FindOverdue(ctx context.Context, now time.Time) ([]*models.Task, error) {
	query := "SELECT " + taskColumns + ` FROM tasks
		WHERE status = 'pending' AND due_at IS NOT NULL AND due_at <= $1
		ORDER BY due_at`

	return r.list(ctx, "FindOverdue", query, now)
}

func (r *TaskRepository) list(ctx context.Context, op, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStorageError(op, "task", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}

	var (
		assignedUser, assignedRole, approverID sql.NullString
		priority, completedBy, action, comment sql.NullString
		status                                 string
		metadata                               []byte
	)

	err := row.Scan(
		&task.ID,
		&task.WorkflowID,
		&task.StateName,
		&task.Title,
		&task.Description,
		&assignedUser,
		&assignedRole,
		&approverID,
		&status,
		&priority,
		&task.DueAt,
		&task.CreatedAt,
		&task.CompletedAt,
		&completedBy,
		&action,
		&comment,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	task.AssignedUserID = fromNullString(assignedUser)
	task.AssignedRole = fromNullString(assignedRole)
	task.ApproverID = fromNullString(approverID)
	task.Status = models.TaskStatus(status)
	task.Priority = fromNullString(priority)
	task.CompletedBy = fromNullString(completedBy)
	task.Action = fromNullString(action)
	task.Comment = fromNullString(comment)

	if err := unmarshalJSONB(metadata, &task.Metadata); err != nil {
		return nil, err
	}

	return task, nil
}
