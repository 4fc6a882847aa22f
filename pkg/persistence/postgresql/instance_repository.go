package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
)

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const instanceColumns = `
	id
  , definition_id
  , definition_version
  , current_state
  , subject_type
  , subject_id
  , data
  , is_locked
  , created_at
  , updated_at
  , completed_at
`

func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	data, err := marshalJSONB(instance.Data)
	if err != nil {
		return persistence.NewStorageError("Save", "instance", instance.ID, err)
	}

	query := `
		INSERT INTO workflow_instances
			(id, definition_id, definition_version, current_state, subject_type, subject_id, data, is_locked, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			current_state = EXCLUDED.current_state
		  , data = EXCLUDED.data
		  , is_locked = EXCLUDED.is_locked
		  , updated_at = EXCLUDED.updated_at
		  , completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.DefinitionID,
		instance.DefinitionVersion,
		instance.CurrentState,
		instance.SubjectType,
		instance.SubjectID,
		data,
		instance.IsLocked,
		instance.CreatedAt,
		instance.UpdatedAt,
		instance.CompletedAt,
	)
	if err != nil {
		return persistence.NewStorageError("Save", "instance", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := "SELECT " + instanceColumns + " FROM workflow_instances WHERE id = $1"

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStorageError("GetByID", "instance", id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewStorageError("GetByID", "instance", id, err)
	}

	return instance, nil
}

func (r *InstanceRepository) GetBySubject(ctx context.Context, subjectType, subjectID string) ([]*models.WorkflowInstance, error) {
	query := "SELECT " + instanceColumns + ` FROM workflow_instances
		WHERE subject_type = $1 AND subject_id = $2
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, subjectType, subjectID)
	if err != nil {
		return nil, persistence.NewStorageError("GetBySubject", "instance", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func (r *InstanceRepository) SetLocked(ctx context.Context, id string, locked bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_instances SET is_locked = $1, updated_at = NOW() WHERE id = $2", locked, id)
	if err != nil {
		return persistence.NewStorageError("SetLocked", "instance", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStorageError("SetLocked", "instance", id, err)
	}

	if affected == 0 {
		return persistence.NewStorageError("SetLocked", "instance", id, persistence.ErrInstanceNotFound)
	}

	return nil
}

func scanInstance(row rowScanner) (*models.WorkflowInstance, error) {
	instance := &models.WorkflowInstance{}

	var data []byte

	err := row.Scan(
		&instance.ID,
		&instance.DefinitionID,
		&instance.DefinitionVersion,
		&instance.CurrentState,
		&instance.SubjectType,
		&instance.SubjectID,
		&data,
		&instance.IsLocked,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&instance.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(data, &instance.Data); err != nil {
		return nil, err
	}

	return instance, nil
}
