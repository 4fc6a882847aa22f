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

// DefinitionRepository handles workflow definition database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	schema, err := marshalJSONB(definition.Schema)
	if err != nil {
		return persistence.NewStorageError("Save", "definition", definition.ID, err)
	}

	states, err := marshalJSONB(definition.States)
	if err != nil {
		return persistence.NewStorageError("Save", "definition", definition.ID, err)
	}

	transitions, err := marshalJSONB(definition.Transitions)
	if err != nil {
		return persistence.NewStorageError("Save", "definition", definition.ID, err)
	}

	metadata, err := marshalJSONB(definition.Metadata)
	if err != nil {
		return persistence.NewStorageError("Save", "definition", definition.ID, err)
	}

	query := `
		INSERT INTO workflow_definitions
			(id, name, description, version, is_active, schema, states, transitions, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , version = EXCLUDED.version
		  , is_active = EXCLUDED.is_active
		  , schema = EXCLUDED.schema
		  , states = EXCLUDED.states
		  , transitions = EXCLUDED.transitions
		  , metadata = EXCLUDED.metadata
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		definition.ID,
		definition.Name,
		definition.Description,
		definition.Version,
		definition.IsActive,
		schema,
		states,
		transitions,
		metadata,
		definition.CreatedAt,
		definition.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStorageError("Save", "definition", definition.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , version
		  , is_active
		  , schema
		  , states
		  , transitions
		  , metadata
		  , created_at
		  , updated_at
		FROM workflow_definitions
		WHERE id = $1
	`

	definition, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStorageError("GetByID", "definition", id, persistence.ErrDefinitionNotFound)
		}

		return nil, persistence.NewStorageError("GetByID", "definition", id, err)
	}

	return definition, nil
}

func (r *DefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT
			id
		  , name
		  , description
		  , version
		  , is_active
		  , schema
		  , states
		  , transitions
		  , metadata
		  , created_at
		  , updated_at
		FROM workflow_definitions
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, persistence.NewStorageError("GetAll", "definition", "", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	return definitions, nil
}

func (r *DefinitionRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_definitions SET is_active = $1, updated_at = NOW() WHERE id = $2", active, id)
	if err != nil {
		return persistence.NewStorageError("SetActive", "definition", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStorageError("SetActive", "definition", id, err)
	}

	if affected == 0 {
		return persistence.NewStorageError("SetActive", "definition", id, persistence.ErrDefinitionNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	definition := &models.WorkflowDefinition{}

	var schema, states, transitions, metadata []byte

	err := row.Scan(
		&definition.ID,
		&definition.Name,
		&definition.Description,
		&definition.Version,
		&definition.IsActive,
		&schema,
		&states,
		&transitions,
		&metadata,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(schema, &definition.Schema); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(states, &definition.States); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(transitions, &definition.Transitions); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(metadata, &definition.Metadata); err != nil {
		return nil, err
	}

	return definition, nil
}
