package file

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
)

const kindDefinitions = "definitions"

type DefinitionRepository struct {
	store *store
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	return r.store.write(kindDefinitions, definition.ID, definition)
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition := &models.WorkflowDefinition{}
	if err := r.store.read(kindDefinitions, id, definition, persistence.ErrDefinitionNotFound); err != nil {
		return nil, err
	}

	return definition, nil
}

func (r *DefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	definitions := make([]*models.WorkflowDefinition, 0)

	err := r.store.readAll(kindDefinitions, func(data []byte) error {
		definition := &models.WorkflowDefinition{}
		if err := json.Unmarshal(data, definition); err != nil {
			return err
		}

		definitions = append(definitions, definition)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return definitions, nil
}

func (r *DefinitionRepository) SetActive(ctx context.Context, id string, active bool) error {
	definition, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	definition.IsActive = active
	definition.UpdatedAt = time.Now().UTC()

	return r.Save(ctx, definition)
}
