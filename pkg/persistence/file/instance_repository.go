package file

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
)

const kindInstances = "instances"

type InstanceRepository struct {
	store *store
}

func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	return r.store.write(kindInstances, instance.ID, instance)
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	instance := &models.WorkflowInstance{}
	if err := r.store.read(kindInstances, id, instance, persistence.ErrInstanceNotFound); err != nil {
		return nil, err
	}

	return instance, nil
}

func (r *InstanceRepository) GetBySubject(ctx context.Context, subjectType, subjectID string) ([]*models.WorkflowInstance, error) {
	instances := make([]*models.WorkflowInstance, 0)

	err := r.store.readAll(kindInstances, func(data []byte) error {
		instance := &models.WorkflowInstance{}
		if err := json.Unmarshal(data, instance); err != nil {
			return err
		}

		if instance.SubjectType == subjectType && instance.SubjectID == subjectID {
			instances = append(instances, instance)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return instances, nil
}

func (r *InstanceRepository) SetLocked(ctx context.Context, id string, locked bool) error {
	instance, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	instance.IsLocked = locked
	instance.UpdatedAt = time.Now().UTC()

	return r.Save(ctx, instance)
}
