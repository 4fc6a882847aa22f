package file

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
)

const kindDelegations = "delegations"

type DelegationRepository struct {
	store *store
}

func (r *DelegationRepository) Save(ctx context.Context, delegation *models.Delegation) error {
	return r.store.write(kindDelegations, delegation.ID, delegation)
}

func (r *DelegationRepository) GetByID(ctx context.Context, id string) (*models.Delegation, error) {
	delegation := &models.Delegation{}
	if err := r.store.read(kindDelegations, id, delegation, persistence.ErrDelegationNotFound); err != nil {
		return nil, err
	}

	return delegation, nil
}

func (r *DelegationRepository) ActiveForDelegator(ctx context.Context, userID string, asOf time.Time) ([]*models.Delegation, error) {
	return r.filter(func(d *models.Delegation) bool {
		return d.DelegatorID == userID && d.IsActiveAt(asOf)
	})
}

func (r *DelegationRepository) ListForUser(ctx context.Context, userID string) ([]*models.Delegation, error) {
	return r.filter(func(d *models.Delegation) bool {
		return d.DelegatorID == userID || d.DelegateeID == userID
	})
}

func (r *DelegationRepository) filter(keep func(*models.Delegation) bool) ([]*models.Delegation, error) {
	delegations := make([]*models.Delegation, 0)

	err := r.store.readAll(kindDelegations, func(data []byte) error {
		delegation := &models.Delegation{}
		if err := json.Unmarshal(data, delegation); err != nil {
			return err
		}

		if keep(delegation) {
			delegations = append(delegations, delegation)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(delegations, func(i, j int) bool {
		return delegations[i].CreatedAt.After(delegations[j].CreatedAt)
	})

	return delegations, nil
}
