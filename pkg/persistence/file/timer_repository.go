package file

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
)

const kindTimers = "timers"

type TimerRepository struct {
	store *store
}

func (r *TimerRepository) Save(ctx context.Context, timer *models.Timer) error {
	return r.store.write(kindTimers, timer.ID, timer)
}

func (r *TimerRepository) GetByID(ctx context.Context, id string) (*models.Timer, error) {
	timer := &models.Timer{}
	if err := r.store.read(kindTimers, id, timer, persistence.ErrTimerNotFound); err != nil {
		return nil, err
	}

	return timer, nil
}

func (r *TimerRepository) ListDue(ctx context.Context, now time.Time) ([]*models.Timer, error) {
	return r.filter(func(t *models.Timer) bool {
		return t.IsDue(now)
	})
}

func (r *TimerRepository) ListPendingByWorkflow(ctx context.Context, workflowID string) ([]*models.Timer, error) {
	return r.filter(func(t *models.Timer) bool {
		return t.WorkflowID == workflowID && !t.Fired
	})
}

func (r *TimerRepository) MarkFired(ctx context.Context, id string, firedAt time.Time) error {
	timer, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	timer.Fired = true
	timer.FiredAt = &firedAt

	return r.Save(ctx, timer)
}

func (r *TimerRepository) Delete(ctx context.Context, id string) error {
	return r.store.delete(kindTimers, id, persistence.ErrTimerNotFound)
}

func (r *TimerRepository) filter(keep func(*models.Timer) bool) ([]*models.Timer, error) {
	timers := make([]*models.Timer, 0)

	err := r.store.readAll(kindTimers, func(data []byte) error {
		timer := &models.Timer{}
		if err := json.Unmarshal(data, timer); err != nil {
			return err
		}

		if keep(timer) {
			timers = append(timers, timer)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(timers, func(i, j int) bool {
		return timers[i].TriggerAt.Before(timers[j].TriggerAt)
	})

	return timers, nil
}
