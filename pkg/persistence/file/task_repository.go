package file

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/dukex/flowstate/pkg/models"
	"github.com/dukex/flowstate/pkg/persistence"
)

const kindTasks = "tasks"

type TaskRepository struct {
	store *store
}

func (r *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	return r.store.write(kindTasks, task.ID, task)
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	task := &models.Task{}
	if err := r.store.read(kindTasks, id, task, persistence.ErrTaskNotFound); err != nil {
		return nil, err
	}

	return task, nil
}

func (r *TaskRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Task, error) {
	return r.filter(func(t *models.Task) bool {
		return t.WorkflowID == workflowID
	})
}

func (r *TaskRepository) ListByState(ctx context.Context, workflowID, stateName string) ([]*models.Task, error) {
	return r.filter(func(t *models.Task) bool {
		return t.WorkflowID == workflowID && t.StateName == stateName
	})
}

func (r *TaskRepository) ListByAssignee(ctx context.Context, userID string) ([]*models.Task, error) {
	return r.filter(func(t *models.Task) bool {
		return t.AssignedUserID == userID
	})
}

func (r *TaskRepository) FindOverdue(ctx context.Context, now time.Time) ([]*models.Task, error) {
	return r.filter(func(t *models.Task) bool {
		return t.IsOverdue(now)
	})
}

func (r *TaskRepository) filter(keep func(*models.Task) bool) ([]*models.Task, error) {
	tasks := make([]*models.Task, 0)

	err := r.store.readAll(kindTasks, func(data []byte) error {
		task := &models.Task{}
		if err := json.Unmarshal(data, task); err != nil {
			return err
		}

		if keep(task) {
			tasks = append(tasks, task)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}
