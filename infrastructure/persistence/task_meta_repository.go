package persistence

import (
	"context"

	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/db"
)

// TaskMetaRepository stores one cursor document per task name.
type TaskMetaRepository struct{}

func NewTaskMetaRepository() repository.ITaskMeta { return &TaskMetaRepository{} }

// Get returns an empty meta for a task that never ran.
func (r *TaskMetaRepository) Get(ctx context.Context, manager repository.TransactionManager, taskName string) (*model.TaskMeta, error) {
	meta, err := db.GetAs[model.TaskMeta](ctx, manager, repository.CollectionTaskMeta, taskName)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return &model.TaskMeta{ID: taskName}, nil
	}
	return meta, nil
}

func (r *TaskMetaRepository) Set(ctx context.Context, manager repository.TransactionManager, meta *model.TaskMeta) error {
	return manager.Set(ctx, repository.CollectionTaskMeta, meta.ID, meta)
}
