package persistence

import (
	"context"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/db"
)

type UsersRepository struct{}

func NewUsersRepository() repository.IUsers { return &UsersRepository{} }

func (r *UsersRepository) Get(ctx context.Context, manager repository.TransactionManager, userID string, shouldThrow bool) (*model.AppUser, error) {
	user, err := db.GetAs[model.AppUser](ctx, manager, repository.CollectionUsers, userID)
	if err != nil {
		return nil, err
	}
	if user == nil && shouldThrow {
		return nil, apperror.NotFound("user", userID)
	}
	return user, nil
}

func (r *UsersRepository) Set(ctx context.Context, manager repository.TransactionManager, user *model.AppUser) error {
	return manager.Set(ctx, repository.CollectionUsers, user.ID, user)
}

func (r *UsersRepository) GetBatchAfter(ctx context.Context, manager repository.TransactionManager, afterID string, limit int) ([]model.AppUser, error) {
	q := repository.Query{Collection: repository.CollectionUsers, OrderBy: "_id", Limit: limit}
	if afterID != "" {
		q.Where = []repository.Condition{{Field: "_id", Op: repository.OpGt, Value: afterID}}
	}
	return db.QueryAs[model.AppUser](ctx, manager, q)
}
