package persistence

import (
	"context"
	"fmt"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/db"
)

type PostsRepository struct{}

func NewPostsRepository() repository.IPosts { return &PostsRepository{} }

func (r *PostsRepository) Get(ctx context.Context, manager repository.TransactionManager, postID string, shouldThrow bool) (*model.AppPost, error) {
	post, err := db.GetAs[model.AppPost](ctx, manager, repository.CollectionPosts, postID)
	if err != nil {
		return nil, err
	}
	if post == nil && shouldThrow {
		return nil, apperror.NotFound("post", postID)
	}
	return post, nil
}

func (r *PostsRepository) Create(ctx context.Context, manager repository.TransactionManager, post *model.AppPost) error {
	if post.ID == "" {
		return fmt.Errorf("create post: empty id")
	}
	return manager.Create(ctx, repository.CollectionPosts, post.ID, post)
}

func (r *PostsRepository) Set(ctx context.Context, manager repository.TransactionManager, post *model.AppPost) error {
	return manager.Set(ctx, repository.CollectionPosts, post.ID, post)
}

// Update applies the non-nil fields of update and returns the stored post.
func (r *PostsRepository) Update(ctx context.Context, manager repository.TransactionManager, postID string, update model.PostUpdate) (*model.AppPost, error) {
	post, err := r.Get(ctx, manager, postID, true)
	if err != nil {
		return nil, err
	}
	if update.Content != nil {
		post.Content = *update.Content
	}
	if update.Semantics != nil {
		post.Semantics = *update.Semantics
	}
	if update.ReviewedStatus != nil {
		post.ReviewedStatus = *update.ReviewedStatus
	}
	if update.RepublishedStatus != nil {
		post.RepublishedStatus = *update.RepublishedStatus
	}
	if err := r.Set(ctx, manager, post); err != nil {
		return nil, fmt.Errorf("update post %s: %w", postID, err)
	}
	return post, nil
}

func (r *PostsRepository) GetOfUser(ctx context.Context, manager repository.TransactionManager, userID string) ([]model.AppPost, error) {
	return db.QueryAs[model.AppPost](ctx, manager, repository.Query{
		Collection: repository.CollectionPosts,
		Where:      []repository.Condition{{Field: "authorUserId", Op: repository.OpEq, Value: userID}},
		OrderBy:    "createdAtMs",
	})
}

// GetBatchAfter pages through all posts in id order starting after afterID.
func (r *PostsRepository) GetBatchAfter(ctx context.Context, manager repository.TransactionManager, afterID string, limit int) ([]model.AppPost, error) {
	q := repository.Query{Collection: repository.CollectionPosts, OrderBy: "_id", Limit: limit}
	if afterID != "" {
		q.Where = []repository.Condition{{Field: "_id", Op: repository.OpGt, Value: afterID}}
	}
	return db.QueryAs[model.AppPost](ctx, manager, q)
}
