package persistence

import (
	"context"
	"fmt"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/db"
)

type PlatformPostsRepository struct{}

func NewPlatformPostsRepository() repository.IPlatformPosts { return &PlatformPostsRepository{} }

func (r *PlatformPostsRepository) Get(ctx context.Context, manager repository.TransactionManager, id string, shouldThrow bool) (*model.PlatformPost, error) {
	mirror, err := db.GetAs[model.PlatformPost](ctx, manager, repository.CollectionPlatformPosts, id)
	if err != nil {
		return nil, err
	}
	if mirror == nil && shouldThrow {
		return nil, apperror.NotFound("platform post", id)
	}
	return mirror, nil
}

// GetFromPlatformPostID looks a mirror up by its natural key, falling back to
// published drafts, which keep their draft id.
func (r *PlatformPostsRepository) GetFromPlatformPostID(ctx context.Context, manager repository.TransactionManager, platform model.PlatformID, platformPostID string) (*model.PlatformPost, error) {
	mirror, err := r.Get(ctx, manager, model.PlatformPostDocID(platform, platformPostID), false)
	if err != nil || mirror != nil {
		return mirror, err
	}
	published, err := db.QueryAs[model.PlatformPost](ctx, manager, repository.Query{
		Collection: repository.CollectionPlatformPosts,
		Where: []repository.Condition{
			{Field: "platformId", Op: repository.OpEq, Value: string(platform)},
			{Field: "posted.post_id", Op: repository.OpEq, Value: platformPostID},
		},
		Limit: 1,
	})
	if err != nil || len(published) == 0 {
		return nil, err
	}
	return &published[0], nil
}

func (r *PlatformPostsRepository) GetOfPost(ctx context.Context, manager repository.TransactionManager, postID string) ([]model.PlatformPost, error) {
	return db.QueryAs[model.PlatformPost](ctx, manager, repository.Query{
		Collection: repository.CollectionPlatformPosts,
		Where:      []repository.Condition{{Field: "postId", Op: repository.OpEq, Value: postID}},
		OrderBy:    "createdAtMs",
	})
}

func (r *PlatformPostsRepository) Create(ctx context.Context, manager repository.TransactionManager, mirror *model.PlatformPost) error {
	if mirror.ID == "" {
		return fmt.Errorf("create platform post: empty id")
	}
	return manager.Create(ctx, repository.CollectionPlatformPosts, mirror.ID, mirror)
}

func (r *PlatformPostsRepository) Set(ctx context.Context, manager repository.TransactionManager, mirror *model.PlatformPost) error {
	return manager.Set(ctx, repository.CollectionPlatformPosts, mirror.ID, mirror)
}
