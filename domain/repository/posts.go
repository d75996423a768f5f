package repository

import (
	"context"

	"post-mirror/domain/model"
)

type IPosts interface {
	// Get returns (nil, nil) for a missing post unless shouldThrow is set.
	Get(ctx context.Context, manager TransactionManager, postID string, shouldThrow bool) (*model.AppPost, error)
	Create(ctx context.Context, manager TransactionManager, post *model.AppPost) error
	Set(ctx context.Context, manager TransactionManager, post *model.AppPost) error
	Update(ctx context.Context, manager TransactionManager, postID string, update model.PostUpdate) (*model.AppPost, error)
	GetOfUser(ctx context.Context, manager TransactionManager, userID string) ([]model.AppPost, error)
	GetBatchAfter(ctx context.Context, manager TransactionManager, afterID string, limit int) ([]model.AppPost, error)
}

type IPlatformPosts interface {
	Get(ctx context.Context, manager TransactionManager, id string, shouldThrow bool) (*model.PlatformPost, error)
	GetFromPlatformPostID(ctx context.Context, manager TransactionManager, platform model.PlatformID, platformPostID string) (*model.PlatformPost, error)
	GetOfPost(ctx context.Context, manager TransactionManager, postID string) ([]model.PlatformPost, error)
	Create(ctx context.Context, manager TransactionManager, mirror *model.PlatformPost) error
	Set(ctx context.Context, manager TransactionManager, mirror *model.PlatformPost) error
}

type ITriples interface {
	GetOfPost(ctx context.Context, manager TransactionManager, postID string) ([]model.Triple, error)
	DeleteOfPost(ctx context.Context, manager TransactionManager, postID string) error
	Create(ctx context.Context, manager TransactionManager, triple *model.Triple) error
}
