package repository

import (
	"context"

	"post-mirror/domain/model"
)

type IProfiles interface {
	Get(ctx context.Context, manager TransactionManager, platform model.PlatformID, platformUserID string, shouldThrow bool) (*model.AccountProfile, error)
	Set(ctx context.Context, manager TransactionManager, profile *model.AccountProfile) error
	GetOfUser(ctx context.Context, manager TransactionManager, appUserID string) ([]model.AccountProfile, error)
}

type IUsers interface {
	Get(ctx context.Context, manager TransactionManager, userID string, shouldThrow bool) (*model.AppUser, error)
	Set(ctx context.Context, manager TransactionManager, user *model.AppUser) error
	GetBatchAfter(ctx context.Context, manager TransactionManager, afterID string, limit int) ([]model.AppUser, error)
}

// ICredentials resolves platform credentials. It lives outside the document
// store and is only called outside units of work.
type ICredentials interface {
	GetCredentials(ctx context.Context, userID string, platform model.PlatformID) (*model.PlatformCredentials, error)
	UpsertCredentials(ctx context.Context, creds *model.PlatformCredentials) error
}

type ITaskMeta interface {
	Get(ctx context.Context, manager TransactionManager, taskName string) (*model.TaskMeta, error)
	Set(ctx context.Context, manager TransactionManager, meta *model.TaskMeta) error
}

type IActivity interface {
	Record(ctx context.Context, event *model.ActivityEvent) error
	ListForEntity(ctx context.Context, kind model.EntityKind, entityID string, limit int) ([]model.ActivityEvent, error)
}

// ISignaler receives change signals after a unit of work commits.
type ISignaler interface {
	Signal(ctx context.Context, signal model.ChangeSignal)
}
