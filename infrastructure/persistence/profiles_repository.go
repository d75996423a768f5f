package persistence

import (
	"context"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/db"
)

type ProfilesRepository struct{}

func NewProfilesRepository() repository.IProfiles { return &ProfilesRepository{} }

func (r *ProfilesRepository) Get(ctx context.Context, manager repository.TransactionManager, platform model.PlatformID, platformUserID string, shouldThrow bool) (*model.AccountProfile, error) {
	id := model.ProfileDocID(platform, platformUserID)
	profile, err := db.GetAs[model.AccountProfile](ctx, manager, repository.CollectionProfiles, id)
	if err != nil {
		return nil, err
	}
	if profile == nil && shouldThrow {
		return nil, apperror.NotFound("profile", id)
	}
	return profile, nil
}

func (r *ProfilesRepository) Set(ctx context.Context, manager repository.TransactionManager, profile *model.AccountProfile) error {
	profile.ID = model.ProfileDocID(profile.Platform, profile.UserID)
	return manager.Set(ctx, repository.CollectionProfiles, profile.ID, profile)
}

func (r *ProfilesRepository) GetOfUser(ctx context.Context, manager repository.TransactionManager, appUserID string) ([]model.AccountProfile, error) {
	return db.QueryAs[model.AccountProfile](ctx, manager, repository.Query{
		Collection: repository.CollectionProfiles,
		Where:      []repository.Condition{{Field: "userId", Op: repository.OpEq, Value: appUserID}},
	})
}
