package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/logger"
)

var ErrEmptySignup = errors.New("signup returned no platform user id")

type IUsersUsecase interface {
	LinkAccount(ctx context.Context, userID string, platform model.PlatformID, data model.SignupData) (*model.AccountProfile, error)
	GetUser(ctx context.Context, userID string) (*model.AppUser, error)
	SetAutopublish(ctx context.Context, userID string, platform model.PlatformID, enabled bool) (*model.AppUser, error)
}

type usersUsecase struct {
	store       repository.Store
	repos       Repositories
	platforms   repository.IPlatformRegistry
	credentials repository.ICredentials
}

func NewUsersUsecase(store repository.Store, repos Repositories, platforms repository.IPlatformRegistry, credentials repository.ICredentials) IUsersUsecase {
	return &usersUsecase{store: store, repos: repos, platforms: platforms, credentials: credentials}
}

// LinkAccount completes a platform signup and attaches the account to the
// user, creating the user on first link.
func (u *usersUsecase) LinkAccount(ctx context.Context, userID string, platform model.PlatformID, data model.SignupData) (*model.AccountProfile, error) {
	adapter, err := u.platforms.Get(platform)
	if err != nil {
		return nil, err
	}
	details, err := adapter.HandleSignup(ctx, data)
	if err != nil {
		return nil, err
	}
	if details.UserID == "" {
		return nil, fmt.Errorf("%s: %w", platform, ErrEmptySignup)
	}

	creds := details.Credentials
	creds.UserID = userID
	creds.Platform = platform
	if err := u.credentials.UpsertCredentials(ctx, &creds); err != nil {
		return nil, fmt.Errorf("store %s credentials: %w", platform, err)
	}

	var profile *model.AccountProfile
	err = u.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		now := nowMs()
		user, err := u.repos.Users.Get(ctx, manager, userID, false)
		if err != nil {
			return err
		}
		if user == nil {
			user = &model.AppUser{ID: userID, SignupDateMs: now}
		}
		if user.Accounts == nil {
			user.Accounts = map[model.PlatformID][]string{}
		}
		if !user.HasAccount(platform, details.UserID) {
			user.Accounts[platform] = append(user.Accounts[platform], details.UserID)
		}
		if err := u.repos.Users.Set(ctx, manager, user); err != nil {
			return err
		}

		profile, err = u.repos.Profiles.Get(ctx, manager, platform, details.UserID, false)
		if err != nil {
			return err
		}
		if profile == nil {
			profile = &model.AccountProfile{Platform: platform, UserID: details.UserID}
		}
		profile.AppUserID = userID
		profile.DisplayName = details.DisplayName
		profile.UpdatedAtMs = now
		return u.repos.Profiles.Set(ctx, manager, profile)
	})
	if err != nil {
		return nil, err
	}
	logger.GetLogger().WithFields(map[string]interface{}{
		"userId":   userID,
		"platform": platform,
		"account":  details.UserID,
		"at":       time.Now().UTC().Format(time.RFC3339),
	}).Info("account linked")
	return profile, nil
}

func (u *usersUsecase) GetUser(ctx context.Context, userID string) (*model.AppUser, error) {
	var user *model.AppUser
	err := u.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		var err error
		user, err = u.repos.Users.Get(ctx, manager, userID, true)
		return err
	})
	return user, err
}

func (u *usersUsecase) SetAutopublish(ctx context.Context, userID string, platform model.PlatformID, enabled bool) (*model.AppUser, error) {
	var user *model.AppUser
	err := u.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		var err error
		user, err = u.repos.Users.Get(ctx, manager, userID, true)
		if err != nil {
			return err
		}
		if user.Settings.Autopublish == nil {
			user.Settings.Autopublish = map[model.PlatformID]bool{}
		}
		user.Settings.Autopublish[platform] = enabled
		return u.repos.Users.Set(ctx, manager, user)
	})
	return user, err
}
