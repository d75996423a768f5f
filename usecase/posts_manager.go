package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/logger"
)

var ErrInvalidTransition = errors.New("invalid review status transition")

// FetchOptions narrows FetchForUser. No platforms means every linked platform.
type FetchOptions struct {
	Platforms      []model.PlatformID
	ExpectedAmount int
}

// FetchSummary reports a FetchForUser run. Failed holds the isolated error of
// each account that could not be fetched.
type FetchSummary struct {
	NewPostIDs []string                    `json:"newPostIds"`
	Mirrors    int                         `json:"mirrors"`
	Failed     map[model.PlatformID]string `json:"failed,omitempty"`
}

// PublishedMirror is one successful publish, used to start its metrics sync.
type PublishedMirror struct {
	MirrorID string
	Platform model.PlatformID
}

// TaskHooks lets the manager hand follow-up work to the task engine.
type TaskHooks interface {
	PostCreated(ctx context.Context, postID string)
	MirrorPublished(ctx context.Context, mirror PublishedMirror)
}

type IPostsManager interface {
	FetchForUser(ctx context.Context, userID string, opts FetchOptions) (*FetchSummary, error)
	ParsePost(ctx context.Context, postID string) (*model.AppPost, error)
	ApprovePost(ctx context.Context, payload model.PostUpdatePayload, actingUserID string) (*model.AppPostFull, error)
	GetPostFull(ctx context.Context, postID string, opts GetPostFullOptions) (*model.AppPostFull, error)
	SyncPostMetrics(ctx context.Context, mirrorID string) error
}

type PostsManager struct {
	store          repository.Store
	repos          Repositories
	processing     IPostsProcessing
	platforms      repository.IPlatformRegistry
	credentials    repository.ICredentials
	parser         repository.IParser
	hooks          TaskHooks
	expectedAmount int
}

func NewPostsManager(
	store repository.Store,
	repos Repositories,
	processing IPostsProcessing,
	platforms repository.IPlatformRegistry,
	credentials repository.ICredentials,
	parser repository.IParser,
	expectedAmount int,
) *PostsManager {
	if expectedAmount <= 0 {
		expectedAmount = 50
	}
	return &PostsManager{
		store:          store,
		repos:          repos,
		processing:     processing,
		platforms:      platforms,
		credentials:    credentials,
		parser:         parser,
		expectedAmount: expectedAmount,
	}
}

// UseHooks wires follow-up task enqueueing. Without hooks no follow-up runs.
func (m *PostsManager) UseHooks(hooks TaskHooks) { m.hooks = hooks }

func (m *PostsManager) GetPostFull(ctx context.Context, postID string, opts GetPostFullOptions) (*model.AppPostFull, error) {
	var full *model.AppPostFull
	err := m.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		var err error
		full, err = m.processing.GetPostFull(ctx, manager, postID, opts, true)
		return err
	})
	return full, err
}

// FetchForUser fetches every linked account of a user in parallel. A failing
// account is logged and reported in the summary without affecting the others.
func (m *PostsManager) FetchForUser(ctx context.Context, userID string, opts FetchOptions) (*FetchSummary, error) {
	var (
		user     *model.AppUser
		accounts []model.AccountProfile
	)
	err := m.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		accounts = nil
		var err error
		user, err = m.repos.Users.Get(ctx, manager, userID, true)
		if err != nil {
			return err
		}
		for _, platform := range model.AllPlatforms {
			if len(opts.Platforms) > 0 && !containsPlatform(opts.Platforms, platform) {
				continue
			}
			for _, platformUserID := range user.Accounts[platform] {
				profile, err := m.repos.Profiles.Get(ctx, manager, platform, platformUserID, false)
				if err != nil {
					return err
				}
				if profile != nil {
					accounts = append(accounts, *profile)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	expected := opts.ExpectedAmount
	if expected <= 0 {
		expected = m.expectedAmount
	}

	summary := &FetchSummary{Failed: map[model.PlatformID]string{}}
	var mu sync.Mutex
	var g errgroup.Group
	for i := range accounts {
		account := accounts[i]
		g.Go(func() error {
			created, err := m.fetchAccount(ctx, user, account, expected)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed[account.Platform] = err.Error()
				return nil
			}
			if created != nil {
				summary.NewPostIDs = append(summary.NewPostIDs, created.NewPostIDs...)
				summary.Mirrors += len(created.Mirrors)
			}
			return nil
		})
	}
	_ = g.Wait()

	if m.hooks != nil {
		for _, id := range summary.NewPostIDs {
			m.hooks.PostCreated(ctx, id)
		}
	}
	return summary, nil
}

func (m *PostsManager) fetchAccount(ctx context.Context, user *model.AppUser, account model.AccountProfile, expected int) (*CreatedMirrors, error) {
	log := logger.GetLogger().WithFields(map[string]interface{}{
		"userId":   user.ID,
		"platform": account.Platform,
		"account":  account.UserID,
	})

	adapter, err := m.platforms.Get(account.Platform)
	if err != nil {
		log.WithField("error", err).Error("no adapter for linked account")
		return nil, err
	}
	creds, err := m.credentials.GetCredentials(ctx, user.ID, account.Platform)
	if err != nil {
		log.WithField("error", err).Warn("cannot fetch account without credentials")
		return nil, err
	}

	params := model.FetchParams{ExpectedAmount: expected}
	if account.Fetched != nil && account.Fetched.NewestID != "" {
		params.SinceID = account.Fetched.NewestID
	} else {
		params.StartTimeMs = user.SignupDateMs
	}

	result, err := withCredentials(ctx, m, creds, func() (*model.FetchResult, error) {
		return adapter.Fetch(ctx, params, &account, creds)
	})
	if errors.Is(err, apperror.ErrUnsupported) {
		return nil, nil
	}
	if err != nil {
		log.WithField("error", err).Error("fetch failed")
		return nil, err
	}

	var created *CreatedMirrors
	err = m.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		var err error
		created, err = m.processing.CreateMirrorPosts(ctx, manager, &account, result.Posts)
		if err != nil {
			return err
		}
		profile, err := m.repos.Profiles.Get(ctx, manager, account.Platform, account.UserID, true)
		if err != nil {
			return err
		}
		if profile.Fetched == nil {
			profile.Fetched = &model.FetchedDetails{}
		}
		profile.Fetched.Merge(result.Fetched)
		profile.UpdatedAtMs = nowMs()
		return m.repos.Profiles.Set(ctx, manager, profile)
	})
	if err != nil {
		log.WithField("error", err).Error("storing fetched posts failed")
		return nil, err
	}
	log.WithFields(map[string]interface{}{
		"fetched": len(result.Posts),
		"newest":  result.Fetched.NewestID,
	}).Info("account fetched")
	return created, nil
}

// ParsePost runs the external parser on an eligible post. The post always
// ends PROCESSED or ERRORED; only store failures are returned.
func (m *PostsManager) ParsePost(ctx context.Context, postID string) (*model.AppPost, error) {
	log := logger.GetLogger().WithField("postId", postID)

	var post *model.AppPost
	eligible := false
	err := m.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		var err error
		post, err = m.repos.Posts.Get(ctx, manager, postID, true)
		if err != nil {
			return err
		}
		eligible = post.ParsingStatus.CanParse()
		if !eligible {
			return nil
		}
		post.ParsingStatus = model.ParsingProcessing
		return m.repos.Posts.Set(ctx, manager, post)
	})
	if err != nil {
		return nil, err
	}
	if !eligible {
		log.WithField("parsingStatus", post.ParsingStatus).Debug("post is not eligible for parsing")
		return post, nil
	}

	parsed, parseErr := m.parser.Parse(ctx, postID, model.GenericPost{
		Content:     post.Content,
		TimestampMs: post.CreatedAtMs,
	})

	var drafts []model.PlatformPost
	err = m.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		drafts = nil
		var err error
		post, err = m.repos.Posts.Get(ctx, manager, postID, true)
		if err != nil {
			return err
		}
		if parseErr != nil {
			post.ParsingStatus = model.ParsingErrored
			return m.repos.Posts.Set(ctx, manager, post)
		}

		post.Semantics = parsed.Semantics
		post.OriginalParsed = parsed
		if err := m.processing.ProcessSemantics(ctx, manager, post, parsed.Semantics); err != nil {
			var pe *apperror.ParseError
			if !errors.As(err, &pe) {
				return err
			}
			parseErr = err
			post.ParsingStatus = model.ParsingErrored
			return m.repos.Posts.Set(ctx, manager, post)
		}
		post.ParsingStatus = model.ParsingProcessed
		if err := m.repos.Posts.Set(ctx, manager, post); err != nil {
			return err
		}

		user, err := m.repos.Users.Get(ctx, manager, post.AuthorUserID, false)
		if err != nil {
			return err
		}
		drafts, err = m.processing.PrepareDrafts(ctx, manager, post, user)
		if err != nil {
			log.WithField("error", err).Warn("preparing drafts failed")
			drafts = nil
		}
		return nil
	})
	if err != nil {
		m.markErrored(ctx, postID)
		return nil, err
	}
	if parseErr != nil {
		log.WithField("error", parseErr).Warn("post parsing errored")
		return post, nil
	}

	var autopublish []model.PlatformPost
	for _, d := range drafts {
		if d.IsApprovedDraft() {
			autopublish = append(autopublish, d)
		}
	}
	if len(autopublish) > 0 {
		if err := m.publishMirrors(ctx, post.ID, post.AuthorUserID, autopublish, model.AutoRepublished); err != nil {
			log.WithField("error", err).Warn("autopublish failed on some platforms")
		}
	}
	return post, nil
}

// markErrored is a best-effort write so a failed store step never leaves a post PROCESSING.
func (m *PostsManager) markErrored(ctx context.Context, postID string) {
	err := m.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		post, err := m.repos.Posts.Get(ctx, manager, postID, true)
		if err != nil {
			return err
		}
		if post.ParsingStatus != model.ParsingProcessing {
			return nil
		}
		post.ParsingStatus = model.ParsingErrored
		return m.repos.Posts.Set(ctx, manager, post)
	})
	if err != nil {
		logger.GetLogger().WithFields(map[string]interface{}{
			"postId": postID,
			"error":  err,
		}).Error("could not mark post as errored")
	}
}

// ApprovePost applies the author's edits and publishes every approved draft
// mirror. Mirrors publish concurrently and each result is stored on its own,
// so one failing platform leaves the others published. The joined publish
// errors are returned along with the refreshed post.
func (m *PostsManager) ApprovePost(ctx context.Context, payload model.PostUpdatePayload, actingUserID string) (*model.AppPostFull, error) {
	var approved []model.PlatformPost
	err := m.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		approved = nil
		post, err := m.repos.Posts.Get(ctx, manager, payload.PostID, true)
		if err != nil {
			return err
		}
		if post.AuthorUserID != actingUserID {
			return &apperror.AuthorizationError{UserID: actingUserID, Resource: "post " + post.ID}
		}

		update := payload.Update
		contentChanged := update.Content != nil && *update.Content != post.Content
		semanticsChanged := update.Semantics != nil && *update.Semantics != post.Semantics

		next := model.ReviewedApproved
		if update.ReviewedStatus != nil && !contentChanged && !semanticsChanged {
			next = *update.ReviewedStatus
		}
		if !post.ReviewedStatus.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, post.ReviewedStatus, next)
		}
		update.ReviewedStatus = &next
		update.RepublishedStatus = nil

		post, err = m.repos.Posts.Update(ctx, manager, post.ID, update)
		if err != nil {
			return err
		}
		if semanticsChanged {
			if err := m.processing.ProcessSemantics(ctx, manager, post, post.Semantics); err != nil {
				return err
			}
		}
		if contentChanged || semanticsChanged {
			user, err := m.repos.Users.Get(ctx, manager, post.AuthorUserID, false)
			if err != nil {
				return err
			}
			if _, err := m.processing.PrepareDrafts(ctx, manager, post, user); err != nil {
				return err
			}
		}

		for _, id := range post.MirrorIDs {
			mirror, err := m.repos.PlatformPosts.Get(ctx, manager, id, false)
			if err != nil {
				return err
			}
			if mirror == nil || mirror.IsPosted() || mirror.Draft == nil {
				continue
			}
			if containsPlatform(payload.Platforms, mirror.PlatformID) && mirror.Draft.PostApproval != model.PostApprovalApproved {
				mirror.Draft.PostApproval = model.PostApprovalApproved
				mirror.UpdatedAtMs = nowMs()
				if err := m.repos.PlatformPosts.Set(ctx, manager, mirror); err != nil {
					return err
				}
			}
			if next == model.ReviewedApproved && mirror.IsApprovedDraft() {
				approved = append(approved, *mirror)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	publishErr := m.publishMirrors(ctx, payload.PostID, actingUserID, approved, model.Republished)
	full, err := m.GetPostFull(ctx, payload.PostID, GetPostFullOptions{AddMirrors: true})
	if err != nil {
		return nil, err
	}
	return full, publishErr
}

// publishMirrors publishes approved drafts concurrently. Each success is
// written in its own unit of work; the post's republished status is set on
// the first success only.
func (m *PostsManager) publishMirrors(ctx context.Context, postID, userID string, mirrors []model.PlatformPost, status model.RepublishedStatus) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for i := range mirrors {
		mirror := mirrors[i]
		g.Go(func() error {
			if err := m.publishMirror(ctx, postID, userID, mirror, status); err != nil {
				logger.GetLogger().WithFields(map[string]interface{}{
					"postId":   postID,
					"mirrorId": mirror.ID,
					"platform": mirror.PlatformID,
					"error":    err,
				}).Error("publish failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", mirror.PlatformID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (m *PostsManager) publishMirror(ctx context.Context, postID, userID string, mirror model.PlatformPost, status model.RepublishedStatus) error {
	adapter, err := m.platforms.Get(mirror.PlatformID)
	if err != nil {
		return err
	}
	creds, err := m.credentials.GetCredentials(ctx, userID, mirror.PlatformID)
	if err != nil {
		return err
	}
	posted, err := withCredentials(ctx, m, creds, func() (*model.PostedResult, error) {
		return adapter.Publish(ctx, mirror.Draft, creds)
	})
	if err != nil {
		return err
	}

	published := false
	err = m.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		published = false
		current, err := m.repos.PlatformPosts.Get(ctx, manager, mirror.ID, true)
		if err != nil {
			return err
		}
		if current.IsPosted() {
			return nil
		}
		current.MarkPosted(*posted, nowMs())
		if err := m.repos.PlatformPosts.Set(ctx, manager, current); err != nil {
			return err
		}
		published = true

		post, err := m.repos.Posts.Get(ctx, manager, postID, true)
		if err != nil {
			return err
		}
		if post.RepublishedStatus == model.RepublishedPending || post.RepublishedStatus == "" {
			post.RepublishedStatus = status
			return m.repos.Posts.Set(ctx, manager, post)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if published && m.hooks != nil {
		m.hooks.MirrorPublished(ctx, PublishedMirror{MirrorID: mirror.ID, Platform: mirror.PlatformID})
	}
	return nil
}

// SyncPostMetrics refreshes the native payload of a published mirror.
func (m *PostsManager) SyncPostMetrics(ctx context.Context, mirrorID string) error {
	var (
		mirror *model.PlatformPost
		owner  string
	)
	err := m.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		var err error
		mirror, err = m.repos.PlatformPosts.Get(ctx, manager, mirrorID, true)
		if err != nil {
			return err
		}
		if mirror.PostID == "" {
			return nil
		}
		post, err := m.repos.Posts.Get(ctx, manager, mirror.PostID, false)
		if err != nil {
			return err
		}
		if post != nil {
			owner = post.AuthorUserID
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !mirror.IsPosted() || owner == "" {
		return nil
	}

	adapter, err := m.platforms.Get(mirror.PlatformID)
	if err != nil {
		return err
	}
	creds, err := m.credentials.GetCredentials(ctx, owner, mirror.PlatformID)
	if err != nil {
		return err
	}
	refreshed, err := withCredentials(ctx, m, creds, func() (*model.PlatformPostPosted, error) {
		return adapter.Get(ctx, mirror.Posted.PostID, creds)
	})
	if errors.Is(err, apperror.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}

	return m.store.Run(ctx, func(ctx context.Context, manager repository.TransactionManager) error {
		current, err := m.repos.PlatformPosts.Get(ctx, manager, mirrorID, true)
		if err != nil {
			return err
		}
		if current.Posted == nil {
			return nil
		}
		current.Posted.Native = refreshed.Native
		if refreshed.TimestampMs != 0 {
			current.Posted.TimestampMs = refreshed.TimestampMs
		}
		current.UpdatedAtMs = nowMs()
		return m.repos.PlatformPosts.Set(ctx, manager, current)
	})
}

func containsPlatform(list []model.PlatformID, p model.PlatformID) bool {
	for _, v := range list {
		if v == p {
			return true
		}
	}
	return false
}

// withCredentials runs an adapter call and stores the credentials again when
// the adapter rotated their tokens, even if the call itself failed.
func withCredentials[T any](ctx context.Context, m *PostsManager, creds *model.PlatformCredentials, call func() (T, error)) (T, error) {
	if creds == nil {
		return call()
	}
	access, refresh := creds.AccessToken, creds.RefreshToken
	out, err := call()
	if creds.AccessToken != access || creds.RefreshToken != refresh {
		if saveErr := m.credentials.UpsertCredentials(ctx, creds); saveErr != nil {
			logger.GetLogger().WithFields(map[string]interface{}{
				"userId":   creds.UserID,
				"platform": creds.Platform,
				"error":    saveErr,
			}).Error("storing refreshed credentials failed")
		}
	}
	return out, err
}
