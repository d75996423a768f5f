package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/domain/semantics"
	"post-mirror/infrastructure/logger"
)

// postNamespace derives stable post ids from the mirror a post was first seen as.
var postNamespace = uuid.MustParse("5b0f6a9e-3c1d-4f7a-9a61-2f1e8d7c4b30")

type GetPostFullOptions struct {
	AddMirrors          bool
	AddAggregatedLabels bool
}

// CreatedMirrors is the outcome of one CreateMirrorPosts call.
type CreatedMirrors struct {
	Mirrors    []model.PlatformPost
	NewPostIDs []string
}

// IPostsProcessing holds the domain steps that run inside a unit of work.
type IPostsProcessing interface {
	CreateMirrorPosts(ctx context.Context, manager repository.TransactionManager, account *model.AccountProfile, posted []model.PlatformPostPosted) (*CreatedMirrors, error)
	ProcessSemantics(ctx context.Context, manager repository.TransactionManager, post *model.AppPost, raw string) error
	GetPostFull(ctx context.Context, manager repository.TransactionManager, postID string, opts GetPostFullOptions, shouldThrow bool) (*model.AppPostFull, error)
	PrepareDrafts(ctx context.Context, manager repository.TransactionManager, post *model.AppPost, user *model.AppUser) ([]model.PlatformPost, error)
}

type postsProcessing struct {
	repos     Repositories
	platforms repository.IPlatformRegistry
}

func NewPostsProcessing(repos Repositories, platforms repository.IPlatformRegistry) IPostsProcessing {
	return &postsProcessing{repos: repos, platforms: platforms}
}

// CreateMirrorPosts upserts fetched items by (platform, platform post id).
// Known mirrors are refreshed in place; unknown ones get a mirror and a new
// canonical post.
func (p *postsProcessing) CreateMirrorPosts(ctx context.Context, manager repository.TransactionManager, account *model.AccountProfile, posted []model.PlatformPostPosted) (*CreatedMirrors, error) {
	adapter, err := p.platforms.Get(account.Platform)
	if err != nil {
		return nil, err
	}
	out := &CreatedMirrors{}
	now := nowMs()

	for i := range posted {
		item := posted[i]
		if item.UserID == "" {
			item.UserID = account.UserID
		}

		mirror, err := p.repos.PlatformPosts.GetFromPlatformPostID(ctx, manager, account.Platform, item.PostID)
		if err != nil {
			return nil, err
		}
		if mirror != nil {
			mirror.Posted = &item
			mirror.UpdatedAtMs = now
			if mirror.PostID == "" {
				post, err := p.newPost(adapter, account, mirror, now)
				if err != nil {
					logSkipped(account, item.PostID, err)
					continue
				}
				if err := p.createPostIfMissing(ctx, manager, post, out); err != nil {
					return nil, err
				}
				mirror.PostID = post.ID
			}
			if err := p.repos.PlatformPosts.Set(ctx, manager, mirror); err != nil {
				return nil, err
			}
			out.Mirrors = append(out.Mirrors, *mirror)
			continue
		}

		mirror = &model.PlatformPost{
			ID:            model.PlatformPostDocID(account.Platform, item.PostID),
			PlatformID:    account.Platform,
			PublishOrigin: model.PublishOriginFetched,
			Posted:        &item,
			CreatedAtMs:   now,
			UpdatedAtMs:   now,
		}
		post, err := p.newPost(adapter, account, mirror, now)
		if err != nil {
			logSkipped(account, item.PostID, err)
			continue
		}
		mirror.PostID = post.ID
		if err := p.createPostIfMissing(ctx, manager, post, out); err != nil {
			return nil, err
		}
		if err := p.repos.PlatformPosts.Create(ctx, manager, mirror); err != nil {
			return nil, err
		}
		out.Mirrors = append(out.Mirrors, *mirror)
	}
	return out, nil
}

func logSkipped(account *model.AccountProfile, platformPostID string, err error) {
	logger.GetLogger().WithFields(map[string]interface{}{
		"platform":       account.Platform,
		"platformPostId": platformPostID,
		"error":          err,
	}).Warn("skipping fetched item that cannot be converted")
}

func (p *postsProcessing) newPost(adapter repository.IPlatform, account *model.AccountProfile, mirror *model.PlatformPost, now int64) (*model.AppPost, error) {
	generic, err := adapter.ConvertToGeneric(mirror.Posted)
	if err != nil {
		return nil, err
	}
	createdAt := generic.TimestampMs
	if createdAt == 0 {
		createdAt = mirror.Posted.TimestampMs
	}
	if createdAt == 0 {
		createdAt = now
	}
	return &model.AppPost{
		ID:                uuid.NewSHA1(postNamespace, []byte(mirror.ID)).String(),
		AuthorUserID:      account.AppUserID,
		Origin:            account.Platform,
		CreatedAtMs:       createdAt,
		Content:           generic.Content,
		ParsingStatus:     model.ParsingUnprocessed,
		ReviewedStatus:    model.ReviewedPending,
		RepublishedStatus: model.RepublishedPending,
		MirrorIDs:         []string{mirror.ID},
	}, nil
}

func (p *postsProcessing) createPostIfMissing(ctx context.Context, manager repository.TransactionManager, post *model.AppPost, out *CreatedMirrors) error {
	existing, err := p.repos.Posts.Get(ctx, manager, post.ID, false)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := p.repos.Posts.Create(ctx, manager, post); err != nil {
		return err
	}
	out.NewPostIDs = append(out.NewPostIDs, post.ID)
	return nil
}

// ProcessSemantics replaces every triple derived from a post with the ones in raw.
func (p *postsProcessing) ProcessSemantics(ctx context.Context, manager repository.TransactionManager, post *model.AppPost, raw string) error {
	statements, err := semantics.Parse(raw)
	if err != nil {
		return &apperror.ParseError{PostID: post.ID, Err: err}
	}
	if err := p.repos.Triples.DeleteOfPost(ctx, manager, post.ID); err != nil {
		return err
	}
	now := nowMs()
	for _, st := range statements {
		triple := &model.Triple{
			ID:          uuid.NewString(),
			PostID:      post.ID,
			AuthorID:    post.AuthorUserID,
			Subject:     st.Subject,
			Predicate:   st.Predicate,
			Object:      st.Object,
			CreatedAtMs: now,
		}
		if err := p.repos.Triples.Create(ctx, manager, triple); err != nil {
			return err
		}
	}
	return nil
}

func (p *postsProcessing) GetPostFull(ctx context.Context, manager repository.TransactionManager, postID string, opts GetPostFullOptions, shouldThrow bool) (*model.AppPostFull, error) {
	post, err := p.repos.Posts.Get(ctx, manager, postID, shouldThrow)
	if err != nil || post == nil {
		return nil, err
	}
	full := &model.AppPostFull{AppPost: *post}

	if opts.AddMirrors {
		for _, id := range post.MirrorIDs {
			mirror, err := p.repos.PlatformPosts.Get(ctx, manager, id, false)
			if err != nil {
				return nil, err
			}
			if mirror != nil {
				full.Mirrors = append(full.Mirrors, *mirror)
			}
		}
	}

	if opts.AddAggregatedLabels {
		triples, err := p.repos.Triples.GetOfPost(ctx, manager, postID)
		if err != nil {
			return nil, err
		}
		predicates := make([]string, 0, len(triples))
		for _, t := range triples {
			predicates = append(predicates, t.Predicate)
		}
		for _, lc := range semantics.Aggregate(predicates) {
			full.Labels = append(full.Labels, model.AggregatedLabel{Label: lc.Label, Count: lc.Count})
		}
	}
	return full, nil
}

// PrepareDrafts creates or refreshes one draft mirror per platform the author
// linked, other than the origin. Published mirrors are left alone; an existing
// draft keeps its approval.
func (p *postsProcessing) PrepareDrafts(ctx context.Context, manager repository.TransactionManager, post *model.AppPost, user *model.AppUser) ([]model.PlatformPost, error) {
	if user == nil {
		return nil, nil
	}
	now := nowMs()
	var drafts []model.PlatformPost
	postChanged := false

	for _, adapter := range p.platforms.All() {
		platform := adapter.ID()
		if platform == post.Origin || len(user.Accounts[platform]) == 0 {
			continue
		}
		account, err := p.repos.Profiles.Get(ctx, manager, platform, user.Accounts[platform][0], false)
		if err != nil {
			return nil, err
		}
		if account == nil {
			continue
		}

		id := model.DraftDocID(platform, post.ID)
		mirror, err := p.repos.PlatformPosts.Get(ctx, manager, id, false)
		if err != nil {
			return nil, err
		}
		if mirror != nil && mirror.IsPosted() {
			continue
		}

		draft, err := adapter.ConvertFromGeneric(post, account)
		if errors.Is(err, apperror.ErrUnsupported) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("draft %s for post %s: %w", platform, post.ID, err)
		}

		if mirror == nil {
			draft.PostApproval = model.PostApprovalPending
			if user.Settings.Autopublish[platform] {
				draft.PostApproval = model.PostApprovalApproved
			}
			mirror = &model.PlatformPost{
				ID:            id,
				PlatformID:    platform,
				PostID:        post.ID,
				PublishOrigin: model.PublishOriginPosted,
				CreatedAtMs:   now,
			}
		} else if mirror.Draft != nil {
			draft.PostApproval = mirror.Draft.PostApproval
			draft.CreatedAtMs = mirror.Draft.CreatedAtMs
		}
		if draft.CreatedAtMs == 0 {
			draft.CreatedAtMs = now
		}
		mirror.Draft = draft
		mirror.UpdatedAtMs = now
		if err := p.repos.PlatformPosts.Set(ctx, manager, mirror); err != nil {
			return nil, err
		}
		if !containsString(post.MirrorIDs, id) {
			post.MirrorIDs = append(post.MirrorIDs, id)
			postChanged = true
		}
		drafts = append(drafts, *mirror)
	}

	if postChanged {
		if err := p.repos.Posts.Set(ctx, manager, post); err != nil {
			return nil, err
		}
	}
	return drafts, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
