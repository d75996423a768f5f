package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/usecase"
)

func TestCreateMirrorPosts_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	account := &model.AccountProfile{Platform: model.PlatformMastodon, UserID: "m1", AppUserID: "u1"}
	batch := []model.PlatformPostPosted{posted("m1", "1", 1000), posted("m1", "2", 2000), posted("m1", "3", 3000)}

	var first, second *usecase.CreatedMirrors
	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		var err error
		first, err = f.processing.CreateMirrorPosts(ctx, m, account, batch)
		return err
	})
	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		var err error
		second, err = f.processing.CreateMirrorPosts(ctx, m, account, batch)
		return err
	})

	assert.Len(t, first.NewPostIDs, 3)
	assert.Empty(t, second.NewPostIDs)
	assert.Len(t, second.Mirrors, 3)
	assert.Equal(t, 3, f.store.Count(repository.CollectionPosts))
	assert.Equal(t, 3, f.store.Count(repository.CollectionPlatformPosts))

	mirror := f.mirror(t, model.PlatformPostDocID(model.PlatformMastodon, "2"))
	assert.Equal(t, model.PublishOriginFetched, mirror.PublishOrigin)
	require.NotNil(t, mirror.Posted)
	post := f.post(t, mirror.PostID)
	assert.Equal(t, "u1", post.AuthorUserID)
	assert.Equal(t, "text of 2", post.Content)
	assert.Equal(t, model.ParsingUnprocessed, post.ParsingStatus)
	assert.Equal(t, []string{mirror.ID}, post.MirrorIDs)
}

func TestCreateMirrorPosts_MergesIntoExistingMirror(t *testing.T) {
	f := newFixture(t)
	account := &model.AccountProfile{Platform: model.PlatformMastodon, UserID: "m1", AppUserID: "u1"}
	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		_, err := f.processing.CreateMirrorPosts(ctx, m, account, []model.PlatformPostPosted{posted("m1", "7", 1000)})
		return err
	})

	updated := posted("m1", "7", 1000)
	updated.Native = "edited on the platform"
	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		_, err := f.processing.CreateMirrorPosts(ctx, m, account, []model.PlatformPostPosted{updated})
		return err
	})

	mirror := f.mirror(t, model.PlatformPostDocID(model.PlatformMastodon, "7"))
	assert.Equal(t, "edited on the platform", mirror.Posted.Native)
	assert.Equal(t, 1, f.store.Count(repository.CollectionPosts))
}

func TestProcessSemantics_ReplacesTriples(t *testing.T) {
	f := newFixture(t)
	post := &model.AppPost{ID: "p1", AuthorUserID: "u1"}
	first := "<https://x.org/a> <https://schema.org/mentions> <https://x.org/b> .\n" +
		"<https://x.org/a> <https://schema.org/mentions> <https://x.org/c> .\n"
	second := "<https://x.org/a> <http://purl.org/spar/cito/discusses> <https://x.org/d> .\n"

	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		return f.processing.ProcessSemantics(ctx, m, post, first)
	})
	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		return f.processing.ProcessSemantics(ctx, m, post, second)
	})

	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		triples, err := f.repos.Triples.GetOfPost(ctx, m, "p1")
		require.NoError(t, err)
		require.Len(t, triples, 1)
		assert.Equal(t, "<http://purl.org/spar/cito/discusses>", triples[0].Predicate)
		assert.Equal(t, "u1", triples[0].AuthorID)
		return nil
	})
}

func TestProcessSemantics_InvalidInputKeepsOldTriples(t *testing.T) {
	f := newFixture(t)
	post := &model.AppPost{ID: "p1", AuthorUserID: "u1"}
	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		return f.processing.ProcessSemantics(ctx, m, post, "<https://x.org/a> <https://schema.org/about> <https://x.org/b> .")
	})

	err := f.store.Run(context.Background(), func(ctx context.Context, m repository.TransactionManager) error {
		return f.processing.ProcessSemantics(ctx, m, post, "<https://x.org/a> \"literal\" <https://x.org/b> .")
	})
	require.Error(t, err)
	assert.Equal(t, 1, f.store.Count(repository.CollectionTriples))
}

func TestGetPostFull(t *testing.T) {
	f := newFixture(t)
	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		post := &model.AppPost{ID: "p1", AuthorUserID: "u1", MirrorIDs: []string{"twitter-1", "missing"}}
		if err := f.repos.Posts.Create(ctx, m, post); err != nil {
			return err
		}
		if err := f.repos.PlatformPosts.Create(ctx, m, &model.PlatformPost{ID: "twitter-1", PlatformID: model.PlatformTwitter, PostID: "p1"}); err != nil {
			return err
		}
		return f.processing.ProcessSemantics(ctx, m, post,
			"<https://x.org/a> <https://schema.org/mentions> <https://x.org/b> .\n"+
				"<https://x.org/a> <https://schema.org/mentions> <https://x.org/c> .\n"+
				"<https://x.org/a> <https://schema.org/about> <https://x.org/d> .\n")
	})

	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		full, err := f.processing.GetPostFull(ctx, m, "p1", usecase.GetPostFullOptions{AddMirrors: true, AddAggregatedLabels: true}, true)
		require.NoError(t, err)
		require.Len(t, full.Mirrors, 1)
		assert.NotNil(t, full.Mirror(model.PlatformTwitter))
		assert.Equal(t, []model.AggregatedLabel{{Label: "mentions", Count: 2}, {Label: "about", Count: 1}}, full.Labels)

		bare, err := f.processing.GetPostFull(ctx, m, "p1", usecase.GetPostFullOptions{}, true)
		require.NoError(t, err)
		assert.Empty(t, bare.Mirrors)
		assert.Empty(t, bare.Labels)

		missing, err := f.processing.GetPostFull(ctx, m, "nope", usecase.GetPostFullOptions{}, false)
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	})
}

func TestPrepareDrafts_OnePerLinkedPublishingPlatform(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", map[model.PlatformID]string{
		model.PlatformMastodon: "m1",
		model.PlatformNanopub:  "np1",
		model.PlatformOrcid:    "0000-0001",
	}, nil)

	post := &model.AppPost{ID: "p1", AuthorUserID: "u1", Origin: model.PlatformMastodon, Content: "hi"}
	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		if err := f.repos.Posts.Create(ctx, m, post); err != nil {
			return err
		}
		user, err := f.repos.Users.Get(ctx, m, "u1", true)
		if err != nil {
			return err
		}
		user.Settings.Autopublish = map[model.PlatformID]bool{model.PlatformNanopub: true}
		drafts, err := f.processing.PrepareDrafts(ctx, m, post, user)
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, model.PlatformNanopub, drafts[0].PlatformID)
		assert.Equal(t, model.PostApprovalApproved, drafts[0].Draft.PostApproval)
		return nil
	})

	stored := f.post(t, "p1")
	assert.Equal(t, []string{model.DraftDocID(model.PlatformNanopub, "p1")}, stored.MirrorIDs)
	draft := f.mirror(t, model.DraftDocID(model.PlatformNanopub, "p1"))
	assert.Equal(t, model.PublishOriginPosted, draft.PublishOrigin)
	assert.Equal(t, "nanopub:hi", draft.Draft.UnsignedPost)
	assert.Equal(t, "np1", draft.Draft.AuthorUserID)
}

func TestPrepareDrafts_RefreshKeepsDraftCreationTime(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1", map[model.PlatformID]string{
		model.PlatformMastodon: "m1",
		model.PlatformNanopub:  "np1",
	}, nil)
	post := &model.AppPost{ID: "p1", AuthorUserID: "u1", Origin: model.PlatformMastodon, Content: "first"}
	prepare := func() {
		f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
			user, err := f.repos.Users.Get(ctx, m, "u1", true)
			if err != nil {
				return err
			}
			_, err = f.processing.PrepareDrafts(ctx, m, post, user)
			return err
		})
	}
	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		return f.repos.Posts.Create(ctx, m, post)
	})

	prepare()
	first := f.mirror(t, model.DraftDocID(model.PlatformNanopub, "p1")).Draft
	require.NotZero(t, first.CreatedAtMs)

	post.Content = "edited"
	prepare()
	refreshed := f.mirror(t, model.DraftDocID(model.PlatformNanopub, "p1")).Draft
	assert.Equal(t, "nanopub:edited", refreshed.UnsignedPost)
	assert.Equal(t, first.CreatedAtMs, refreshed.CreatedAtMs)
}
