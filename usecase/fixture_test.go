package usecase_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/db"
	"post-mirror/infrastructure/persistence"
	"post-mirror/infrastructure/platforms"
	"post-mirror/infrastructure/tasks"
	"post-mirror/usecase"
)

type MockPlatform struct {
	mock.Mock
	id         model.PlatformID
	drafts     bool
	mu         sync.Mutex
	publishing []string
	// rotate, when set, changes the credentials the way a token refresh does.
	rotate func(creds *model.PlatformCredentials)
}

func (m *MockPlatform) ID() model.PlatformID { return m.id }

func (m *MockPlatform) Fetch(ctx context.Context, params model.FetchParams, account *model.AccountProfile, creds *model.PlatformCredentials) (*model.FetchResult, error) {
	if m.rotate != nil {
		m.rotate(creds)
	}
	args := m.Called(params, account.UserID)
	result, _ := args.Get(0).(*model.FetchResult)
	return result, args.Error(1)
}

func (m *MockPlatform) Publish(ctx context.Context, draft *model.PlatformPostDraft, creds *model.PlatformCredentials) (*model.PostedResult, error) {
	if m.rotate != nil {
		m.rotate(creds)
	}
	m.mu.Lock()
	m.publishing = append(m.publishing, draft.UnsignedPost)
	m.mu.Unlock()
	args := m.Called(draft.UnsignedPost)
	result, _ := args.Get(0).(*model.PostedResult)
	return result, args.Error(1)
}

func (m *MockPlatform) Get(ctx context.Context, platformPostID string, creds *model.PlatformCredentials) (*model.PlatformPostPosted, error) {
	args := m.Called(platformPostID)
	result, _ := args.Get(0).(*model.PlatformPostPosted)
	return result, args.Error(1)
}

func (m *MockPlatform) ConvertToGeneric(posted *model.PlatformPostPosted) (*model.GenericPost, error) {
	return &model.GenericPost{Content: posted.Native, TimestampMs: posted.TimestampMs}, nil
}

func (m *MockPlatform) ConvertFromGeneric(post *model.AppPost, account *model.AccountProfile) (*model.PlatformPostDraft, error) {
	if !m.drafts {
		return nil, apperror.Fatal(m.id, apperror.ErrUnsupported)
	}
	return &model.PlatformPostDraft{
		UnsignedPost: string(m.id) + ":" + post.Content,
		PostApproval: model.PostApprovalPending,
		AuthorUserID: account.UserID,
	}, nil
}

func (m *MockPlatform) HandleSignup(ctx context.Context, data model.SignupData) (*model.AccountDetails, error) {
	args := m.Called(data)
	result, _ := args.Get(0).(*model.AccountDetails)
	return result, args.Error(1)
}

func (m *MockPlatform) published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.publishing...)
}

type MockParser struct {
	mock.Mock
}

func (m *MockParser) Parse(ctx context.Context, postID string, post model.GenericPost) (*model.ParsedPost, error) {
	args := m.Called(postID, post.Content)
	result, _ := args.Get(0).(*model.ParsedPost)
	return result, args.Error(1)
}

type enqueued struct {
	name    string
	payload interface{}
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []enqueued
}

func (q *recordingQueue) Enqueue(ctx context.Context, name string, payload interface{}, opts ...tasks.EnqueueOption) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, enqueued{name: name, payload: payload})
	return nil
}

func (q *recordingQueue) named(name string) []interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []interface{}
	for _, t := range q.tasks {
		if t.name == name {
			out = append(out, t.payload)
		}
	}
	return out
}

func (q *recordingQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = nil
}

type handlerTable map[string]tasks.Handler

func (h handlerTable) Register(name string, handler tasks.Handler) { h[name] = handler }

func (h handlerTable) call(t *testing.T, name string, payload interface{}) error {
	t.Helper()
	handler, ok := h[name]
	require.True(t, ok, "handler %s not registered", name)
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return handler(context.Background(), data)
}

type fixture struct {
	store       *db.MemoryStore
	repos       usecase.Repositories
	platforms   map[model.PlatformID]*MockPlatform
	parser      *MockParser
	credentials repository.ICredentials
	processing  usecase.IPostsProcessing
	manager     *usecase.PostsManager
	queue       *recordingQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := db.NewMemoryStore()
	mocks := map[model.PlatformID]*MockPlatform{}
	for _, id := range model.AllPlatforms {
		mocks[id] = &MockPlatform{id: id}
	}
	mocks[model.PlatformNanopub].drafts = true
	mocks[model.PlatformTwitter].drafts = true

	registry, err := platforms.NewRegistry(platforms.Adapters{
		Twitter:  mocks[model.PlatformTwitter],
		Mastodon: mocks[model.PlatformMastodon],
		Bluesky:  mocks[model.PlatformBluesky],
		Nanopub:  mocks[model.PlatformNanopub],
		Orcid:    mocks[model.PlatformOrcid],
	})
	require.NoError(t, err)

	repos := usecase.Repositories{
		Posts:         persistence.NewPostsRepository(),
		PlatformPosts: persistence.NewPlatformPostsRepository(),
		Triples:       persistence.NewTriplesRepository(),
		Profiles:      persistence.NewProfilesRepository(),
		Users:         persistence.NewUsersRepository(),
		TaskMeta:      persistence.NewTaskMetaRepository(),
	}
	credentials := persistence.NewCredentialsDocumentRepository(store)
	parser := &MockParser{}
	processing := usecase.NewPostsProcessing(repos, registry)
	manager := usecase.NewPostsManager(store, repos, processing, registry, credentials, parser, 10)

	return &fixture{
		store:       store,
		repos:       repos,
		platforms:   mocks,
		parser:      parser,
		credentials: credentials,
		processing:  processing,
		manager:     manager,
		queue:       &recordingQueue{},
	}
}

func (f *fixture) run(t *testing.T, fn func(ctx context.Context, m repository.TransactionManager) error) {
	t.Helper()
	require.NoError(t, f.store.Run(context.Background(), fn))
}

// seedUser stores a user, one profile per linked platform, and credentials.
func (f *fixture) seedUser(t *testing.T, userID string, accounts map[model.PlatformID]string, fetched map[model.PlatformID]string) {
	t.Helper()
	user := &model.AppUser{ID: userID, SignupDateMs: 1_700_000_000_000, Accounts: map[model.PlatformID][]string{}}
	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		for platform, platformUserID := range accounts {
			user.Accounts[platform] = []string{platformUserID}
			profile := &model.AccountProfile{Platform: platform, UserID: platformUserID, AppUserID: userID}
			if newest, ok := fetched[platform]; ok {
				profile.Fetched = &model.FetchedDetails{NewestID: newest}
			}
			if err := f.repos.Profiles.Set(ctx, m, profile); err != nil {
				return err
			}
		}
		return f.repos.Users.Set(ctx, m, user)
	})
	for platform := range accounts {
		require.NoError(t, f.credentials.UpsertCredentials(context.Background(), &model.PlatformCredentials{
			UserID:      userID,
			Platform:    platform,
			AccessToken: "token-" + string(platform),
		}))
	}
}

func (f *fixture) post(t *testing.T, id string) *model.AppPost {
	t.Helper()
	var post *model.AppPost
	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		var err error
		post, err = f.repos.Posts.Get(ctx, m, id, true)
		return err
	})
	return post
}

func (f *fixture) mirror(t *testing.T, id string) *model.PlatformPost {
	t.Helper()
	var mirror *model.PlatformPost
	f.run(t, func(ctx context.Context, m repository.TransactionManager) error {
		var err error
		mirror, err = f.repos.PlatformPosts.Get(ctx, m, id, true)
		return err
	})
	return mirror
}

func posted(userID, postID string, ts int64) model.PlatformPostPosted {
	return model.PlatformPostPosted{UserID: userID, PostID: postID, TimestampMs: ts, Native: "text of " + postID}
}
