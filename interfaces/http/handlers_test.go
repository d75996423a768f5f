package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/infrastructure/tasks"
	"post-mirror/usecase"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPostsManager struct {
	mock.Mock
}

func (m *MockPostsManager) FetchForUser(ctx context.Context, userID string, opts usecase.FetchOptions) (*usecase.FetchSummary, error) {
	args := m.Called(userID, opts)
	summary, _ := args.Get(0).(*usecase.FetchSummary)
	return summary, args.Error(1)
}

func (m *MockPostsManager) ParsePost(ctx context.Context, postID string) (*model.AppPost, error) {
	args := m.Called(postID)
	post, _ := args.Get(0).(*model.AppPost)
	return post, args.Error(1)
}

func (m *MockPostsManager) ApprovePost(ctx context.Context, payload model.PostUpdatePayload, actingUserID string) (*model.AppPostFull, error) {
	args := m.Called(payload, actingUserID)
	post, _ := args.Get(0).(*model.AppPostFull)
	return post, args.Error(1)
}

func (m *MockPostsManager) GetPostFull(ctx context.Context, postID string, opts usecase.GetPostFullOptions) (*model.AppPostFull, error) {
	args := m.Called(postID, opts)
	post, _ := args.Get(0).(*model.AppPostFull)
	return post, args.Error(1)
}

func (m *MockPostsManager) SyncPostMetrics(ctx context.Context, mirrorID string) error {
	return m.Called(mirrorID).Error(0)
}

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, task tasks.Task) error {
	return m.Called(task.Name, string(task.Data), task.Attempt).Error(0)
}

func (m *MockExecutor) Options(name string) tasks.Options {
	return tasks.DefaultOptions()[name]
}

// withUser stands in for the auth middleware.
func withUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	}
}

func postRouter(manager usecase.IPostsManager, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewPostHandler(manager)
	api := r.Group("/api", withUser(userID))
	api.GET("/posts/:postId", h.GetPost)
	api.POST("/posts/:postId/approve", h.ApprovePost)
	api.POST("/posts/:postId/parse", h.ParsePost)
	api.POST("/posts/fetch", h.FetchPosts)
	return r
}

func serve(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&apperror.AuthorizationError{UserID: "u", Resource: "post p"}, http.StatusForbidden},
		{apperror.NotFound("post", "p"), http.StatusNotFound},
		{fmt.Errorf("execute x: %w", tasks.ErrUnknownTask), http.StatusNotFound},
		{fmt.Errorf("post p: %w", usecase.ErrInvalidTransition), http.StatusConflict},
		{apperror.Transient(model.PlatformTwitter, errors.New("429")), http.StatusServiceUnavailable},
		{apperror.Fatal(model.PlatformOrcid, apperror.ErrUnsupported), http.StatusBadRequest},
		{apperror.Fatal(model.PlatformTwitter, errors.New("401")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestGetPost(t *testing.T) {
	manager := &MockPostsManager{}
	full := &model.AppPostFull{AppPost: model.AppPost{ID: "p1", AuthorUserID: "u1"}}
	manager.On("GetPostFull", "p1", usecase.GetPostFullOptions{AddMirrors: true, AddAggregatedLabels: true}).Return(full, nil)
	manager.On("GetPostFull", "missing", mock.Anything).Return(nil, apperror.NotFound("post", "missing"))

	w := serve(postRouter(manager, "u1"), http.MethodGet, "/api/posts/p1?labels=true", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.AppPostFull
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "p1", got.ID)

	assert.Equal(t, http.StatusForbidden, serve(postRouter(manager, "u2"), http.MethodGet, "/api/posts/p1?labels=true", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(postRouter(manager, "u1"), http.MethodGet, "/api/posts/missing", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(postRouter(manager, ""), http.MethodGet, "/api/posts/p1", "", nil).Code)
}

func TestApprovePost(t *testing.T) {
	manager := &MockPostsManager{}
	approved := model.ReviewedApproved
	payload := model.PostUpdatePayload{
		PostID:    "p1",
		Update:    model.PostUpdate{ReviewedStatus: &approved},
		Platforms: []model.PlatformID{model.PlatformTwitter},
	}
	full := &model.AppPostFull{AppPost: model.AppPost{ID: "p1", AuthorUserID: "u1"}}
	manager.On("ApprovePost", payload, "u1").Return(full, errors.New("twitter: fatal twitter error: 401")).Once()

	body := `{"update":{"reviewedStatus":"` + string(approved) + `"},"platforms":["twitter"]}`
	w := serve(postRouter(manager, "u1"), http.MethodPost, "/api/posts/p1/approve", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "publishErrors")

	manager.On("ApprovePost", mock.Anything, "u2").Return(nil, &apperror.AuthorizationError{UserID: "u2", Resource: "post p1"}).Once()
	w = serve(postRouter(manager, "u2"), http.MethodPost, "/api/posts/p1/approve", `{"update":{}}`, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(postRouter(manager, "u1"), http.MethodPost, "/api/posts/p1/approve", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFetchPosts(t *testing.T) {
	manager := &MockPostsManager{}
	opts := usecase.FetchOptions{Platforms: []model.PlatformID{model.PlatformMastodon}}
	manager.On("FetchForUser", "u1", opts).Return(&usecase.FetchSummary{NewPostIDs: []string{"p9"}}, nil).Once()

	w := serve(postRouter(manager, "u1"), http.MethodPost, "/api/posts/fetch", `{"platforms":["mastodon"]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "p9")
	manager.AssertExpectations(t)
}

func taskRouter(executor tasks.Executor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/tasks/:name", NewTaskHandler(executor, "s3cret").Push)
	return r
}

func TestTaskPush(t *testing.T) {
	executor := &MockExecutor{}
	executor.On("Execute", "parsePost", `{"postId":"p1"}`, 2).Return(nil).Once()
	executor.On("Execute", "nope", `{}`, 1).Return(fmt.Errorf("execute nope: %w", tasks.ErrUnknownTask)).Once()
	executor.On("Execute", "parsePost", `{"postId":"p2"}`, 1).Return(errors.New("store down")).Once()
	r := taskRouter(executor)
	secret := map[string]string{TaskSecretHeader: "s3cret"}

	w := serve(r, http.MethodPost, "/tasks/parsePost", `{"postId":"p1"}`, map[string]string{TaskSecretHeader: "s3cret", TaskAttemptHeader: "2"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/tasks/nope", `{}`, secret).Code)
	assert.Equal(t, http.StatusInternalServerError, serve(r, http.MethodPost, "/tasks/parsePost", `{"postId":"p2"}`, secret).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/tasks/parsePost", `not json`, secret).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/tasks/parsePost", `{}`, map[string]string{TaskSecretHeader: "wrong"}).Code)
	executor.AssertExpectations(t)
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", NewHealthHandler(map[string]Pinger{
		"store": func() error { return nil },
		"redis": func() error { return errors.New("connection refused") },
	}).Healthz)

	w := serve(r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
