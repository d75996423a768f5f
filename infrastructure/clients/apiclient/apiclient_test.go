package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(model.PlatformTwitter, 201, nil))
	assert.True(t, apperror.IsTransient(Classify(model.PlatformTwitter, 429, nil)))
	assert.True(t, apperror.IsTransient(Classify(model.PlatformTwitter, 503, nil)))
	assert.True(t, apperror.IsFatal(Classify(model.PlatformTwitter, 401, nil)))
	assert.True(t, apperror.IsFatal(Classify(model.PlatformTwitter, 422, []byte("bad"))))
}

func TestClient_DoEncodesQueryStruct(t *testing.T) {
	type params struct {
		SinceID string `url:"since_id,omitempty"`
		Limit   int    `url:"limit"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("since_id"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(model.PlatformMastodon, srv.URL+"/", srv.Client())
	var out struct {
		OK bool `json:"ok"`
	}
	_, err := c.Do(context.Background(), Request{
		Method: http.MethodGet, Path: "/items",
		Query:  params{SinceID: "7", Limit: 20},
		Header: map[string]string{"X-Test": "yes"},
	}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestClient_StatusToleratesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(model.PlatformNanopub, srv.URL, srv.Client())
	status, err := c.Status(context.Background(), Request{Method: http.MethodHead, Path: "/RAabc"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestClient_TransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(model.PlatformBluesky, url, nil)
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"}, nil)
	assert.True(t, apperror.IsTransient(err))
}
