// Package bluesky adapts the AT Protocol XRPC API to the platform contract.
package bluesky

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/clients/apiclient"
)

const (
	postCollection   = "app.bsky.feed.post"
	maxLimit         = 100
	maxPostGraphemes = 300
	tidAlphabet      = "234567abcdefghijklmnopqrstuvwxyz"
)

type Client struct {
	api *apiclient.Client
	now func() time.Time
}

func NewClient(baseURL string, httpClient *http.Client) repository.IPlatform {
	if baseURL == "" {
		baseURL = "https://bsky.social"
	}
	return &Client{api: apiclient.New(model.PlatformBluesky, baseURL, httpClient), now: time.Now}
}

func (c *Client) ID() model.PlatformID { return model.PlatformBluesky }

type session struct {
	AccessJwt string `json:"accessJwt"`
	Did       string `json:"did"`
	Handle    string `json:"handle"`
}

type record struct {
	Type      string `json:"$type"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

type feedPost struct {
	URI    string `json:"uri"`
	Cid    string `json:"cid"`
	Author struct {
		Did         string `json:"did"`
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
	} `json:"author"`
	Record      record `json:"record"`
	LikeCount   int    `json:"likeCount"`
	RepostCount int    `json:"repostCount"`
	ReplyCount  int    `json:"replyCount"`
}

// createSession logs in with the handle and app password kept in the credentials.
func (c *Client) createSession(ctx context.Context, identifier, password string) (*session, error) {
	if identifier == "" || password == "" {
		return nil, apperror.Fatal(model.PlatformBluesky, fmt.Errorf("missing credentials"))
	}
	var s session
	_, err := c.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/xrpc/com.atproto.server.createSession",
		Body:   map[string]string{"identifier": identifier, "password": password},
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) sessionFor(ctx context.Context, creds *model.PlatformCredentials) (*session, error) {
	if creds == nil {
		return nil, apperror.Fatal(model.PlatformBluesky, fmt.Errorf("missing credentials"))
	}
	return c.createSession(ctx, creds.Extra["handle"], creds.AccessToken)
}

func bearer(s *session) map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.AccessJwt}
}

// RecordKey returns the rkey part of an at:// uri.
func RecordKey(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// Fetch reads one page of the author feed. Record keys are TIDs, which sort by
// creation time, so the cursors are compared as strings.
func (c *Client) Fetch(ctx context.Context, params model.FetchParams, account *model.AccountProfile, creds *model.PlatformCredentials) (*model.FetchResult, error) {
	if params.SinceID != "" && params.UntilID != "" {
		return nil, apperror.Fatal(model.PlatformBluesky, fmt.Errorf("sinceId and untilId are exclusive"))
	}
	s, err := c.sessionFor(ctx, creds)
	if err != nil {
		return nil, err
	}
	limit := params.ExpectedAmount
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	var feed struct {
		Feed []struct {
			Post feedPost `json:"post"`
		} `json:"feed"`
	}
	_, err = c.api.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/xrpc/app.bsky.feed.getAuthorFeed",
		Query:  url.Values{"actor": {account.UserID}, "limit": {fmt.Sprint(limit)}, "filter": {"posts_no_replies"}},
		Header: bearer(s),
	}, &feed)
	if err != nil {
		return nil, err
	}

	out := &model.FetchResult{}
	for _, item := range feed.Feed {
		p := item.Post
		if p.Author.Did != account.UserID {
			continue
		}
		rkey := RecordKey(p.URI)
		if params.SinceID != "" && rkey <= params.SinceID {
			continue
		}
		if params.UntilID != "" && rkey >= params.UntilID {
			continue
		}
		posted, err := toPosted(p)
		if err != nil {
			return nil, err
		}
		if params.SinceID == "" && params.UntilID == "" && params.StartTimeMs > 0 && posted.TimestampMs < params.StartTimeMs {
			continue
		}
		out.Posts = append(out.Posts, *posted)
	}
	for i, p := range out.Posts {
		if i == 0 || p.PostID > out.Fetched.NewestID {
			out.Fetched.NewestID = p.PostID
		}
		if i == 0 || p.PostID < out.Fetched.OldestID {
			out.Fetched.OldestID = p.PostID
		}
	}
	return out, nil
}

func toPosted(p feedPost) (*model.PlatformPostPosted, error) {
	native, err := json.Marshal(p)
	if err != nil {
		return nil, apperror.Fatal(model.PlatformBluesky, err)
	}
	var ts int64
	if t, err := time.Parse(time.RFC3339, p.Record.CreatedAt); err == nil {
		ts = t.UnixMilli()
	}
	return &model.PlatformPostPosted{UserID: p.Author.Did, PostID: RecordKey(p.URI), TimestampMs: ts, Native: string(native)}, nil
}

// TID encodes a time and a 10 bit clock id as a record key. TIDs of later
// times sort after earlier ones.
func TID(at time.Time, clockID uint64) string {
	v := (uint64(at.UnixMicro())&(1<<53-1))<<10 | clockID&1023
	var b [13]byte
	for i := 12; i >= 0; i-- {
		b[i] = tidAlphabet[v&31]
		v >>= 5
	}
	return string(b[:])
}

// DraftRecordKey is the TID of the draft creation time with a clock id taken
// from the draft content, so putRecord with the same draft overwrites the same
// record instead of creating another.
func DraftRecordKey(draft *model.PlatformPostDraft) string {
	sum := sha256.Sum256([]byte(draft.AuthorUserID + "\x00" + draft.UnsignedPost))
	return TID(time.UnixMilli(draft.CreatedAtMs), uint64(binary.BigEndian.Uint16(sum[:2])))
}

func (c *Client) Publish(ctx context.Context, draft *model.PlatformPostDraft, creds *model.PlatformCredentials) (*model.PostedResult, error) {
	s, err := c.sessionFor(ctx, creds)
	if err != nil {
		return nil, err
	}
	if draft.CreatedAtMs == 0 {
		draft.CreatedAtMs = c.now().UnixMilli()
	}
	rkey := DraftRecordKey(draft)
	rec := record{Type: postCollection, Text: draft.UnsignedPost, CreatedAt: c.now().UTC().Format(time.RFC3339)}
	var out struct {
		URI string `json:"uri"`
		Cid string `json:"cid"`
	}
	_, err = c.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/xrpc/com.atproto.repo.putRecord",
		Header: bearer(s),
		Body: map[string]interface{}{
			"repo":       s.Did,
			"collection": postCollection,
			"rkey":       rkey,
			"record":     rec,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	p := feedPost{URI: out.URI, Cid: out.Cid, Record: rec}
	p.Author.Did = s.Did
	p.Author.Handle = s.Handle
	return toPosted(p)
}

func (c *Client) Get(ctx context.Context, platformPostID string, creds *model.PlatformCredentials) (*model.PlatformPostPosted, error) {
	s, err := c.sessionFor(ctx, creds)
	if err != nil {
		return nil, err
	}
	uri := fmt.Sprintf("at://%s/%s/%s", s.Did, postCollection, platformPostID)
	var out struct {
		Posts []feedPost `json:"posts"`
	}
	_, err = c.api.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/xrpc/app.bsky.feed.getPosts",
		Query:  url.Values{"uris": {uri}},
		Header: bearer(s),
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Posts) == 0 {
		return nil, apperror.Fatal(model.PlatformBluesky, apperror.NotFound("bluesky post", platformPostID))
	}
	return toPosted(out.Posts[0])
}

func (c *Client) ConvertToGeneric(posted *model.PlatformPostPosted) (*model.GenericPost, error) {
	var p feedPost
	if err := json.Unmarshal([]byte(posted.Native), &p); err != nil {
		return nil, apperror.Fatal(model.PlatformBluesky, fmt.Errorf("decode post: %w", err))
	}
	return &model.GenericPost{
		Content:     p.Record.Text,
		URL:         fmt.Sprintf("https://bsky.app/profile/%s/post/%s", p.Author.Did, posted.PostID),
		TimestampMs: posted.TimestampMs,
		AuthorName:  p.Author.DisplayName,
	}, nil
}

func (c *Client) ConvertFromGeneric(post *model.AppPost, account *model.AccountProfile) (*model.PlatformPostDraft, error) {
	text := post.Content
	if runes := []rune(text); len(runes) > maxPostGraphemes {
		text = string(runes[:maxPostGraphemes-1]) + "…"
	}
	return &model.PlatformPostDraft{UnsignedPost: text, PostApproval: model.PostApprovalPending, AuthorUserID: account.UserID}, nil
}

// HandleSignup validates data["handle"] and data["appPassword"] by opening a session.
func (c *Client) HandleSignup(ctx context.Context, data model.SignupData) (*model.AccountDetails, error) {
	s, err := c.createSession(ctx, data["handle"], data["appPassword"])
	if err != nil {
		return nil, err
	}
	return &model.AccountDetails{
		UserID:      s.Did,
		DisplayName: s.Handle,
		Credentials: model.PlatformCredentials{
			Platform:    model.PlatformBluesky,
			AccessToken: data["appPassword"],
			Extra:       map[string]string{"handle": s.Handle},
		},
	}, nil
}
