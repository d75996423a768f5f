// Package mastodon adapts the Mastodon REST API to the platform contract.
package mastodon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/clients/apiclient"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxLimit      = 40
	maxStatusSize = 500
)


// Client talks to the instance stored in the credentials ("server"), falling
// back to the configured default instance.
type Client struct {
	defaultServer string
	httpClient    *http.Client
}

func NewClient(defaultServer string, httpClient *http.Client) repository.IPlatform {
	if defaultServer == "" {
		defaultServer = "https://mastodon.social"
	}
	return &Client{defaultServer: defaultServer, httpClient: httpClient}
}

func (c *Client) ID() model.PlatformID { return model.PlatformMastodon }

type account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
}

type status struct {
	ID              string  `json:"id"`
	CreatedAt       string  `json:"created_at"`
	Content         string  `json:"content"`
	URL             string  `json:"url"`
	Account         account `json:"account"`
	RepliesCount    int     `json:"replies_count"`
	ReblogsCount    int     `json:"reblogs_count"`
	FavouritesCount int     `json:"favourites_count"`
}

type statusesParams struct {
	SinceID        string `url:"since_id,omitempty"`
	MaxID          string `url:"max_id,omitempty"`
	Limit          int    `url:"limit"`
	ExcludeReblogs bool   `url:"exclude_reblogs"`
	ExcludeReplies bool   `url:"exclude_replies"`
}

func (c *Client) api(creds *model.PlatformCredentials) *apiclient.Client {
	server := c.defaultServer
	if creds != nil && creds.Extra["server"] != "" {
		server = creds.Extra["server"]
	}
	return apiclient.New(model.PlatformMastodon, server, c.httpClient)
}

func auth(creds *model.PlatformCredentials) (map[string]string, error) {
	if creds == nil || creds.AccessToken == "" {
		return nil, apperror.Fatal(model.PlatformMastodon, fmt.Errorf("missing credentials"))
	}
	return map[string]string{"Authorization": "Bearer " + creds.AccessToken}, nil
}

func (c *Client) Fetch(ctx context.Context, params model.FetchParams, acc *model.AccountProfile, creds *model.PlatformCredentials) (*model.FetchResult, error) {
	if params.SinceID != "" && params.UntilID != "" {
		return nil, apperror.Fatal(model.PlatformMastodon, fmt.Errorf("sinceId and untilId are exclusive"))
	}
	header, err := auth(creds)
	if err != nil {
		return nil, err
	}
	limit := params.ExpectedAmount
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	var statuses []status
	_, err = c.api(creds).Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/api/v1/accounts/" + acc.UserID + "/statuses",
		Query:  statusesParams{SinceID: params.SinceID, MaxID: params.UntilID, Limit: limit, ExcludeReblogs: true, ExcludeReplies: true},
		Header: header,
	}, &statuses)
	if err != nil {
		return nil, err
	}

	out := &model.FetchResult{}
	for _, s := range statuses {
		if params.SinceID == "" && params.UntilID == "" && params.StartTimeMs > 0 && timestamp(s) < params.StartTimeMs {
			continue
		}
		posted, err := toPosted(s)
		if err != nil {
			return nil, err
		}
		out.Posts = append(out.Posts, *posted)
	}
	// statuses come newest first
	if len(out.Posts) > 0 {
		out.Fetched = model.FetchedDetails{NewestID: out.Posts[0].PostID, OldestID: out.Posts[len(out.Posts)-1].PostID}
	}
	return out, nil
}

func timestamp(s status) int64 {
	t, err := time.Parse(time.RFC3339, s.CreatedAt)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

func toPosted(s status) (*model.PlatformPostPosted, error) {
	native, err := json.Marshal(s)
	if err != nil {
		return nil, apperror.Fatal(model.PlatformMastodon, err)
	}
	return &model.PlatformPostPosted{UserID: s.Account.ID, PostID: s.ID, TimestampMs: timestamp(s), Native: string(native)}, nil
}

// IdempotencyKey is stable for a given author and payload.
func IdempotencyKey(draft *model.PlatformPostDraft) string {
	sum := sha256.Sum256([]byte(draft.AuthorUserID + "\x00" + draft.UnsignedPost))
	return hex.EncodeToString(sum[:])
}

func (c *Client) Publish(ctx context.Context, draft *model.PlatformPostDraft, creds *model.PlatformCredentials) (*model.PostedResult, error) {
	header, err := auth(creds)
	if err != nil {
		return nil, err
	}
	header["Idempotency-Key"] = IdempotencyKey(draft)
	var s status
	_, err = c.api(creds).Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/api/v1/statuses",
		Header: header,
		Body:   map[string]string{"status": draft.UnsignedPost, "visibility": "public"},
	}, &s)
	if err != nil {
		return nil, err
	}
	return toPosted(s)
}

func (c *Client) Get(ctx context.Context, platformPostID string, creds *model.PlatformCredentials) (*model.PlatformPostPosted, error) {
	header, err := auth(creds)
	if err != nil {
		return nil, err
	}
	var s status
	if _, err := c.api(creds).Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/api/v1/statuses/" + platformPostID, Header: header}, &s); err != nil {
		return nil, err
	}
	return toPosted(s)
}

// PlainText strips the HTML markup Mastodon wraps status content in.
// Paragraphs become blank-line separated and <br> a newline.
func PlainText(content string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(content))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Br:
				b.WriteByte('\n')
			case atom.P:
				if b.Len() > 0 {
					b.WriteString("\n\n")
				}
			}
		}
	}
}

func (c *Client) ConvertToGeneric(posted *model.PlatformPostPosted) (*model.GenericPost, error) {
	var s status
	if err := json.Unmarshal([]byte(posted.Native), &s); err != nil {
		return nil, apperror.Fatal(model.PlatformMastodon, fmt.Errorf("decode status: %w", err))
	}
	return &model.GenericPost{
		Content:     PlainText(s.Content),
		URL:         s.URL,
		TimestampMs: posted.TimestampMs,
		AuthorName:  s.Account.DisplayName,
	}, nil
}

func (c *Client) ConvertFromGeneric(post *model.AppPost, acc *model.AccountProfile) (*model.PlatformPostDraft, error) {
	text := post.Content
	if runes := []rune(text); len(runes) > maxStatusSize {
		text = string(runes[:maxStatusSize-1]) + "…"
	}
	return &model.PlatformPostDraft{UnsignedPost: text, PostApproval: model.PostApprovalPending, AuthorUserID: acc.UserID}, nil
}

// HandleSignup verifies data["accessToken"] against data["server"].
func (c *Client) HandleSignup(ctx context.Context, data model.SignupData) (*model.AccountDetails, error) {
	creds := &model.PlatformCredentials{
		Platform:    model.PlatformMastodon,
		AccessToken: data["accessToken"],
		Extra:       map[string]string{"server": data["server"]},
	}
	if creds.Extra["server"] == "" {
		creds.Extra["server"] = c.defaultServer
	}
	header, err := auth(creds)
	if err != nil {
		return nil, err
	}
	var me account
	if _, err := c.api(creds).Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/api/v1/accounts/verify_credentials", Header: header}, &me); err != nil {
		return nil, err
	}
	name := me.DisplayName
	if name == "" {
		name = me.Acct
	}
	return &model.AccountDetails{UserID: me.ID, DisplayName: name, Credentials: *creds}, nil
}
