// Package twitter adapts the Twitter v2 API to the platform contract.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/clients/apiclient"

	"golang.org/x/oauth2"
)

const (
	maxTweetLength = 280
	minResults     = 5
	maxResults     = 100
	tweetFields    = "created_at,author_id,public_metrics,conversation_id"
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type Client struct {
	api   *apiclient.Client
	oauth *oauth2.Config
	now   func() time.Time
}

func NewClient(cfg Config, httpClient *http.Client) repository.IPlatform {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.twitter.com"
	}
	return &Client{
		api: apiclient.New(model.PlatformTwitter, base, httpClient),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://twitter.com/i/oauth2/authorize",
				TokenURL: strings.TrimRight(base, "/") + "/2/oauth2/token",
			},
		},
		now: time.Now,
	}
}

func (c *Client) ID() model.PlatformID { return model.PlatformTwitter }

type tweet struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	AuthorID      string         `json:"author_id"`
	CreatedAt     string         `json:"created_at"`
	PublicMetrics map[string]int `json:"public_metrics,omitempty"`
}

type timelineParams struct {
	SinceID     string `url:"since_id,omitempty"`
	UntilID     string `url:"until_id,omitempty"`
	StartTime   string `url:"start_time,omitempty"`
	MaxResults  int    `url:"max_results"`
	TweetFields string `url:"tweet.fields"`
}

type timelineResponse struct {
	Data []tweet `json:"data"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		OldestID    string `json:"oldest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

// token resolves a bearer token, refreshing it through oauth2 when expired.
func (c *Client) token(ctx context.Context, creds *model.PlatformCredentials) (string, error) {
	if creds == nil || creds.AccessToken == "" {
		return "", apperror.Fatal(model.PlatformTwitter, fmt.Errorf("missing credentials"))
	}
	tok := &oauth2.Token{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken, TokenType: "Bearer"}
	if creds.ExpiresAt != nil {
		tok.Expiry = *creds.ExpiresAt
	}
	if tok.Valid() || tok.RefreshToken == "" {
		return tok.AccessToken, nil
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.api.HTTP)
	fresh, err := c.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		return "", apperror.Fatal(model.PlatformTwitter, fmt.Errorf("refresh token: %w", err))
	}
	creds.AccessToken = fresh.AccessToken
	creds.RefreshToken = fresh.RefreshToken
	if !fresh.Expiry.IsZero() {
		exp := fresh.Expiry
		creds.ExpiresAt = &exp
	}
	return fresh.AccessToken, nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (c *Client) timeline(ctx context.Context, userID, token string, p timelineParams) (*timelineResponse, error) {
	var out timelineResponse
	_, err := c.api.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/2/users/" + userID + "/tweets",
		Query:  p,
		Header: bearer(token),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Fetch(ctx context.Context, params model.FetchParams, account *model.AccountProfile, creds *model.PlatformCredentials) (*model.FetchResult, error) {
	if params.SinceID != "" && params.UntilID != "" {
		return nil, apperror.Fatal(model.PlatformTwitter, fmt.Errorf("sinceId and untilId are exclusive"))
	}
	token, err := c.token(ctx, creds)
	if err != nil {
		return nil, err
	}
	p := timelineParams{
		SinceID:     params.SinceID,
		UntilID:     params.UntilID,
		MaxResults:  clamp(params.ExpectedAmount, minResults, maxResults),
		TweetFields: tweetFields,
	}
	if params.SinceID == "" && params.UntilID == "" && params.StartTimeMs > 0 {
		p.StartTime = time.UnixMilli(params.StartTimeMs).UTC().Format(time.RFC3339)
	}
	res, err := c.timeline(ctx, account.UserID, token, p)
	if err != nil {
		return nil, err
	}
	out := &model.FetchResult{Fetched: model.FetchedDetails{NewestID: res.Meta.NewestID, OldestID: res.Meta.OldestID}}
	for i, t := range res.Data {
		if params.ExpectedAmount > 0 && i >= params.ExpectedAmount {
			break
		}
		posted, err := toPosted(t, account.UserID)
		if err != nil {
			return nil, err
		}
		out.Posts = append(out.Posts, *posted)
	}
	return out, nil
}

func toPosted(t tweet, fallbackUser string) (*model.PlatformPostPosted, error) {
	native, err := json.Marshal(t)
	if err != nil {
		return nil, apperror.Fatal(model.PlatformTwitter, err)
	}
	user := t.AuthorID
	if user == "" {
		user = fallbackUser
	}
	var ts int64
	if created, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
		ts = created.UnixMilli()
	}
	return &model.PlatformPostPosted{UserID: user, PostID: t.ID, TimestampMs: ts, Native: string(native)}, nil
}

// Publish looks for an identical recent tweet before posting, since the API
// has no idempotency key.
func (c *Client) Publish(ctx context.Context, draft *model.PlatformPostDraft, creds *model.PlatformCredentials) (*model.PostedResult, error) {
	token, err := c.token(ctx, creds)
	if err != nil {
		return nil, err
	}
	recent, err := c.timeline(ctx, draft.AuthorUserID, token, timelineParams{MaxResults: 10, TweetFields: tweetFields})
	if err != nil {
		return nil, err
	}
	for _, t := range recent.Data {
		if t.Text == draft.UnsignedPost {
			return toPosted(t, draft.AuthorUserID)
		}
	}

	var out struct {
		Data tweet `json:"data"`
	}
	_, err = c.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/2/tweets",
		Header: bearer(token),
		Body:   map[string]string{"text": draft.UnsignedPost},
	}, &out)
	if err != nil {
		return nil, err
	}
	out.Data.AuthorID = draft.AuthorUserID
	if out.Data.CreatedAt == "" {
		out.Data.CreatedAt = c.now().UTC().Format(time.RFC3339)
	}
	return toPosted(out.Data, draft.AuthorUserID)
}

func (c *Client) Get(ctx context.Context, platformPostID string, creds *model.PlatformCredentials) (*model.PlatformPostPosted, error) {
	token, err := c.token(ctx, creds)
	if err != nil {
		return nil, err
	}
	var out struct {
		Data tweet `json:"data"`
	}
	_, err = c.api.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/2/tweets/" + platformPostID,
		Query:  url.Values{"tweet.fields": {tweetFields}},
		Header: bearer(token),
	}, &out)
	if err != nil {
		return nil, err
	}
	return toPosted(out.Data, "")
}

func (c *Client) ConvertToGeneric(posted *model.PlatformPostPosted) (*model.GenericPost, error) {
	var t tweet
	if err := json.Unmarshal([]byte(posted.Native), &t); err != nil {
		return nil, apperror.Fatal(model.PlatformTwitter, fmt.Errorf("decode tweet: %w", err))
	}
	return &model.GenericPost{
		Content:     t.Text,
		URL:         "https://twitter.com/i/web/status/" + posted.PostID,
		TimestampMs: posted.TimestampMs,
	}, nil
}

func (c *Client) ConvertFromGeneric(post *model.AppPost, account *model.AccountProfile) (*model.PlatformPostDraft, error) {
	text := post.Content
	if utf8.RuneCountInString(text) > maxTweetLength {
		runes := []rune(text)
		text = string(runes[:maxTweetLength-1]) + "…"
	}
	return &model.PlatformPostDraft{
		UnsignedPost: text,
		PostApproval: model.PostApprovalPending,
		AuthorUserID: account.UserID,
	}, nil
}

// HandleSignup completes the OAuth2 PKCE flow with data["code"] and data["code_verifier"].
func (c *Client) HandleSignup(ctx context.Context, data model.SignupData) (*model.AccountDetails, error) {
	code := data["code"]
	if code == "" {
		return nil, apperror.Fatal(model.PlatformTwitter, fmt.Errorf("missing authorization code"))
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.api.HTTP)
	var opts []oauth2.AuthCodeOption
	if v := data["code_verifier"]; v != "" {
		opts = append(opts, oauth2.VerifierOption(v))
	}
	tok, err := c.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, apperror.Fatal(model.PlatformTwitter, fmt.Errorf("exchange code: %w", err))
	}
	var me struct {
		Data struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if _, err := c.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: "/2/users/me", Header: bearer(tok.AccessToken)}, &me); err != nil {
		return nil, err
	}
	creds := model.PlatformCredentials{
		Platform:     model.PlatformTwitter,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Extra:        map[string]string{"username": me.Data.Username},
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		creds.ExpiresAt = &exp
	}
	return &model.AccountDetails{UserID: me.Data.ID, DisplayName: me.Data.Username, Credentials: creds}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
