// Package orcid links ORCID identities. ORCID is identity only: it has no
// timeline to fetch and nothing to publish.
package orcid

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"

	"golang.org/x/oauth2"
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type Client struct {
	oauth      *oauth2.Config
	httpClient *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) repository.IPlatform {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://orcid.org"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"/authenticate"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth/authorize",
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

func (c *Client) ID() model.PlatformID { return model.PlatformOrcid }

func unsupported(op string) error {
	return apperror.Fatal(model.PlatformOrcid, fmt.Errorf("%s: %w", op, apperror.ErrUnsupported))
}

func (c *Client) Fetch(ctx context.Context, params model.FetchParams, account *model.AccountProfile, creds *model.PlatformCredentials) (*model.FetchResult, error) {
	return nil, unsupported("fetch")
}

func (c *Client) Publish(ctx context.Context, draft *model.PlatformPostDraft, creds *model.PlatformCredentials) (*model.PostedResult, error) {
	return nil, unsupported("publish")
}

func (c *Client) Get(ctx context.Context, platformPostID string, creds *model.PlatformCredentials) (*model.PlatformPostPosted, error) {
	return nil, unsupported("get")
}

func (c *Client) ConvertToGeneric(posted *model.PlatformPostPosted) (*model.GenericPost, error) {
	return nil, unsupported("convert")
}

func (c *Client) ConvertFromGeneric(post *model.AppPost, account *model.AccountProfile) (*model.PlatformPostDraft, error) {
	return nil, unsupported("convert")
}

// HandleSignup exchanges data["code"]; ORCID returns the iD and name with the token.
func (c *Client) HandleSignup(ctx context.Context, data model.SignupData) (*model.AccountDetails, error) {
	code := data["code"]
	if code == "" {
		return nil, apperror.Fatal(model.PlatformOrcid, fmt.Errorf("missing authorization code"))
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, apperror.Fatal(model.PlatformOrcid, fmt.Errorf("exchange code: %w", err))
	}
	orcid, _ := tok.Extra("orcid").(string)
	if orcid == "" {
		return nil, apperror.Fatal(model.PlatformOrcid, fmt.Errorf("token response without orcid"))
	}
	name, _ := tok.Extra("name").(string)
	return &model.AccountDetails{
		UserID:      orcid,
		DisplayName: name,
		Credentials: model.PlatformCredentials{
			Platform:     model.PlatformOrcid,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
		},
	}, nil
}
