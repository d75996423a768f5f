// Package parser calls the external semantic parser service.
package parser

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"
	"post-mirror/domain/repository"
	"post-mirror/infrastructure/clients/apiclient"
)

type Client struct {
	api     *apiclient.Client
	timeout time.Duration
}

func NewClient(url string, timeout time.Duration, httpClient *http.Client) repository.IParser {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{api: apiclient.New("parser", url, httpClient), timeout: timeout}
}

type parseRequest struct {
	PostID  string            `json:"postId"`
	Post    model.GenericPost `json:"post"`
	Options map[string]bool   `json:"options,omitempty"`
}

type parseResponse struct {
	Semantics string            `json:"semantics"`
	Support   map[string]string `json:"support,omitempty"`
}

// Parse returns *apperror.ParseError for every failure.
func (c *Client) Parse(ctx context.Context, postID string, post model.GenericPost) (*model.ParsedPost, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out parseResponse
	_, err := c.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   "/parse",
		Body:   parseRequest{PostID: postID, Post: post},
	}, &out)
	if err != nil {
		return nil, &apperror.ParseError{PostID: postID, Err: err}
	}
	if out.Semantics == "" {
		return nil, &apperror.ParseError{PostID: postID, Err: fmt.Errorf("empty semantics")}
	}
	return &model.ParsedPost{Semantics: out.Semantics, Support: out.Support}, nil
}
