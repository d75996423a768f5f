// Package apiclient is the small JSON-over-HTTP layer shared by the platform
// adapters. It turns transport failures and HTTP statuses into the transient
// or fatal platform errors callers branch on.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"post-mirror/domain/apperror"
	"post-mirror/domain/model"

	"github.com/google/go-querystring/query"
)

const maxErrorBody = 512

type Client struct {
	HTTP     *http.Client
	BaseURL  string
	Platform model.PlatformID
}

func New(platform model.PlatformID, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{HTTP: httpClient, BaseURL: strings.TrimRight(baseURL, "/"), Platform: platform}
}

// Request describes one call. Query may be url.Values or a struct with `url` tags.
type Request struct {
	Method  string
	Path    string
	Query   interface{}
	Header  map[string]string
	Body    interface{}
	RawBody []byte
	// ContentType overrides the JSON content type of RawBody.
	ContentType string
}

// Response carries the status and body of a successful call.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Do sends the request and classifies every non-2xx status.
func (c *Client) Do(ctx context.Context, r Request, out interface{}) (*Response, error) {
	resp, err := c.send(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := Classify(c.Platform, resp.Status, resp.Body); err != nil {
		return resp, err
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, apperror.Fatal(c.Platform, fmt.Errorf("decode %s %s: %w", r.Method, r.Path, err))
		}
	}
	return resp, nil
}

// Status sends the request and returns the status without classifying 404.
func (c *Client) Status(ctx context.Context, r Request) (int, error) {
	resp, err := c.send(ctx, r)
	if err != nil {
		return 0, err
	}
	if resp.Status == http.StatusNotFound {
		return resp.Status, nil
	}
	return resp.Status, Classify(c.Platform, resp.Status, resp.Body)
}

func (c *Client) send(ctx context.Context, r Request) (*Response, error) {
	u, err := c.url(r.Path, r.Query)
	if err != nil {
		return nil, apperror.Fatal(c.Platform, err)
	}
	var body io.Reader
	contentType := ""
	switch {
	case r.RawBody != nil:
		body = bytes.NewReader(r.RawBody)
		contentType = r.ContentType
	case r.Body != nil:
		b, err := json.Marshal(r.Body)
		if err != nil {
			return nil, apperror.Fatal(c.Platform, fmt.Errorf("encode body: %w", err))
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u, body)
	if err != nil {
		return nil, apperror.Fatal(c.Platform, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.Header {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, classifyTransport(c.Platform, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Transient(c.Platform, fmt.Errorf("read body: %w", err))
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: b}, nil
}

func (c *Client) url(path string, q interface{}) (string, error) {
	u := c.BaseURL + path
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		u = path
	}
	var values url.Values
	switch v := q.(type) {
	case nil:
	case url.Values:
		values = v
	default:
		encoded, err := query.Values(v)
		if err != nil {
			return "", fmt.Errorf("encode query: %w", err)
		}
		values = encoded
	}
	if len(values) > 0 {
		u += "?" + values.Encode()
	}
	return u, nil
}

// Classify maps an HTTP status to nil, a transient or a fatal platform error.
func Classify(platform model.PlatformID, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	err := fmt.Errorf("http %d: %s", status, strings.TrimSpace(string(body)))
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		return apperror.Transient(platform, err)
	}
	return apperror.Fatal(platform, err)
}

// classifyTransport treats every failure to get a response as retryable.
func classifyTransport(platform model.PlatformID, err error) error {
	return apperror.Transient(platform, err)
}
