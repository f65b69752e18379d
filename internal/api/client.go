// Package api implements the authenticated HTTP client every backend call
// funnels through. It attaches the bearer token, classifies failures into a
// fixed error taxonomy, and tears the session down on 401 so no call site
// has to repeat that check.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TokenSource supplies the current bearer token. An empty string means the
// request goes out unauthenticated.
type TokenSource interface {
	Token() (string, error)
}

// Client executes requests against the backend.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         TokenSource
	onUnauthorized func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. Tests use this to
// inject transports; the default carries no timeout, matching the web
// client's fetch behavior.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client for the given base URL.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnUnauthorized registers the forced-logout hook. It runs at most once per
// 401 response, before the Unauthorized error is returned to the caller.
func (c *Client) OnUnauthorized(fn func()) {
	c.onUnauthorized = fn
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET request and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST request with an optional JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPatch, path, body, out)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: "network error: " + err.Error(), cause: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		// Token expired or invalid. Tear the session down here so every
		// call site gets consistent forced-logout behavior.
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return newError(KindUnauthorized, resp.StatusCode, "unauthorized: please log in again")
	case http.StatusForbidden:
		return newError(KindForbidden, resp.StatusCode, "forbidden: access denied")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Status: resp.StatusCode, Message: "network error: " + err.Error(), cause: err}
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	if !isJSON(resp) {
		if ok {
			// Some endpoints (delete, logout) answer with an empty or
			// non-JSON body. That is still a success.
			return nil
		}
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			return newError(KindHTTP, resp.StatusCode, msg)
		}
		return newError(KindHTTP, resp.StatusCode, fmtStatus(resp.StatusCode))
	}

	if !ok {
		return classify(resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isJSON(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "application/json")
}

// validationItem is one entry of a field-validation error collection.
type validationItem struct {
	Msg    string `json:"msg"`
	Detail string `json:"detail"`
}

// errorBody is the structured single-message error shape. Detail stays raw
// because the backend nests validation collections under it on 422.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// classify maps a non-2xx JSON body to exactly one error kind.
func classify(status int, raw []byte) *Error {
	trimmed := bytes.TrimSpace(raw)

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []validationItem
		if err := json.Unmarshal(trimmed, &items); err == nil {
			return newError(KindValidation, status, "validation error: "+joinValidation(items))
		}
	}

	var body errorBody
	if err := json.Unmarshal(trimmed, &body); err == nil {
		if len(body.Detail) > 0 {
			var detail string
			if json.Unmarshal(body.Detail, &detail) == nil {
				return newError(KindBackend, status, "backend error: "+detail)
			}
			var items []validationItem
			if json.Unmarshal(body.Detail, &items) == nil {
				return newError(KindValidation, status, "validation error: "+joinValidation(items))
			}
		}
		if body.Message != "" {
			return newError(KindBackend, status, "backend error: "+body.Message)
		}
	}

	return newError(KindHTTP, status, fmtStatus(status))
}

func joinValidation(items []validationItem) string {
	msgs := make([]string, 0, len(items))
	for _, item := range items {
		switch {
		case item.Msg != "":
			msgs = append(msgs, item.Msg)
		case item.Detail != "":
			msgs = append(msgs, item.Detail)
		default:
			msgs = append(msgs, "validation error")
		}
	}
	return strings.Join(msgs, "; ")
}
