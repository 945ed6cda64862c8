// Package apiclient is the HTTP client rwctl uses to drive a rubricwatch server.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dyluth/rubricwatch/internal/reconcile"
	"github.com/dyluth/rubricwatch/internal/server"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether err is an APIError the server marked retryable.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}

// Client talks to one rubricwatch server.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithMaxRetries sets how many times a retryable failure is retried (default 3).
func WithMaxRetries(n uint64) Option {
	return func(cl *Client) { cl.maxRetries = n }
}

// WithBackOff sets the retry schedule (default exponential).
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(cl *Client) { cl.newBackOff = fn }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ReplaceCriteria replaces a session's criteria.
func (c *Client) ReplaceCriteria(ctx context.Context, sessionID string, criteria []reconcile.CriterionInput) ([]checklist.Criterion, error) {
	var resp server.ReplaceCriteriaResponse
	err := c.do(ctx, http.MethodPut, sessionPath(sessionID, "criteria"),
		server.ReplaceCriteriaRequest{Criteria: criteria}, &resp)
	return resp.Criteria, err
}

// Evaluate submits a transcript chunk. The server evaluates it in the background.
func (c *Client) Evaluate(ctx context.Context, sessionID string, group int, req server.TranscriptRequest) error {
	return c.do(ctx, http.MethodPost, groupPath(sessionID, group, "transcripts"), req, nil)
}

// Release opens a group's release gate and returns the released snapshot.
func (c *Client) Release(ctx context.Context, sessionID string, group int, payload reconcile.OptimisticPayload) (*checklist.Snapshot, error) {
	var snapshot checklist.Snapshot
	if err := c.do(ctx, http.MethodPost, groupPath(sessionID, group, "release"), payload, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// GetSnapshot fetches a group's current checklist.
func (c *Client) GetSnapshot(ctx context.Context, sessionID string, group int) (*checklist.Snapshot, error) {
	var snapshot checklist.Snapshot
	if err := c.do(ctx, http.MethodGet, groupPath(sessionID, group, "checklist"), nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// TeardownSession deletes everything stored for a session.
func (c *Client) TeardownSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sessionID, ""), nil, nil)
}

// do sends one request, retrying with exponential backoff while the server
// answers with a retryable error. Other failures are returned immediately.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	return backoff.Retry(func() error {
		err := c.once(ctx, method, path, payload, out)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e server.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error, Retryable: e.Retryable}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func sessionPath(sessionID, suffix string) string {
	p := "/sessions/" + url.PathEscape(sessionID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func groupPath(sessionID string, group int, suffix string) string {
	return fmt.Sprintf("/sessions/%s/groups/%d/%s", url.PathEscape(sessionID), group, suffix)
}
