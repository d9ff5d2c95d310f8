// Package client provides a Go client library for the reagent API server.
package client

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

	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

// Client communicates with the reagent API server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client pointing at the given base URL
// (e.g. "http://127.0.0.1:7118").
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// doRequest builds and executes an HTTP request.
// If body is non-nil it is JSON-encoded and sent as the request body.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// doJSON executes a request, checks for a 2xx status, and JSON-decodes
// the response body into target (when target is non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, target interface{}) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if target != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}

// errorMessage unwraps the server's {"error": "..."} envelope when present.
func errorMessage(body []byte) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
		return envelope.Error
	}
	return strings.TrimSpace(string(body))
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// Healthz checks whether the API server and its model backend are healthy.
func (c *Client) Healthz(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil)
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// CreateRun submits a run for execution.
func (c *Client) CreateRun(ctx context.Context, run *v1.Run) (*v1.Run, error) {
	var out v1.Run
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/runs", run, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRun retrieves a run by name.
func (c *Client) GetRun(ctx context.Context, name string) (*v1.Run, error) {
	var out v1.Run
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns lists runs, oldest first. A non-empty phase filters the result.
func (c *Client) ListRuns(ctx context.Context, phase v1.RunPhase) ([]v1.Run, error) {
	path := "/api/v1/runs"
	if phase != "" {
		path += "?phase=" + url.QueryEscape(string(phase))
	}
	var out []v1.Run
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRun deletes a run, cancelling it if it is executing.
func (c *Client) DeleteRun(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/runs/"+url.PathEscape(name), nil, nil)
}

// WaitRun polls a run every interval until it reaches a terminal phase.
// onChange, when non-nil, is called each time the run's event count grows.
func (c *Client) WaitRun(ctx context.Context, name string, interval time.Duration, onChange func(*v1.Run)) (*v1.Run, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seen := -1
	for {
		run, err := c.GetRun(ctx, name)
		if err != nil {
			return nil, err
		}
		if onChange != nil && len(run.Status.Events) != seen {
			seen = len(run.Status.Events)
			onChange(run)
		}
		if run.Status.Phase.Terminal() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}
