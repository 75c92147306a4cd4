// Package client talks to a running control endpoint
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iambrandonn/planact/internal/server"
)

const (
	// DefaultTaskTimeout exceeds the server-side run timeout so a timed-out
	// run still gets its response through.
	DefaultTaskTimeout = 35 * time.Minute
	// DefaultShutdownTimeout bounds the shutdown request.
	DefaultShutdownTimeout = 5 * time.Second
)

// APIError is a non-2xx reply from the endpoint
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the endpoint at baseURL, e.g. "http://127.0.0.1:9877"
func New(baseURL string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// RunTask starts a task and waits for its outcome. The raw response body is
// returned alongside the decoded one, also for API errors.
func (c *Client) RunTask(ctx context.Context, req server.TaskRequest, timeout time.Duration) (server.TaskResponse, []byte, error) {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var resp server.TaskResponse
	raw, err := c.postJSON(ctx, "/task", req, &resp)
	return resp, raw, err
}

// Shutdown asks the endpoint to stop
func (c *Client) Shutdown(ctx context.Context) (server.ShutdownResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
	defer cancel()

	var resp server.ShutdownResponse
	_, err := c.postJSON(ctx, "/shutdown", struct{}{}, &resp)
	return resp, err
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr server.ErrorResponse
		message := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		return raw, &APIError{Status: resp.StatusCode, Message: message}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return raw, fmt.Errorf("failed to decode response: %w", err)
	}
	return raw, nil
}
