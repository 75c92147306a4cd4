package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iambrandonn/planact/internal/recorder"
	"github.com/iambrandonn/planact/internal/session"
)

type mockRunner struct {
	mu        sync.Mutex
	startFn   func(ctx context.Context, req session.Request) (session.Outcome, error)
	requests  []session.Request
	shutdowns int

	shutdownErr error
}

func (m *mockRunner) Start(ctx context.Context, req session.Request) (session.Outcome, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.startFn
	m.mu.Unlock()

	if fn == nil {
		return session.Outcome{Completed: true, TaskID: "t-1", ResultsPath: "/ws/results/task.json"}, nil
	}
	return fn(ctx, req)
}

func (m *mockRunner) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdowns++
	return m.shutdownErr
}

func (m *mockRunner) startCalls() []session.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]session.Request(nil), m.requests...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRuntime(runner Runner) *Runtime {
	return NewRuntime(runner, Options{Addr: "127.0.0.1:0", ShutdownGrace: 10 * time.Millisecond}, discardLogger())
}

func serve(r *Runtime, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	response := httptest.NewRecorder()
	r.ServeHTTP(response, request)
	return response
}

func decodeBody[T any](t *testing.T, response *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &out), response.Body.String())
	return out
}

func TestOptionsPreflight(t *testing.T) {
	response := serve(newTestRuntime(&mockRunner{}), http.MethodOptions, "/anything", "")

	assert.Equal(t, http.StatusNoContent, response.Code)
	assert.Empty(t, response.Body.String())
	assert.Equal(t, "*", response.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", response.Header().Get("Access-Control-Allow-Methods"))
}

func TestNotFound(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/task"},
		{http.MethodGet, "/"},
		{http.MethodPost, "/tasks"},
		{http.MethodDelete, "/shutdown"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			response := serve(newTestRuntime(&mockRunner{}), tt.method, tt.path, "")

			assert.Equal(t, http.StatusNotFound, response.Code)
			assert.Equal(t, "Not found", decodeBody[ErrorResponse](t, response).Error)
			assert.Equal(t, "*", response.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestHandleTask(t *testing.T) {
	runner := &mockRunner{}
	response := serve(newTestRuntime(runner), http.MethodPost, "/task",
		`{"task":"Create hello.py","apiKey":"k","apiProvider":"anthropic","waitSeconds":2.5,"resultsFilename":"hello"}`)

	require.Equal(t, http.StatusOK, response.Code, response.Body.String())
	assert.Equal(t, "application/json", response.Header().Get("Content-Type"))
	assert.Equal(t, "*", response.Header().Get("Access-Control-Allow-Origin"))

	body := decodeBody[TaskResponse](t, response)
	assert.True(t, body.Success)
	assert.True(t, body.Completed)
	assert.False(t, body.Timeout)
	assert.Equal(t, "/ws/results/task.json", body.ResultsPath)

	calls := runner.startCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, session.Request{
		Task:            "Create hello.py",
		APIKey:          "k",
		APIProvider:     "anthropic",
		BlindInterval:   2500 * time.Millisecond,
		ResultsFilename: "hello",
	}, calls[0])
}

func TestHandleTaskTimeout(t *testing.T) {
	runner := &mockRunner{startFn: func(ctx context.Context, req session.Request) (session.Outcome, error) {
		return session.Outcome{TimedOut: true, ResultsPath: "/ws/results/x.json"}, nil
	}}
	response := serve(newTestRuntime(runner), http.MethodPost, "/task", `{"task":"t"}`)

	require.Equal(t, http.StatusOK, response.Code)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &raw))
	assert.Equal(t, true, raw["success"])
	assert.Equal(t, false, raw["completed"])
	assert.Equal(t, true, raw["timeout"])
}

func TestHandleTaskBadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"malformed json", `{"task":`, "Invalid JSON"},
		{"empty body", "", "Invalid JSON"},
		{"missing task", `{"apiKey":"k"}`, "Missing task parameter"},
		{"blank task", `{"task":"   "}`, "Missing task parameter"},
		{"trailing garbage", `{"task":"x"} garbage`, "Invalid JSON"},
		{"concatenated objects", `{"task":"x"}{"task":"y"}`, "Invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{}
			response := serve(newTestRuntime(runner), http.MethodPost, "/task", tt.body)

			assert.Equal(t, http.StatusBadRequest, response.Code)
			body := decodeBody[ErrorResponse](t, response)
			assert.False(t, body.Success)
			assert.Contains(t, body.Error, tt.message)
			assert.Empty(t, runner.startCalls())
		})
	}
}

func TestHandleTaskStartErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid filename", fmt.Errorf("%w: path escapes", recorder.ErrInvalidFilename), http.StatusBadRequest},
		{"run active", session.ErrRunActive, http.StatusConflict},
		{"shut down", session.ErrShutdown, http.StatusServiceUnavailable},
		{"workspace", fmt.Errorf("%w: missing", session.ErrWorkspace), http.StatusInternalServerError},
		{"no task id", session.ErrNoTaskID, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{startFn: func(ctx context.Context, req session.Request) (session.Outcome, error) {
				return session.Outcome{}, tt.err
			}}
			response := serve(newTestRuntime(runner), http.MethodPost, "/task", `{"task":"t"}`)

			assert.Equal(t, tt.status, response.Code)
			assert.Equal(t, tt.err.Error(), decodeBody[ErrorResponse](t, response).Error)
		})
	}
}

func TestHandleShutdownIsIdempotent(t *testing.T) {
	r := newTestRuntime(&mockRunner{})

	first := serve(r, http.MethodPost, "/shutdown", "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, ShutdownResponse{Success: true, Message: "Server shutting down"}, decodeBody[ShutdownResponse](t, first))

	second := serve(r, http.MethodPost, "/shutdown", "")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, ShutdownResponse{Success: true, Message: "Server already shut down"}, decodeBody[ShutdownResponse](t, second))

	select {
	case <-r.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after the grace delay")
	}
}
