// Package recorder accumulates tool metrics for a run and persists result
// snapshots: incrementally on every final event, and once more when the run
// ends.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/iambrandonn/planact/internal/classifier"
	"github.com/iambrandonn/planact/internal/fsutil"
	"github.com/iambrandonn/planact/internal/protocol"
	"github.com/iambrandonn/planact/internal/runstate"
	"github.com/iambrandonn/planact/internal/workspace"
)

// ErrFinalized is returned by writes attempted after the final snapshot
var ErrFinalized = errors.New("result snapshot already finalized")

// Metrics are the aggregate figures of a finished run
type Metrics struct {
	TokensIn          int64          `json:"tokensIn"`
	TokensOut         int64          `json:"tokensOut"`
	Cost              float64        `json:"cost"`
	Duration          int64          `json:"duration"`
	ToolCalls         map[string]int `json:"toolCalls"`
	ToolFailures      map[string]int `json:"toolFailures"`
	TotalToolCalls    int            `json:"totalToolCalls"`
	TotalToolFailures int            `json:"totalToolFailures"`
	ToolSuccessRate   float64        `json:"toolSuccessRate"`
}

// ModelExchange is one captured request/response pair with the model provider
type ModelExchange struct {
	Request  json.RawMessage `json:"request,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Snapshot is the persisted result of a run. Files and Metrics are only
// present on the final write.
type Snapshot struct {
	Success                bool                   `json:"success"`
	TaskID                 string                 `json:"taskId"`
	Completed              bool                   `json:"completed"`
	InProgress             bool                   `json:"inProgress"`
	Messages               []json.RawMessage      `json:"messages"`
	APIConversationHistory []json.RawMessage      `json:"apiConversationHistory"`
	RawModelResponse       []ModelExchange        `json:"rawModelResponse"`
	Files                  *workspace.FileChanges `json:"files,omitempty"`
	Metrics                *Metrics               `json:"metrics,omitempty"`
}

// Source reads task data held by the engine
type Source interface {
	TaskHistory(ctx context.Context, taskID string) (protocol.HistoryItem, error)
	Messages(ctx context.Context, taskID string) ([]json.RawMessage, error)
	ConversationHistory(ctx context.Context, taskID string) ([]json.RawMessage, error)
}

// ChangeSource summarizes workspace changes
type ChangeSource interface {
	Changes(ctx context.Context) (workspace.FileChanges, error)
}

// Recorder writes the snapshots of one run
type Recorder struct {
	run     *runstate.Run
	source  Source
	changes ChangeSource
	tracker *ToolTracker
	logger  *slog.Logger

	respMu    sync.Mutex
	responses []ModelExchange

	// mu serializes writes; once finalized no further write happens.
	mu        sync.Mutex
	finalized bool
	final     Snapshot
	writes    int
}

// New creates a recorder writing to run.OutputPath
func New(run *runstate.Run, source Source, changes ChangeSource, logger *slog.Logger) *Recorder {
	return &Recorder{
		run:       run,
		source:    source,
		changes:   changes,
		tracker:   NewToolTracker(),
		logger:    logger.With("component", "recorder", "path", run.OutputPath),
		responses: []ModelExchange{},
	}
}

// Tracker returns the run's tool tracker
func (r *Recorder) Tracker() *ToolTracker {
	return r.tracker
}

// Observe counts tool usage and, for final events, saves an incremental snapshot
func (r *Recorder) Observe(ctx context.Context, evt classifier.Event) {
	if !evt.Final() {
		return
	}
	r.tracker.Observe(evt)
	r.saveBestEffort(ctx)
}

// ObserveModelResponse captures a model exchange and saves an incremental snapshot
func (r *Recorder) ObserveModelResponse(ctx context.Context, resp protocol.ModelResponse) {
	r.respMu.Lock()
	r.responses = append(r.responses, ModelExchange{Request: resp.Request, Response: resp.Response})
	r.respMu.Unlock()

	r.saveBestEffort(ctx)
}

// Writes returns the number of snapshots written so far
func (r *Recorder) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *Recorder) saveBestEffort(ctx context.Context) {
	if err := r.SaveIncremental(ctx); err != nil && !errors.Is(err, ErrFinalized) {
		r.logger.Warn("failed to save incremental snapshot", "error", err)
	}
}

// SaveIncremental writes an in-progress snapshot. It does nothing until the
// engine task exists, and returns ErrFinalized after Finalize.
func (r *Recorder) SaveIncremental(ctx context.Context) error {
	taskID := r.run.TaskID()
	if taskID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return ErrFinalized
	}

	snap := r.collect(ctx, taskID)
	snap.InProgress = true
	if err := fsutil.AtomicWriteJSON(r.run.OutputPath, snap); err != nil {
		return err
	}
	r.writes++
	r.logger.Debug("results updated", "messages", len(snap.Messages))
	return nil
}

// Finalize writes the one final snapshot with file changes and metrics.
// completed distinguishes a finished task from a timed-out one. Later calls
// return the first result without writing.
func (r *Recorder) Finalize(ctx context.Context, completed bool) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return r.final, nil
	}
	r.finalized = true

	taskID := r.run.TaskID()
	snap := r.collect(ctx, taskID)
	snap.Completed = completed
	snap.InProgress = !completed

	files, err := r.changes.Changes(ctx)
	if err != nil {
		r.logger.Warn("failed to summarize file changes", "error", err)
		files = workspace.FileChanges{Created: []string{}, Modified: []string{}, Deleted: []string{}}
	}
	snap.Files = &files

	metrics := Metrics{
		Duration:     r.run.Elapsed().Milliseconds(),
		ToolCalls:    r.tracker.Calls(),
		ToolFailures: r.tracker.Failures(),
	}
	metrics.TotalToolCalls = sum(metrics.ToolCalls)
	metrics.TotalToolFailures = sum(metrics.ToolFailures)
	metrics.ToolSuccessRate = SuccessRate(metrics.TotalToolCalls, metrics.TotalToolFailures)

	if taskID != "" {
		item, err := r.source.TaskHistory(ctx, taskID)
		if err != nil {
			r.logger.Warn("failed to read task usage", "error", err)
		} else {
			metrics.TokensIn = item.TokensIn
			metrics.TokensOut = item.TokensOut
			metrics.Cost = item.TotalCost
		}
	}
	snap.Metrics = &metrics

	r.final = snap
	if err := fsutil.AtomicWriteJSON(r.run.OutputPath, snap); err != nil {
		r.logger.Error("failed to write final snapshot", "error", err)
		return snap, err
	}
	r.writes++

	r.logger.Info("results finalized",
		"completed", completed,
		"tool_calls", metrics.TotalToolCalls,
		"tool_failures", metrics.TotalToolFailures,
		"duration_ms", metrics.Duration)
	return snap, nil
}

// collect gathers engine-held task data; a failing source leaves its field empty
func (r *Recorder) collect(ctx context.Context, taskID string) Snapshot {
	snap := Snapshot{
		Success:                true,
		TaskID:                 taskID,
		Messages:               []json.RawMessage{},
		APIConversationHistory: []json.RawMessage{},
	}

	r.respMu.Lock()
	snap.RawModelResponse = append([]ModelExchange{}, r.responses...)
	r.respMu.Unlock()

	if taskID == "" {
		return snap
	}

	if msgs, err := r.source.Messages(ctx, taskID); err != nil {
		r.logger.Warn("failed to read task messages", "error", err)
	} else if msgs != nil {
		snap.Messages = msgs
	}

	if conv, err := r.source.ConversationHistory(ctx, taskID); err != nil {
		r.logger.Warn("failed to read conversation history", "error", err)
	} else if conv != nil {
		snap.APIConversationHistory = conv
	}

	return snap
}
