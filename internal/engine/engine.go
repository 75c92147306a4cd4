// Package engine defines the boundary to the agent engine that produces the
// message stream and answers control commands.
package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/iambrandonn/planact/internal/protocol"
)

var (
	// ErrNoPendingAsk is returned by RespondToAsk when no interactive prompt is outstanding.
	ErrNoPendingAsk = errors.New("no pending ask")
	// ErrNotRunning is returned when the engine process is not available.
	ErrNotRunning = errors.New("engine not running")
	// ErrNoTask is returned by task-scoped calls when no task is active.
	ErrNoTask = errors.New("no active task")
)

// Engine is the control surface of the agent engine
type Engine interface {
	// ClearTask aborts and forgets the in-flight task, if any.
	ClearTask(ctx context.Context) error
	// InitTask starts a task and returns its identifier.
	InitTask(ctx context.Context, task string) (string, error)
	Mode(ctx context.Context) (protocol.Mode, error)
	SetMode(ctx context.Context, mode protocol.Mode) error
	// RespondToAsk answers the outstanding prompt; ErrNoPendingAsk if there is none.
	RespondToAsk(ctx context.Context, response protocol.AskResponse, text string) error
	UpdateAPIConfig(ctx context.Context, cfg protocol.APIConfig) error
	UpdateAutoApproval(ctx context.Context, settings protocol.AutoApprovalSettings) error
	TaskHistory(ctx context.Context, taskID string) (protocol.HistoryItem, error)
	// Messages returns the persisted UI messages of a task as the engine stores them.
	Messages(ctx context.Context, taskID string) ([]json.RawMessage, error)
	// ConversationHistory returns the persisted API conversation of a task.
	ConversationHistory(ctx context.Context, taskID string) ([]json.RawMessage, error)
	// Subscribe registers a stream subscriber and returns a function that removes it.
	Subscribe(sub Subscriber) (unsubscribe func())
}
