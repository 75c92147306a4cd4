package testharness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/planact/internal/engine"
	"github.com/iambrandonn/planact/internal/protocol"
)

// Step is one scripted emission of the fake engine
type Step struct {
	// Delay is waited before the message is emitted.
	Delay   time.Duration
	Message protocol.Message
	// AwaitResponse makes the step an outstanding prompt: the script pauses
	// until RespondToAsk is called or the task is cleared.
	AwaitResponse bool
	// ModelResponse, when set, is streamed after the message.
	ModelResponse *protocol.ModelResponse
}

// Script drives the fake engine. Plan runs after InitTask, Act runs the first
// time the mode is switched to act during a task.
type Script struct {
	Plan []Step
	Act  []Step
}

// FakeEngine is an in-process engine that plays a Script
type FakeEngine struct {
	*engine.Hub

	Script Script
	// TokensIn, TokensOut and Cost are reported by TaskHistory.
	TokensIn  int64
	TokensOut int64
	Cost      float64
	// FailSetMode makes SetMode return an error without changing the mode.
	FailSetMode bool

	logger *slog.Logger

	mu            sync.Mutex
	mode          protocol.Mode
	taskID        string
	actStarted    bool
	pendingAsk    chan struct{}
	cancelScript  context.CancelFunc
	emitted       []protocol.Message
	nextTs        int64
	modeHistory   []protocol.Mode
	responses     []protocol.AskResponse
	rejected      int
	clears        int
	apiConfigs    []protocol.APIConfig
	autoApprovals []protocol.AutoApprovalSettings
}

// NewFakeEngine creates a fake engine in act mode, as an engine left over from
// a previous run would be.
func NewFakeEngine(script Script, logger *slog.Logger) *FakeEngine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FakeEngine{
		Hub:    engine.NewHub(logger),
		Script: script,
		logger: logger,
		mode:   protocol.ModeAct,
		nextTs: time.Now().UnixMilli(),
	}
}

func (f *FakeEngine) ClearTask(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.clears++
	f.stopScriptLocked()
	f.taskID = ""
	f.emitted = nil
	return nil
}

func (f *FakeEngine) InitTask(ctx context.Context, task string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopScriptLocked()
	f.taskID = uuid.NewString()
	f.actStarted = false
	f.emitted = nil

	scriptCtx, cancel := context.WithCancel(context.Background())
	f.cancelScript = cancel

	f.logger.Debug("fake engine task started", "task_id", f.taskID, "task", task)

	go f.play(scriptCtx, f.Script.Plan)
	return f.taskID, nil
}

func (f *FakeEngine) Mode(ctx context.Context) (protocol.Mode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode, nil
}

func (f *FakeEngine) SetMode(ctx context.Context, mode protocol.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q", mode)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailSetMode {
		return fmt.Errorf("mode switch rejected")
	}

	f.mode = mode
	f.modeHistory = append(f.modeHistory, mode)

	if mode == protocol.ModeAct && f.taskID != "" && !f.actStarted && f.cancelScript != nil {
		f.actStarted = true
		scriptCtx, cancel := context.WithCancel(context.Background())
		prev := f.cancelScript
		f.cancelScript = func() { prev(); cancel() }
		go f.play(scriptCtx, f.Script.Act)
	}
	return nil
}

func (f *FakeEngine) RespondToAsk(ctx context.Context, response protocol.AskResponse, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pendingAsk == nil {
		f.rejected++
		return engine.ErrNoPendingAsk
	}
	close(f.pendingAsk)
	f.pendingAsk = nil
	f.responses = append(f.responses, response)
	return nil
}

func (f *FakeEngine) UpdateAPIConfig(ctx context.Context, cfg protocol.APIConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiConfigs = append(f.apiConfigs, cfg)
	return nil
}

func (f *FakeEngine) UpdateAutoApproval(ctx context.Context, settings protocol.AutoApprovalSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoApprovals = append(f.autoApprovals, settings)
	return nil
}

func (f *FakeEngine) TaskHistory(ctx context.Context, taskID string) (protocol.HistoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if taskID == "" || taskID != f.taskID {
		return protocol.HistoryItem{}, engine.ErrNoTask
	}
	return protocol.HistoryItem{
		ID:        taskID,
		TokensIn:  f.TokensIn,
		TokensOut: f.TokensOut,
		TotalCost: f.Cost,
	}, nil
}

func (f *FakeEngine) Messages(ctx context.Context, taskID string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if taskID == "" || taskID != f.taskID {
		return nil, engine.ErrNoTask
	}
	out := make([]json.RawMessage, 0, len(f.emitted))
	for _, m := range f.emitted {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

func (f *FakeEngine) ConversationHistory(ctx context.Context, taskID string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if taskID == "" || taskID != f.taskID {
		return nil, engine.ErrNoTask
	}
	return []json.RawMessage{
		json.RawMessage(`{"role":"user","content":"task"}`),
		json.RawMessage(`{"role":"assistant","content":"ok"}`),
	}, nil
}

// Emit publishes a message as if the engine had streamed it
func (f *FakeEngine) Emit(msg protocol.Message) protocol.Message {
	f.mu.Lock()
	if msg.Ts == 0 {
		f.nextTs++
		msg.Ts = f.nextTs
	}
	if !msg.Partial {
		f.emitted = append(f.emitted, msg)
	}
	f.mu.Unlock()

	f.PublishMessage(msg)
	return msg
}

// CurrentMode returns the engine's mode
func (f *FakeEngine) CurrentMode() protocol.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// ModeHistory returns every mode set through SetMode, in order
func (f *FakeEngine) ModeHistory() []protocol.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Mode(nil), f.modeHistory...)
}

// Responses returns the accepted ask responses
func (f *FakeEngine) Responses() []protocol.AskResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.AskResponse(nil), f.responses...)
}

// RejectedResponses counts RespondToAsk calls made with no prompt outstanding
func (f *FakeEngine) RejectedResponses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rejected
}

// Clears counts ClearTask calls
func (f *FakeEngine) Clears() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

// APIConfigs returns every credential update received
func (f *FakeEngine) APIConfigs() []protocol.APIConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.APIConfig(nil), f.apiConfigs...)
}

// AutoApprovals returns every auto-approval update received
func (f *FakeEngine) AutoApprovals() []protocol.AutoApprovalSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.AutoApprovalSettings(nil), f.autoApprovals...)
}

// HasPendingAsk reports whether a scripted prompt is waiting for a response
func (f *FakeEngine) HasPendingAsk() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingAsk != nil
}

// Close stops any running script
func (f *FakeEngine) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopScriptLocked()
}

func (f *FakeEngine) stopScriptLocked() {
	if f.cancelScript != nil {
		f.cancelScript()
		f.cancelScript = nil
	}
	if f.pendingAsk != nil {
		close(f.pendingAsk)
		f.pendingAsk = nil
	}
}

func (f *FakeEngine) play(ctx context.Context, steps []Step) {
	for _, step := range steps {
		if step.Delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(step.Delay):
			}
		}
		if ctx.Err() != nil {
			return
		}

		var answered chan struct{}
		if step.AwaitResponse {
			answered = make(chan struct{})
			f.mu.Lock()
			if ctx.Err() != nil {
				f.mu.Unlock()
				return
			}
			f.pendingAsk = answered
			f.mu.Unlock()
		}

		f.Emit(step.Message)
		if step.ModelResponse != nil {
			f.PublishModelResponse(*step.ModelResponse)
		}

		if answered != nil {
			select {
			case <-ctx.Done():
				return
			case <-answered:
			}
		}
	}
}
