package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/planact/internal/ndjson"
	"github.com/iambrandonn/planact/internal/protocol"
)

// ErrAlreadyStarted is returned by Start on a Process that was started before,
// including one whose subprocess has since exited.
var ErrAlreadyStarted = errors.New("engine process already started")

// DefaultRequestTimeout bounds a single command round trip
const DefaultRequestTimeout = 10 * time.Second

// Process runs the engine as a subprocess speaking NDJSON on stdin/stdout.
// Command replies are matched by correlation id; streamed messages are
// delivered to the hub in arrival order.
type Process struct {
	*Hub

	cmd            []string
	env            map[string]string
	requestTimeout time.Duration
	logger         *slog.Logger

	mu            sync.Mutex
	process       *exec.Cmd
	encoder       *ndjson.Encoder
	stdin         io.WriteCloser
	started       bool
	running       bool
	lastHeartbeat time.Time
	pending       map[string]chan *protocol.Event
	exitChan      chan error
	done          chan struct{}

	// inbox decouples the stdout reader from subscriber callbacks so a
	// callback that issues a command never blocks reply routing.
	inboxMu   sync.Mutex
	inbox     []any
	inboxWake chan struct{}
}

// NewProcess creates an engine process that is started with Start
func NewProcess(cmd []string, env map[string]string, requestTimeout time.Duration, logger *slog.Logger) *Process {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Process{
		Hub:            NewHub(logger),
		cmd:            cmd,
		env:            env,
		requestTimeout: requestTimeout,
		logger:         logger,
		pending:        make(map[string]chan *protocol.Event),
		inboxWake:      make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
}

// Start launches the engine subprocess
func (p *Process) Start(ctx context.Context) error {
	if len(p.cmd) == 0 {
		return fmt.Errorf("engine command is empty")
	}

	// A Process runs its subprocess once; done is closed when it exits.
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.mu.Unlock()

	if err := p.launch(ctx); err != nil {
		p.mu.Lock()
		p.started = false
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *Process) launch(ctx context.Context) error {

	p.logger.Info("starting engine", "cmd", p.cmd)

	proc := exec.CommandContext(ctx, p.cmd[0], p.cmd[1:]...)
	proc.Env = os.Environ()
	for k, v := range p.env {
		proc.Env = append(proc.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := proc.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := proc.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := proc.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start process: %w", err)
	}

	p.mu.Lock()
	p.process = proc
	p.stdin = stdin
	p.encoder = ndjson.NewEncoder(stdin, p.logger)
	p.running = true
	p.lastHeartbeat = time.Now()
	p.exitChan = make(chan error, 1)
	p.mu.Unlock()

	p.logger.Info("engine started", "pid", proc.Process.Pid)

	go p.readStdout(ndjson.NewDecoder(stdout, p.logger))
	go p.readStderr(stderr)
	go p.pump()
	go p.waitForExit(proc)

	return nil
}

// Stop closes stdin and waits for the engine to exit, killing it on timeout
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	proc := p.process
	stdin := p.stdin
	exitChan := p.exitChan
	p.mu.Unlock()

	p.logger.Info("stopping engine")

	if stdin != nil {
		stdin.Close()
	}

	select {
	case <-ctx.Done():
		if proc.Process != nil {
			proc.Process.Kill()
		}
		return ctx.Err()
	case err := <-exitChan:
		if err != nil {
			p.logger.Warn("engine exited with error", "error", err)
		} else {
			p.logger.Info("engine stopped")
		}
		return err
	case <-time.After(5 * time.Second):
		p.logger.Warn("engine did not stop gracefully, killing")
		if proc.Process != nil {
			proc.Process.Kill()
		}
		return fmt.Errorf("engine stop timeout")
	}
}

// Done is closed once the subprocess has exited
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the engine is running
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// LastHeartbeat returns the time of the last received heartbeat
func (p *Process) LastHeartbeat() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHeartbeat
}

func (p *Process) ClearTask(ctx context.Context) error {
	_, err := p.request(ctx, protocol.ActionClearTask, "", nil)
	return err
}

func (p *Process) InitTask(ctx context.Context, task string) (string, error) {
	payload, err := p.request(ctx, protocol.ActionInitTask, "", map[string]any{"task": task})
	if err != nil {
		return "", err
	}
	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := decodePayload(payload, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

func (p *Process) Mode(ctx context.Context) (protocol.Mode, error) {
	payload, err := p.request(ctx, protocol.ActionGetMode, "", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Mode protocol.Mode `json:"mode"`
	}
	if err := decodePayload(payload, &out); err != nil {
		return "", err
	}
	if !out.Mode.Valid() {
		return "", fmt.Errorf("engine reported unknown mode %q", out.Mode)
	}
	return out.Mode, nil
}

func (p *Process) SetMode(ctx context.Context, mode protocol.Mode) error {
	_, err := p.request(ctx, protocol.ActionSetMode, "", map[string]any{"mode": mode})
	return err
}

func (p *Process) RespondToAsk(ctx context.Context, response protocol.AskResponse, text string) error {
	_, err := p.request(ctx, protocol.ActionAskResponse, "", map[string]any{
		"response": response,
		"text":     text,
	})
	return err
}

func (p *Process) UpdateAPIConfig(ctx context.Context, cfg protocol.APIConfig) error {
	_, err := p.request(ctx, protocol.ActionUpdateAPIConfig, "", map[string]any{"config": cfg})
	return err
}

func (p *Process) UpdateAutoApproval(ctx context.Context, settings protocol.AutoApprovalSettings) error {
	_, err := p.request(ctx, protocol.ActionUpdateAutoApproval, "", map[string]any{"settings": settings})
	return err
}

func (p *Process) TaskHistory(ctx context.Context, taskID string) (protocol.HistoryItem, error) {
	var item protocol.HistoryItem
	payload, err := p.request(ctx, protocol.ActionGetTaskHistory, taskID, nil)
	if err != nil {
		return item, err
	}
	err = decodePayload(payload, &item)
	return item, err
}

func (p *Process) Messages(ctx context.Context, taskID string) ([]json.RawMessage, error) {
	payload, err := p.request(ctx, protocol.ActionGetMessages, taskID, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []json.RawMessage `json:"messages"`
	}
	err = decodePayload(payload, &out)
	return out.Messages, err
}

func (p *Process) ConversationHistory(ctx context.Context, taskID string) ([]json.RawMessage, error) {
	payload, err := p.request(ctx, protocol.ActionGetConversation, taskID, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Conversation []json.RawMessage `json:"conversation"`
	}
	err = decodePayload(payload, &out)
	return out.Conversation, err
}

// request sends a command and waits for the matching reply
func (p *Process) request(ctx context.Context, action protocol.Action, taskID string, inputs map[string]any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	cmd := &protocol.Command{
		Kind:      protocol.MessageKindCommand,
		MessageID: uuid.NewString(),
		TaskID:    taskID,
		Action:    action,
		Inputs:    inputs,
		Deadline:  deadline.UTC(),
	}

	reply := make(chan *protocol.Event, 1)

	p.mu.Lock()
	if !p.running || p.encoder == nil {
		p.mu.Unlock()
		return nil, ErrNotRunning
	}
	encoder := p.encoder
	p.pending[cmd.MessageID] = reply
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, cmd.MessageID)
		p.mu.Unlock()
	}()

	p.logger.Debug("sending command", "action", action, "message_id", cmd.MessageID)

	if err := encoder.Encode(cmd); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", action, err)
	}

	select {
	case evt := <-reply:
		return evt.Payload, replyError(action, evt)
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", action, ctx.Err())
	case <-p.done:
		return nil, ErrNotRunning
	}
}

func replyError(action protocol.Action, evt *protocol.Event) error {
	if evt.Event != protocol.EventCommandFailed {
		return nil
	}
	switch evt.ErrorCode {
	case protocol.ErrorCodeNoPendingAsk:
		return ErrNoPendingAsk
	case protocol.ErrorCodeNoTask:
		return ErrNoTask
	}
	return fmt.Errorf("engine rejected %s: %s", action, evt.Error)
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("engine reply has no payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode engine reply: %w", err)
	}
	return nil
}

func (p *Process) readStdout(decoder *ndjson.Decoder) {
	defer p.closeInbox()

	for {
		msg, err := decoder.DecodeEnvelope()
		if err == io.EOF {
			p.logger.Info("engine stdout closed")
			return
		}
		if err != nil {
			p.logger.Error("failed to decode message from engine", "error", err)
			if errors.Is(err, ndjson.ErrStreamBroken) {
				return
			}
			continue
		}

		switch v := msg.(type) {
		case *protocol.Event:
			p.mu.Lock()
			reply, ok := p.pending[v.CorrelationID]
			p.mu.Unlock()
			if !ok {
				p.logger.Warn("reply for unknown command", "correlation_id", v.CorrelationID, "event", v.Event)
				continue
			}
			select {
			case reply <- v:
			default:
				p.logger.Warn("duplicate reply for command", "correlation_id", v.CorrelationID)
			}

		case *protocol.Heartbeat:
			p.mu.Lock()
			p.lastHeartbeat = time.Now()
			p.mu.Unlock()
			p.logger.Debug("received heartbeat", "seq", v.Seq, "task_id", v.TaskID)

		case *protocol.Log:
			p.logger.Log(context.Background(), engineLogLevel(v.Level), v.Message, "source", "engine")

		case *protocol.MessageEnvelope, *protocol.ModelResponse:
			p.enqueue(v)

		default:
			p.logger.Warn("unexpected message type from engine", "msg_type", fmt.Sprintf("%T", msg))
		}
	}
}

func (p *Process) enqueue(v any) {
	p.inboxMu.Lock()
	p.inbox = append(p.inbox, v)
	p.inboxMu.Unlock()

	select {
	case p.inboxWake <- struct{}{}:
	default:
	}
}

func (p *Process) closeInbox() {
	p.enqueue(nil)
}

// pump publishes queued stream items to subscribers; a nil item ends it
func (p *Process) pump() {
	for range p.inboxWake {
		for {
			p.inboxMu.Lock()
			if len(p.inbox) == 0 {
				p.inboxMu.Unlock()
				break
			}
			item := p.inbox[0]
			p.inbox[0] = nil
			p.inbox = p.inbox[1:]
			p.inboxMu.Unlock()

			switch v := item.(type) {
			case nil:
				return
			case *protocol.MessageEnvelope:
				p.PublishMessage(v.Message)
			case *protocol.ModelResponse:
				p.PublishModelResponse(*v)
			}
		}
	}
}

func (p *Process) readStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 4096), 1024*1024)

	for scanner.Scan() {
		p.logger.Debug("engine stderr", "line", scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		p.logger.Error("error reading stderr", "error", err)
	}
}

func (p *Process) waitForExit(proc *exec.Cmd) {
	err := proc.Wait()

	p.mu.Lock()
	p.running = false
	exitChan := p.exitChan
	p.mu.Unlock()

	close(p.done)
	exitChan <- err

	if err != nil {
		p.logger.Warn("engine process exited", "error", err)
	} else {
		p.logger.Info("engine process exited cleanly")
	}
}

func engineLogLevel(level protocol.LogLevel) slog.Level {
	switch level {
	case protocol.LogLevelDebug:
		return slog.LevelDebug
	case protocol.LogLevelWarn:
		return slog.LevelWarn
	case protocol.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
