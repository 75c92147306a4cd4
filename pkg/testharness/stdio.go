package testharness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/planact/internal/engine"
	"github.com/iambrandonn/planact/internal/ndjson"
	"github.com/iambrandonn/planact/internal/protocol"
)

// StdioServer exposes a FakeEngine over the NDJSON engine protocol
type StdioServer struct {
	Engine            *FakeEngine
	HeartbeatInterval time.Duration
	DisableHeartbeat  bool

	stdin  io.Reader
	stdout io.Writer
	logger *slog.Logger

	mu           sync.Mutex
	encoder      *ndjson.Encoder
	heartbeatSeq int64
	startTime    time.Time
}

// NewStdioServer creates a server reading commands from stdin and writing replies and stream to stdout
func NewStdioServer(eng *FakeEngine, stdin io.Reader, stdout io.Writer, logger *slog.Logger) *StdioServer {
	return &StdioServer{
		Engine:            eng,
		HeartbeatInterval: 1 * time.Second,
		stdin:             stdin,
		stdout:            stdout,
		logger:            logger,
		encoder:           ndjson.NewEncoder(stdout, logger),
		startTime:         time.Now(),
	}
}

// Run serves until stdin reaches EOF or ctx is cancelled
func (s *StdioServer) Run(ctx context.Context) error {
	internalCtx, internalCancel := context.WithCancel(ctx)
	defer internalCancel()

	unsubscribe := s.Engine.Subscribe(engine.Subscriber{
		Name: "stdio",
		OnMessage: func(msg protocol.Message) {
			s.send(protocol.MessageEnvelope{Kind: protocol.MessageKindMessage, Message: msg})
		},
		OnModelResponse: func(resp protocol.ModelResponse) {
			resp.Kind = protocol.MessageKindModelResponse
			s.send(resp)
		},
	})
	defer unsubscribe()
	defer s.Engine.Close()

	var wg sync.WaitGroup
	if !s.DisableHeartbeat {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.heartbeatLoop(internalCtx)
		}()
	}

	// The reader blocks on stdin, so it is not waited for on shutdown.
	go s.processCommands(internalCtx, internalCancel)

	<-internalCtx.Done()
	wg.Wait()
	return nil
}

func (s *StdioServer) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.heartbeatSeq++
			seq := s.heartbeatSeq
			s.mu.Unlock()

			s.send(protocol.Heartbeat{
				Kind:           protocol.MessageKindHeartbeat,
				Seq:            seq,
				PID:            os.Getpid(),
				UptimeS:        time.Since(s.startTime).Seconds(),
				LastActivityAt: time.Now().UTC(),
			})
		}
	}
}

func (s *StdioServer) processCommands(ctx context.Context, cancel context.CancelFunc) {
	decoder := ndjson.NewDecoder(s.stdin, s.logger)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := decoder.DecodeEnvelope()
		if err == io.EOF || errors.Is(err, ndjson.ErrStreamBroken) {
			cancel()
			return
		}
		if err != nil {
			s.logger.Error("failed to decode message", "error", err)
			continue
		}

		cmd, ok := msg.(*protocol.Command)
		if !ok {
			s.logger.Warn("received non-command message", "type", fmt.Sprintf("%T", msg))
			continue
		}

		// Commands are handled concurrently so a slow reply never delays the stream.
		go s.handleCommand(ctx, cmd)
	}
}

func (s *StdioServer) handleCommand(ctx context.Context, cmd *protocol.Command) {
	payload, err := s.dispatch(ctx, cmd)

	evt := protocol.Event{
		Kind:          protocol.MessageKindEvent,
		MessageID:     uuid.NewString(),
		CorrelationID: cmd.MessageID,
		Event:         protocol.EventCommandCompleted,
		OccurredAt:    time.Now().UTC(),
	}

	if err != nil {
		evt.Event = protocol.EventCommandFailed
		evt.Error = err.Error()
		switch {
		case errors.Is(err, engine.ErrNoPendingAsk):
			evt.ErrorCode = protocol.ErrorCodeNoPendingAsk
		case errors.Is(err, engine.ErrNoTask):
			evt.ErrorCode = protocol.ErrorCodeNoTask
		}
	} else if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("failed to marshal reply payload", "action", cmd.Action, "error", err)
			return
		}
		evt.Payload = data
	}

	s.send(evt)
}

func (s *StdioServer) dispatch(ctx context.Context, cmd *protocol.Command) (any, error) {
	eng := s.Engine

	switch cmd.Action {
	case protocol.ActionClearTask:
		return nil, eng.ClearTask(ctx)

	case protocol.ActionInitTask:
		task, _ := cmd.Inputs["task"].(string)
		id, err := eng.InitTask(ctx, task)
		return map[string]string{"task_id": id}, err

	case protocol.ActionGetMode:
		mode, err := eng.Mode(ctx)
		return map[string]protocol.Mode{"mode": mode}, err

	case protocol.ActionSetMode:
		mode, _ := cmd.Inputs["mode"].(string)
		return nil, eng.SetMode(ctx, protocol.Mode(mode))

	case protocol.ActionAskResponse:
		response, _ := cmd.Inputs["response"].(string)
		text, _ := cmd.Inputs["text"].(string)
		return nil, eng.RespondToAsk(ctx, protocol.AskResponse(response), text)

	case protocol.ActionUpdateAPIConfig:
		var cfg protocol.APIConfig
		if err := remarshal(cmd.Inputs["config"], &cfg); err != nil {
			return nil, err
		}
		return nil, eng.UpdateAPIConfig(ctx, cfg)

	case protocol.ActionUpdateAutoApproval:
		var settings protocol.AutoApprovalSettings
		if err := remarshal(cmd.Inputs["settings"], &settings); err != nil {
			return nil, err
		}
		return nil, eng.UpdateAutoApproval(ctx, settings)

	case protocol.ActionGetTaskHistory:
		return eng.TaskHistory(ctx, cmd.TaskID)

	case protocol.ActionGetMessages:
		msgs, err := eng.Messages(ctx, cmd.TaskID)
		return map[string]any{"messages": msgs}, err

	case protocol.ActionGetConversation:
		conv, err := eng.ConversationHistory(ctx, cmd.TaskID)
		return map[string]any{"conversation": conv}, err

	default:
		return nil, fmt.Errorf("unknown action %q", cmd.Action)
	}
}

func (s *StdioServer) send(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.encoder.Encode(v); err != nil {
		s.logger.Error("failed to write to stdout", "error", err)
	}
}

// remarshal converts a decoded JSON value into a typed struct
func remarshal(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode inputs: %w", err)
	}
	return nil
}
