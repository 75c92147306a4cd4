package ndjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/iambrandonn/planact/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEncoderDecoderCommand(t *testing.T) {
	var buf bytes.Buffer
	logger := discardLogger()

	encoder := NewEncoder(&buf, logger)
	decoder := NewDecoder(&buf, logger)

	cmd := protocol.Command{
		Kind:      protocol.MessageKindCommand,
		MessageID: "m-01",
		Action:    protocol.ActionSetMode,
		Inputs:    map[string]any{"mode": "act"},
		Deadline:  time.Now().UTC(),
	}

	if err := encoder.Encode(cmd); err != nil {
		t.Fatalf("failed to encode command: %v", err)
	}

	var decoded protocol.Command
	if err := decoder.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode command: %v", err)
	}

	if decoded.MessageID != cmd.MessageID {
		t.Errorf("message_id mismatch: got %s, want %s", decoded.MessageID, cmd.MessageID)
	}
	if decoded.Action != cmd.Action {
		t.Errorf("action mismatch: got %s, want %s", decoded.Action, cmd.Action)
	}
	if decoded.Inputs["mode"] != "act" {
		t.Errorf("inputs mismatch: got %v", decoded.Inputs)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, msg any)
	}{
		{
			name: "event",
			line: `{"kind":"event","message_id":"e-1","correlation_id":"m-1","event":"command.completed","payload":{"task_id":"T-1"},"occurred_at":"2025-10-19T12:00:00Z"}`,
			check: func(t *testing.T, msg any) {
				evt, ok := msg.(*protocol.Event)
				if !ok {
					t.Fatalf("expected *protocol.Event, got %T", msg)
				}
				if evt.CorrelationID != "m-1" {
					t.Errorf("correlation_id = %s, want m-1", evt.CorrelationID)
				}
				var payload map[string]string
				if err := json.Unmarshal(evt.Payload, &payload); err != nil {
					t.Fatalf("payload not JSON: %v", err)
				}
				if payload["task_id"] != "T-1" {
					t.Errorf("payload task_id = %s, want T-1", payload["task_id"])
				}
			},
		},
		{
			name: "message",
			line: `{"kind":"message","message":{"ts":42,"type":1,"say":6,"text":"done"}}`,
			check: func(t *testing.T, msg any) {
				env, ok := msg.(*protocol.MessageEnvelope)
				if !ok {
					t.Fatalf("expected *protocol.MessageEnvelope, got %T", msg)
				}
				if env.Message.Say != protocol.SayCompletionResult || env.Message.Ts != 42 {
					t.Errorf("unexpected message: %+v", env.Message)
				}
			},
		},
		{
			name: "model response",
			line: `{"kind":"model_response","request":{"model":"x"},"response":{"id":"r1"}}`,
			check: func(t *testing.T, msg any) {
				resp, ok := msg.(*protocol.ModelResponse)
				if !ok {
					t.Fatalf("expected *protocol.ModelResponse, got %T", msg)
				}
				if !strings.Contains(string(resp.Response), "r1") {
					t.Errorf("response = %s, want to contain r1", resp.Response)
				}
			},
		},
		{
			name: "heartbeat",
			line: `{"kind":"heartbeat","seq":3,"pid":99,"uptime_s":1.5,"last_activity_at":"2025-10-19T12:00:00Z"}`,
			check: func(t *testing.T, msg any) {
				hb, ok := msg.(*protocol.Heartbeat)
				if !ok {
					t.Fatalf("expected *protocol.Heartbeat, got %T", msg)
				}
				if hb.Seq != 3 {
					t.Errorf("seq = %d, want 3", hb.Seq)
				}
			},
		},
		{
			name: "log",
			line: `{"kind":"log","level":"warn","message":"slow provider","timestamp":"2025-10-19T12:00:00Z"}`,
			check: func(t *testing.T, msg any) {
				l, ok := msg.(*protocol.Log)
				if !ok {
					t.Fatalf("expected *protocol.Log, got %T", msg)
				}
				if l.Level != protocol.LogLevelWarn {
					t.Errorf("level = %s, want warn", l.Level)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoder := NewDecoder(strings.NewReader(tt.line+"\n"), discardLogger())
			msg, err := decoder.DecodeEnvelope()
			if err != nil {
				t.Fatalf("DecodeEnvelope failed: %v", err)
			}
			tt.check(t, msg)
		})
	}
}

func TestDecodeEnvelopeRejectsMissingKind(t *testing.T) {
	decoder := NewDecoder(strings.NewReader(`{"message_id":"x"}`+"\n"), discardLogger())

	if _, err := decoder.DecodeEnvelope(); err == nil {
		t.Fatal("expected error for missing kind")
	}
}

func TestDecodeEnvelopeRejectsUnknownKind(t *testing.T) {
	decoder := NewDecoder(strings.NewReader(`{"kind":"telemetry"}`+"\n"), discardLogger())

	_, err := decoder.DecodeEnvelope()
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !strings.Contains(err.Error(), "unknown message kind") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEncoderSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf, discardLogger())

	log := protocol.Log{
		Kind:    protocol.MessageKindLog,
		Level:   protocol.LogLevelInfo,
		Message: strings.Repeat("x", MaxMessageSize),
	}

	err := encoder.Encode(log)
	if err == nil {
		t.Fatal("expected error for oversized message, got nil")
	}
	if !strings.Contains(err.Error(), "exceeds limit") {
		t.Errorf("expected 'exceeds limit' error, got: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("oversized message should not be written, got %d bytes", buf.Len())
	}
}

func TestDecoderSizeLimit(t *testing.T) {
	largeLine := strings.Repeat("x", MaxMessageSize+1000)
	decoder := NewDecoder(strings.NewReader(largeLine+"\n"), discardLogger())

	var msg map[string]any
	err := decoder.Decode(&msg)
	if err == nil {
		t.Fatal("expected error for oversized line, got nil")
	}
	if !errors.Is(err, ErrStreamBroken) {
		t.Errorf("expected ErrStreamBroken, got %v", err)
	}
}

func TestDecoderSkipsBlankLines(t *testing.T) {
	input := strings.NewReader("\n  \n{\"kind\":\"log\",\"level\":\"info\",\"message\":\"hi\",\"timestamp\":\"2025-10-19T12:00:00Z\"}\n")
	decoder := NewDecoder(input, discardLogger())

	var l protocol.Log
	if err := decoder.Decode(&l); err != nil {
		t.Fatalf("failed to decode after blank lines: %v", err)
	}
	if l.Message != "hi" {
		t.Errorf("got message %q, want hi", l.Message)
	}
}

func TestDecoderEOF(t *testing.T) {
	decoder := NewDecoder(strings.NewReader(""), discardLogger())

	var msg map[string]any
	if err := decoder.Decode(&msg); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestMultipleMessagesPreserveOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := discardLogger()
	encoder := NewEncoder(&buf, logger)

	for ts := int64(1); ts <= 3; ts++ {
		env := protocol.MessageEnvelope{
			Kind:    protocol.MessageKindMessage,
			Message: protocol.Message{Ts: ts, Type: protocol.MessageTypeSay, Say: protocol.SayText},
		}
		if err := encoder.Encode(env); err != nil {
			t.Fatalf("failed to encode message: %v", err)
		}
	}

	decoder := NewDecoder(&buf, logger)
	for want := int64(1); want <= 3; want++ {
		msg, err := decoder.DecodeEnvelope()
		if err != nil {
			t.Fatalf("failed to decode message %d: %v", want, err)
		}
		env := msg.(*protocol.MessageEnvelope)
		if env.Message.Ts != want {
			t.Errorf("got ts %d, want %d", env.Message.Ts, want)
		}
	}

	if _, err := decoder.DecodeEnvelope(); err != io.EOF {
		t.Errorf("expected EOF after all messages, got %v", err)
	}
}
