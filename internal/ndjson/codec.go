package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/iambrandonn/planact/internal/protocol"
)

// MaxMessageSize is the maximum NDJSON message size (1 MiB).
// Conversation dumps from the engine are larger than typical protocol frames.
const MaxMessageSize = 1024 * 1024

// ErrStreamBroken means the underlying reader failed and no further lines can be read
var ErrStreamBroken = errors.New("ndjson stream broken")

// Encoder writes one JSON value per line. It is safe for concurrent use;
// each value is written with a single Write call.
type Encoder struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
}

// NewEncoder creates a new NDJSON encoder
func NewEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	return &Encoder{w: w, logger: logger}
}

// Encode writes v followed by a newline
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		e.logger.Error("message exceeds size limit", "size", len(data), "limit", MaxMessageSize)
		return fmt.Errorf("message size %d exceeds limit %d", len(data), MaxMessageSize)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Decoder reads one JSON value per line, skipping blank lines
type Decoder struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	line    int
}

// NewDecoder creates a decoder whose lines may be up to MaxMessageSize bytes
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)
	return &Decoder{scanner: scanner, logger: logger}
}

// Decode reads the next non-blank line into v. It returns io.EOF at the end
// of input and an error wrapping ErrStreamBroken when the reader fails or a
// line is too long; the decoder is unusable after either.
func (d *Decoder) Decode(v any) error {
	for d.scanner.Scan() {
		d.line++
		data := bytes.TrimSpace(d.scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		if err := json.Unmarshal(data, v); err != nil {
			d.logger.Error("failed to unmarshal line",
				"line", d.line,
				"error", err,
				"data", string(data[:min(100, len(data))]))
			return fmt.Errorf("failed to unmarshal line %d: %w", d.line, err)
		}
		return nil
	}

	if err := d.scanner.Err(); err != nil {
		return fmt.Errorf("%w: after line %d: %w", ErrStreamBroken, d.line, err)
	}
	return io.EOF
}

// DecodeEnvelope reads and routes a message based on its kind
func (d *Decoder) DecodeEnvelope() (any, error) {
	// Peek at the "kind" field without decoding the rest twice
	var raw json.RawMessage
	if err := d.Decode(&raw); err != nil {
		return nil, err
	}

	var head struct {
		Kind protocol.MessageKind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.Kind == "" {
		return nil, fmt.Errorf("line %d: missing or invalid 'kind' field", d.line)
	}

	var target any
	switch head.Kind {
	case protocol.MessageKindCommand:
		target = &protocol.Command{}
	case protocol.MessageKindEvent:
		target = &protocol.Event{}
	case protocol.MessageKindMessage:
		target = &protocol.MessageEnvelope{}
	case protocol.MessageKindModelResponse:
		target = &protocol.ModelResponse{}
	case protocol.MessageKindHeartbeat:
		target = &protocol.Heartbeat{}
	case protocol.MessageKindLog:
		target = &protocol.Log{}
	default:
		d.logger.Warn("unknown message kind",
			"line", d.line,
			"kind", head.Kind)
		return nil, fmt.Errorf("line %d: unknown message kind: %s", d.line, head.Kind)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("line %d: failed to decode %s: %w", d.line, head.Kind, err)
	}
	return target, nil
}
