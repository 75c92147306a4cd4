// Package eventlog appends every classified engine message of a run to an
// NDJSON ledger for post-mortem inspection.
package eventlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iambrandonn/planact/internal/classifier"
	"github.com/iambrandonn/planact/internal/ndjson"
	"github.com/iambrandonn/planact/internal/protocol"
)

// Record is one ledger line
type Record struct {
	At      time.Time          `json:"at"`
	Phase   protocol.Mode      `json:"phase"`
	Ts      int64              `json:"ts"`
	Channel classifier.Channel `json:"channel"`
	Subtype classifier.Subtype `json:"subtype"`
	Partial bool               `json:"partial,omitempty"`
	Text    string             `json:"text,omitempty"`
}

// EventLog writes classified events to an NDJSON file
type EventLog struct {
	file    *os.File
	encoder *ndjson.Encoder
	logger  *slog.Logger
	mu      sync.Mutex
	closed  bool
}

// NewEventLog opens (or creates) the ledger at logPath for appending
func NewEventLog(logPath string, logger *slog.Logger) (*EventLog, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &EventLog{
		file:    file,
		encoder: ndjson.NewEncoder(file, logger),
		logger:  logger,
	}, nil
}

// Write appends evt as seen during phase
func (l *EventLog) Write(phase protocol.Mode, evt classifier.Event) error {
	return l.WriteRecord(Record{
		At:      time.Now().UTC(),
		Phase:   phase,
		Ts:      evt.ID,
		Channel: evt.Channel,
		Subtype: evt.Subtype,
		Partial: evt.Partial,
		Text:    evt.Text,
	})
}

// WriteRecord appends rec
func (l *EventLog) WriteRecord(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("event log closed")
	}
	return l.encoder.Encode(rec)
}

// Close closes the ledger file. Writes after Close fail.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
