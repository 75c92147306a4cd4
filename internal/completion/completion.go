// Package completion recognizes the terminal event of a run.
package completion

import (
	"context"
	"log/slog"
	"sync"

	"github.com/iambrandonn/planact/internal/classifier"
	"github.com/iambrandonn/planact/internal/protocol"
	"github.com/iambrandonn/planact/internal/runstate"
)

// Signal is a completion future resolved at most once
type Signal struct {
	once sync.Once
	done chan struct{}
}

// NewSignal creates an unresolved signal
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Resolve completes the signal. It reports whether this call resolved it.
func (s *Signal) Resolve() bool {
	resolved := false
	s.once.Do(func() {
		close(s.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the signal is resolved
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Resolved reports whether the signal has been resolved
func (s *Signal) Resolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ModeSetter switches the engine's operating mode
type ModeSetter interface {
	SetMode(ctx context.Context, mode protocol.Mode) error
}

// Detector resolves a run's signal on the final completion-result announcement
type Detector struct {
	run    *runstate.Run
	modes  ModeSetter
	signal *Signal
	logger *slog.Logger
}

// NewDetector creates a detector for run
func NewDetector(run *runstate.Run, modes ModeSetter, signal *Signal, logger *slog.Logger) *Detector {
	return &Detector{
		run:    run,
		modes:  modes,
		signal: signal,
		logger: logger.With("component", "completion"),
	}
}

// Handle reports whether evt completed the run
func (d *Detector) Handle(evt classifier.Event) bool {
	if !evt.Final() || !evt.Is(classifier.ChannelSay, classifier.SubtypeCompletionResult) {
		return false
	}

	if d.signal.Resolved() {
		d.logger.Debug("duplicate completion result ignored", "ts", evt.ID)
		return false
	}

	d.logger.Info("completion result received", "ts", evt.ID)

	if err := d.modes.SetMode(context.Background(), protocol.ModePlan); err != nil {
		d.logger.Error("failed to switch back to plan mode", "error", err)
	} else if err := d.run.SetPhase(protocol.ModePlan); err != nil {
		d.logger.Warn("failed to record plan phase", "error", err)
	}

	return d.signal.Resolve()
}
