// Package phase moves a run from plan to act once the planning reply is final.
package phase

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/iambrandonn/planact/internal/classifier"
	"github.com/iambrandonn/planact/internal/protocol"
	"github.com/iambrandonn/planact/internal/runstate"
)

// DefaultSwitchDelay lets the triggering event settle before the mode changes
const DefaultSwitchDelay = 500 * time.Millisecond

// ModeSetter switches the engine's operating mode
type ModeSetter interface {
	SetMode(ctx context.Context, mode protocol.Mode) error
}

// Scheduler runs a named callback after a delay
type Scheduler interface {
	After(name string, d time.Duration, fn func()) bool
}

// exitTriggers are the final events that may end the plan phase
var exitTriggers = map[classifier.Channel]map[classifier.Subtype]bool{
	classifier.ChannelSay: {
		classifier.SubtypeText: true,
	},
	classifier.ChannelAsk: {
		classifier.SubtypePlanResponse: true,
	},
}

// Coordinator owns the plan -> act transition of one run
type Coordinator struct {
	run    *runstate.Run
	modes  ModeSetter
	timers Scheduler
	delay  time.Duration
	logger *slog.Logger

	// exited is set once the planning reply triggered the switch and never reset.
	exited atomic.Bool
}

// NewCoordinator creates a coordinator for run
func NewCoordinator(run *runstate.Run, modes ModeSetter, timers Scheduler, delay time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		run:    run,
		modes:  modes,
		timers: timers,
		delay:  delay,
		logger: logger.With("component", "phase"),
	}
}

// Exited reports whether the plan phase exit has been triggered
func (c *Coordinator) Exited() bool {
	return c.exited.Load()
}

// Handle inspects one classified event and schedules the switch to act when
// it is the final planning reply. It reports whether a switch was scheduled.
func (c *Coordinator) Handle(evt classifier.Event) bool {
	if c.exited.Load() || !evt.Final() || !exitTriggers[evt.Channel][evt.Subtype] {
		return false
	}
	if c.run.Phase() != protocol.ModePlan {
		return false
	}

	// A tool call in plan phase is not an exit signal. A payload that does
	// not parse is treated as prose.
	payload, err := classifier.ParseToolPayload(evt.Text)
	if err == nil && payload.IsToolCall() {
		c.logger.Debug("tool call during plan phase, staying in plan", "tool", payload.Tool, "ts", evt.ID)
		return false
	}

	if !c.exited.CompareAndSwap(false, true) {
		return false
	}

	c.logger.Info("plan reply received, switching to act", "ts", evt.ID, "delay", c.delay)
	c.timers.After("phase/act", c.delay, c.switchToAct)
	return true
}

func (c *Coordinator) switchToAct() {
	if c.run.Status().Terminal() {
		c.logger.Debug("run already ended, skipping switch to act")
		return
	}

	if err := c.modes.SetMode(context.Background(), protocol.ModeAct); err != nil {
		c.logger.Error("failed to switch to act mode", "error", err)
		return
	}
	if err := c.run.SetPhase(protocol.ModeAct); err != nil {
		c.logger.Warn("failed to record act phase", "error", err)
		return
	}
	c.logger.Info("switched to act mode")
}
