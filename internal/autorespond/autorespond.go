// Package autorespond answers permission prompts on behalf of an operator so
// an unattended run never blocks.
//
// Two mechanisms race: a delayed approval scheduled per prompt-like event, and
// a periodic blind approval that runs while the run is in act phase. Either
// may find the prompt already answered; that failure is expected.
package autorespond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/iambrandonn/planact/internal/classifier"
	"github.com/iambrandonn/planact/internal/engine"
	"github.com/iambrandonn/planact/internal/protocol"
	"github.com/iambrandonn/planact/internal/runstate"
)

const (
	// DefaultDelay is how long a prompt is left alone before it is approved.
	DefaultDelay = 3 * time.Second
	// DefaultBlindInterval is the period of the blind approval.
	DefaultBlindInterval = 10 * time.Second
)

// AskResponder submits an answer to the engine's outstanding prompt
type AskResponder interface {
	RespondToAsk(ctx context.Context, response protocol.AskResponse, text string) error
}

// Scheduler registers named one-shot and periodic callbacks
type Scheduler interface {
	After(name string, d time.Duration, fn func()) bool
	Every(name string, d time.Duration, fn func()) bool
}

type action int

const (
	actionApprove action = iota + 1
	actionObserve
)

// reactions maps final events to what the responder does about them.
// Tool announcements on the say channel have no prompt behind them.
var reactions = map[classifier.Channel]map[classifier.Subtype]action{
	classifier.ChannelAsk: {
		classifier.SubtypeCommand:       actionApprove,
		classifier.SubtypeCommandOutput: actionApprove,
		classifier.SubtypeUseMCPServer:  actionApprove,
	},
	classifier.ChannelSay: {
		classifier.SubtypeCommand: actionApprove,
		classifier.SubtypeTool:    actionObserve,
	},
}

// Responder synthesizes approvals for one run
type Responder struct {
	run      *runstate.Run
	engine   AskResponder
	timers   Scheduler
	delay    time.Duration
	interval time.Duration
	logger   *slog.Logger

	approved  atomic.Int64
	discarded atomic.Int64
}

// New creates a responder. Zero durations select the defaults.
func New(run *runstate.Run, eng AskResponder, timers Scheduler, delay, interval time.Duration, logger *slog.Logger) *Responder {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if interval <= 0 {
		interval = DefaultBlindInterval
	}
	return &Responder{
		run:      run,
		engine:   eng,
		timers:   timers,
		delay:    delay,
		interval: interval,
		logger:   logger.With("component", "autorespond"),
	}
}

// Handle schedules a delayed approval for prompt-like final events.
// It reports whether an approval was scheduled.
func (r *Responder) Handle(evt classifier.Event) bool {
	if !evt.Final() {
		return false
	}

	switch reactions[evt.Channel][evt.Subtype] {
	case actionApprove:
		name := fmt.Sprintf("autorespond/%s/%s/%d", evt.Channel, evt.Subtype, evt.ID)
		r.logger.Debug("scheduling approval", "channel", evt.Channel, "subtype", evt.Subtype, "ts", evt.ID, "delay", r.delay)
		return r.timers.After(name, r.delay, func() {
			r.approve(fmt.Sprintf("%s/%s", evt.Channel, evt.Subtype))
		})

	case actionObserve:
		tool, _ := classifier.ToolName(evt)
		r.logger.Info("tool announced", "tool", tool, "ts", evt.ID)
	}
	return false
}

// StartBlindApproval starts the periodic approval for the lifetime of the run
func (r *Responder) StartBlindApproval() bool {
	r.logger.Debug("starting blind approval", "interval", r.interval)
	return r.timers.Every("autorespond/blind", r.interval, func() {
		if r.run.Phase() != protocol.ModeAct {
			return
		}
		r.approve("blind")
	})
}

// Approved returns the number of accepted approvals
func (r *Responder) Approved() int64 {
	return r.approved.Load()
}

// Discarded returns the number of approvals that found nothing to answer
func (r *Responder) Discarded() int64 {
	return r.discarded.Load()
}

func (r *Responder) approve(reason string) {
	if r.run.Status().Terminal() {
		r.logger.Debug("run ended, approval skipped", "reason", reason)
		return
	}

	err := r.engine.RespondToAsk(context.Background(), protocol.AskResponseYes, "")
	if err != nil {
		r.discardExpected(reason, err)
		return
	}

	r.approved.Add(1)
	r.logger.Info("prompt approved", "reason", reason)
}

// discardExpected is the best-effort error path for approvals. A missing
// prompt means another path already answered it; other errors are logged and
// dropped as well, the run continues either way.
func (r *Responder) discardExpected(reason string, err error) {
	r.discarded.Add(1)

	if errors.Is(err, engine.ErrNoPendingAsk) {
		r.logger.Debug("no prompt outstanding", "reason", reason)
		return
	}
	r.logger.Warn("approval not delivered", "reason", reason, "error", err)
}
