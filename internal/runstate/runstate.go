// Package runstate holds the per-task record of a single harness run.
package runstate

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iambrandonn/planact/internal/protocol"
)

// Status represents the overall state of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed_out"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	return s != StatusRunning
}

var phaseTransitions = map[protocol.Mode]map[protocol.Mode]bool{
	protocol.ModePlan: {
		protocol.ModeAct: true,
	},
	protocol.ModeAct: {
		protocol.ModePlan: true,
	},
}

// CanTransitionPhase reports whether from -> to is a legal phase change
func CanTransitionPhase(from, to protocol.Mode) bool {
	return phaseTransitions[from][to]
}

// Run is the record of one task invocation.
// Immutable fields are set at creation; the rest is guarded by mu.
type Run struct {
	ID         string
	Task       string
	Workspace  string
	OutputPath string
	StartedAt  time.Time

	mu          sync.Mutex
	phase       protocol.Mode
	status      Status
	taskID      string
	completedAt *time.Time
}

// NewRun creates a running record in plan phase
func NewRun(task, workspace, outputPath string) *Run {
	return &Run{
		ID:         fmt.Sprintf("run-%s-%s", time.Now().UTC().Format("20060102"), uuid.NewString()[:8]),
		Task:       task,
		Workspace:  workspace,
		OutputPath: outputPath,
		StartedAt:  time.Now().UTC(),
		phase:      protocol.ModePlan,
		status:     StatusRunning,
	}
}

// Phase returns the current phase
func (r *Run) Phase() protocol.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// SetPhase records a phase change. Setting the current phase again is a no-op.
func (r *Run) SetPhase(mode protocol.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == mode {
		return nil
	}
	if !CanTransitionPhase(r.phase, mode) {
		return fmt.Errorf("invalid phase transition %q -> %q", r.phase, mode)
	}
	r.phase = mode
	return nil
}

// TaskID returns the engine task identifier, empty until the task started
func (r *Run) TaskID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.taskID
}

// SetTaskID records the engine task identifier
func (r *Run) SetTaskID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskID = id
}

// Status returns the run status
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Elapsed returns the wall-clock time since start, frozen once the run ended
func (r *Run) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completedAt != nil {
		return r.completedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// MarkCompleted marks the run as completed
func (r *Run) MarkCompleted() bool {
	return r.finish(StatusCompleted)
}

// MarkTimedOut marks the run as having hit the overall timeout
func (r *Run) MarkTimedOut() bool {
	return r.finish(StatusTimedOut)
}

// MarkFailed marks the run as failed to start
func (r *Run) MarkFailed() bool {
	return r.finish(StatusFailed)
}

// MarkAborted marks the run as aborted by shutdown
func (r *Run) MarkAborted() bool {
	return r.finish(StatusAborted)
}

// finish moves a running record to a terminal status; later calls are ignored
func (r *Run) finish(status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return false
	}
	r.status = status
	now := time.Now().UTC()
	r.completedAt = &now
	return true
}
