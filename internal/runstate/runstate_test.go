package runstate

import (
	"strings"
	"testing"
	"time"

	"github.com/iambrandonn/planact/internal/protocol"
)

func TestNewRun(t *testing.T) {
	run := NewRun("add a README", "/tmp/ws", "/tmp/ws/results/add_a_readme.json")

	if !strings.HasPrefix(run.ID, "run-") {
		t.Errorf("ID = %s, want run- prefix", run.ID)
	}
	if run.Task != "add a README" {
		t.Errorf("Task = %s, want %s", run.Task, "add a README")
	}
	if run.Phase() != protocol.ModePlan {
		t.Errorf("Phase = %s, want %s", run.Phase(), protocol.ModePlan)
	}
	if run.Status() != StatusRunning {
		t.Errorf("Status = %s, want %s", run.Status(), StatusRunning)
	}
	if run.StartedAt.IsZero() {
		t.Error("StartedAt is zero")
	}
}

func TestSetPhase(t *testing.T) {
	run := NewRun("task", "/ws", "/ws/results/x.json")

	if err := run.SetPhase(protocol.ModePlan); err != nil {
		t.Errorf("SetPhase(plan) in plan should be a no-op, got %v", err)
	}
	if err := run.SetPhase(protocol.ModeAct); err != nil {
		t.Fatalf("SetPhase(act) error = %v", err)
	}
	if run.Phase() != protocol.ModeAct {
		t.Errorf("Phase = %s, want act", run.Phase())
	}
	if err := run.SetPhase(protocol.ModePlan); err != nil {
		t.Fatalf("SetPhase(plan) error = %v", err)
	}
	if err := run.SetPhase(protocol.Mode("review")); err == nil {
		t.Error("expected error for unknown phase")
	}
}

func TestCanTransitionPhase(t *testing.T) {
	if !CanTransitionPhase(protocol.ModePlan, protocol.ModeAct) {
		t.Fatal("expected plan -> act to be allowed")
	}
	if !CanTransitionPhase(protocol.ModeAct, protocol.ModePlan) {
		t.Fatal("expected act -> plan to be allowed")
	}
	if CanTransitionPhase(protocol.ModeAct, protocol.Mode("")) {
		t.Fatal("expected act -> empty to be disallowed")
	}
}

func TestMarkTerminalOnlyOnce(t *testing.T) {
	run := NewRun("task", "/ws", "/ws/results/x.json")

	if !run.MarkCompleted() {
		t.Fatal("first MarkCompleted should succeed")
	}
	if run.MarkTimedOut() {
		t.Error("MarkTimedOut after completion should be ignored")
	}
	if run.Status() != StatusCompleted {
		t.Errorf("Status = %s, want %s", run.Status(), StatusCompleted)
	}
}

func TestElapsedFreezesOnFinish(t *testing.T) {
	run := NewRun("task", "/ws", "/ws/results/x.json")
	time.Sleep(5 * time.Millisecond)
	run.MarkTimedOut()

	first := run.Elapsed()
	time.Sleep(5 * time.Millisecond)
	if run.Elapsed() != first {
		t.Errorf("Elapsed changed after finish: %v -> %v", first, run.Elapsed())
	}
	if first < 5*time.Millisecond {
		t.Errorf("Elapsed = %v, want >= 5ms", first)
	}
}

func TestTaskID(t *testing.T) {
	run := NewRun("task", "/ws", "/ws/results/x.json")
	if run.TaskID() != "" {
		t.Errorf("TaskID = %q before start, want empty", run.TaskID())
	}
	run.SetTaskID("T-42")
	if run.TaskID() != "T-42" {
		t.Errorf("TaskID = %q, want T-42", run.TaskID())
	}
}
