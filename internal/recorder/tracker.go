package recorder

import (
	"maps"
	"sync"

	"github.com/iambrandonn/planact/internal/classifier"
)

// ToolTracker counts tool invocations and failures per tool name.
// A logical message (identified by its ts) is counted at most once.
type ToolTracker struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int
	seen     map[seenKey]struct{}
}

type seenKey struct {
	id      int64
	failure bool
}

// NewToolTracker creates an empty tracker
func NewToolTracker() *ToolTracker {
	return &ToolTracker{
		calls:    make(map[string]int),
		failures: make(map[string]int),
		seen:     make(map[seenKey]struct{}),
	}
}

// Observe counts evt if it is a final tool invocation or tool failure
func (t *ToolTracker) Observe(evt classifier.Event) {
	if !evt.Final() {
		return
	}

	if name, ok := classifier.ToolName(evt); ok {
		t.count(seenKey{id: evt.ID}, t.calls, name)
	}
	if name, ok := classifier.FailedTool(evt); ok {
		t.count(seenKey{id: evt.ID, failure: true}, t.failures, name)
	}
}

func (t *ToolTracker) count(key seenKey, counts map[string]int, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.seen[key]; dup {
		return
	}
	t.seen[key] = struct{}{}
	counts[name]++
}

// Calls returns a copy of the per-tool call counts
func (t *ToolTracker) Calls() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.calls)
}

// Failures returns a copy of the per-tool failure counts
func (t *ToolTracker) Failures() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.failures)
}

// SuccessRate is the share of calls that did not fail, clamped to [0, 1].
// It is 0 when there were no calls.
func SuccessRate(calls, failures int) float64 {
	if calls <= 0 {
		return 0
	}
	rate := float64(calls-failures) / float64(calls)
	switch {
	case rate < 0:
		return 0
	case rate > 1:
		return 1
	}
	return rate
}

func sum(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
