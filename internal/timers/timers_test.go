package timers

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAfterFiresOnce(t *testing.T) {
	r := newTestRegistry()
	fired := make(chan struct{}, 2)

	require.True(t, r.After("approve", 5*time.Millisecond, func() { fired <- struct{}{} }))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	assert.Eventually(t, func() bool { return r.Pending() == 0 }, time.Second, 5*time.Millisecond)

	select {
	case <-fired:
		t.Fatal("one-shot timer fired twice")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestCancelPreventsFire(t *testing.T) {
	r := newTestRegistry()
	var fired atomic.Bool

	r.After("approve", 20*time.Millisecond, func() { fired.Store(true) })
	assert.True(t, r.Cancel("approve"))
	assert.False(t, r.Cancel("approve"))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestSameNameReplaces(t *testing.T) {
	r := newTestRegistry()
	var first, second atomic.Int32

	r.After("approve", 20*time.Millisecond, func() { first.Add(1) })
	r.After("approve", 20*time.Millisecond, func() { second.Add(1) })
	assert.Equal(t, 1, r.Pending())

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestEveryTicksUntilCancelled(t *testing.T) {
	r := newTestRegistry()
	var ticks atomic.Int32

	require.True(t, r.Every("blind", 5*time.Millisecond, func() { ticks.Add(1) }))
	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, r.CancelAll())
	// allow an in-flight callback to finish
	time.Sleep(20 * time.Millisecond)
	settled := ticks.Load()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, settled, ticks.Load())
}

func TestStopRejectsLaterRegistrations(t *testing.T) {
	r := newTestRegistry()
	var fired atomic.Bool

	r.After("a", time.Hour, func() {})
	r.Every("b", time.Hour, func() {})
	r.Stop()

	assert.Equal(t, 0, r.Pending())
	assert.False(t, r.After("late", time.Millisecond, func() { fired.Store(true) }))
	assert.False(t, r.Every("late", time.Millisecond, func() { fired.Store(true) }))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestCancelAllKeepsRegistryUsable(t *testing.T) {
	r := newTestRegistry()
	fired := make(chan struct{}, 1)

	r.After("a", time.Hour, func() {})
	assert.Equal(t, 1, r.CancelAll())

	require.True(t, r.After("b", time.Millisecond, func() { fired <- struct{}{} }))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer registered after CancelAll did not fire")
	}
}

func TestStopRacingRegistrationsLeavesNothingPending(t *testing.T) {
	for round := 0; round < 50; round++ {
		r := newTestRegistry()
		var fired atomic.Int32

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				for j := 0; j < 20; j++ {
					r.After(fmt.Sprintf("t-%d-%d", i, j), 5*time.Millisecond, func() { fired.Add(1) })
				}
			}(i)
		}

		close(start)
		r.Stop()
		wg.Wait()

		require.Equal(t, 0, r.Pending(), "round %d", round)
		time.Sleep(10 * time.Millisecond)
		require.Zero(t, fired.Load(), "round %d", round)
	}
}
