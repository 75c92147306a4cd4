// Package timers keeps named one-shot and periodic callbacks that can be
// cancelled together when a run ends.
package timers

import (
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	stop func()
}

// Registry owns the timers of one run.
// Registering a name that is already pending replaces the earlier timer.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	stopped bool
	logger  *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// After runs fn once after d. It returns false if the registry is stopped.
func (r *Registry) After(name string, d time.Duration, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		r.logger.Debug("timer registration after stop ignored", "timer", name)
		return false
	}
	r.cancelLocked(name)

	e := &entry{}
	t := time.AfterFunc(d, func() {
		if !r.release(name, e) {
			return
		}
		fn()
	})
	e.stop = func() { t.Stop() }
	r.entries[name] = e
	return true
}

// Every runs fn every d until cancelled. It returns false if the registry is stopped.
func (r *Registry) Every(name string, d time.Duration, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		r.logger.Debug("timer registration after stop ignored", "timer", name)
		return false
	}
	r.cancelLocked(name)

	done := make(chan struct{})
	var once sync.Once
	e := &entry{stop: func() { once.Do(func() { close(done) }) }}
	r.entries[name] = e

	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// A tick racing with cancellation must not fire.
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()
	return true
}

// Cancel stops the named timer. It reports whether a timer was pending.
func (r *Registry) Cancel(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cancelLocked(name)
}

// CancelAll stops every pending timer and returns how many were cancelled.
// The registry remains usable.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelAllLocked()
}

func (r *Registry) cancelAllLocked() int {
	n := len(r.entries)
	for name := range r.entries {
		r.cancelLocked(name)
	}
	if n > 0 {
		r.logger.Debug("cancelled timers", "count", n)
	}
	return n
}

// Stop cancels every timer and rejects later registrations
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	r.cancelAllLocked()
}

// Pending returns the number of registered timers
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func (r *Registry) cancelLocked(name string) bool {
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	e.stop()
	delete(r.entries, name)
	return true
}

// release removes a fired one-shot entry. It returns false if the entry was
// cancelled or replaced before the callback got the lock.
func (r *Registry) release(name string, e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[name] != e {
		return false
	}
	delete(r.entries, name)
	return true
}
