package engine

import (
	"log/slog"
	"sync"

	"github.com/iambrandonn/planact/internal/protocol"
)

// Subscriber receives the engine's streamed output.
// Either callback may be nil.
type Subscriber struct {
	Name            string
	OnMessage       func(msg protocol.Message)
	OnModelResponse func(resp protocol.ModelResponse)
}

// Hub delivers streamed output to subscribers in registration order.
// Each publish runs every callback to completion before the next publish starts.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*hubEntry
	nextID uint64

	dispatchMu sync.Mutex
}

type hubEntry struct {
	id  uint64
	sub Subscriber
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger}
}

// Subscribe appends sub to the delivery order
func (h *Hub) Subscribe(sub Subscriber) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, &hubEntry{id: id, sub: sub})
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "subscriber", sub.Name)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, e := range h.subs {
				if e.id == id {
					h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
					break
				}
			}
			h.logger.Debug("subscriber removed", "subscriber", sub.Name)
		})
	}
}

// Len returns the number of subscribers
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// PublishMessage delivers a UI message to every subscriber
func (h *Hub) PublishMessage(msg protocol.Message) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()

	for _, e := range h.snapshot() {
		if e.sub.OnMessage != nil {
			e.sub.OnMessage(msg)
		}
	}
}

// PublishModelResponse delivers a captured model response to every subscriber
func (h *Hub) PublishModelResponse(resp protocol.ModelResponse) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()

	for _, e := range h.snapshot() {
		if e.sub.OnModelResponse != nil {
			e.sub.OnModelResponse(resp)
		}
	}
}

func (h *Hub) snapshot() []*hubEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*hubEntry(nil), h.subs...)
}
