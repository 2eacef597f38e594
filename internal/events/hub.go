// Package events provides the observable event feed of the sync core:
// session completions, conflict detections, and connectivity transitions.
package events

import (
	"sync"

	"github.com/offsitehq/fieldsync/internal/models"
)

// Type identifies an event kind.
type Type string

const (
	// TypeSyncCompleted fires after every sync session with its full result.
	TypeSyncCompleted Type = "sync.completed"
	// TypeConflictDetected fires when a conflict is created, before resolution.
	TypeConflictDetected Type = "sync.conflict_detected"
	// TypeConnectivityChanged fires on every online/offline transition.
	TypeConnectivityChanged Type = "connectivity.changed"
)

// Event is one published notification.
type Event struct {
	Type      Type                   `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// Handler consumes published events. Handlers run on the hub's dispatch
// goroutine and must not block.
type Handler func(Event)

// Hub fans events out to subscribed handlers. Publishing never blocks
// the caller; a full buffer drops the event rather than stalling a sync.
type Hub struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewHub creates a running hub.
func NewHub() *Hub {
	h := &Hub{
		handlers: make(map[int]Handler),
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return
		case ev := <-h.events:
			h.mu.RLock()
			for _, handler := range h.handlers {
				handler(ev)
			}
			h.mu.RUnlock()
		}
	}
}

// Subscribe registers a handler and returns its unsubscribe function.
func (h *Hub) Subscribe(handler Handler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.handlers[id] = handler
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.handlers, id)
		h.mu.Unlock()
	}
}

// Publish queues an event for dispatch.
func (h *Hub) Publish(t Type, data map[string]interface{}) {
	ev := Event{Type: t, Data: data, Timestamp: models.NowMillis()}
	select {
	case h.events <- ev:
	default:
		// Buffer full; the feed is advisory, never back-pressure sync.
	}
}

// Close stops the dispatch goroutine.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}
