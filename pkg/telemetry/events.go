package telemetry

import (
	"sync"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventInstanceLaunched   EventType = "instance.launched"
	EventInstanceReady      EventType = "instance.ready"
	EventInstanceRelaunched EventType = "instance.relaunched"
	EventInstanceFocused    EventType = "instance.focused"
	EventInstanceClosed     EventType = "instance.closed"
	EventInstanceDestroyed  EventType = "instance.destroyed"
	EventActivityRegistered EventType = "activity.registered"
	EventActivityFailed     EventType = "activity.failed"
	EventAppsChanged        EventType = "apps.changed"
)

// Event describes an instance lifecycle change that UIs and API clients can
// consume.
type Event struct {
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instanceId,omitempty"`
	AppID      string         `json:"appId,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Hub fans out lifecycle events to any number of subscribers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewHub constructs an event hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]struct{})}
}

// Publish notifies all subscribers of an event. Non-blocking; drops if a
// subscriber's buffer is full.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			// Drop rather than stall instance lifecycle handling.
		}
	}
}

// Subscribe returns a channel receiving future events and a cleanup func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan Event)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan Event, 64)
	h.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Close unsubscribes all listeners and prevents future publications.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, ch)
	}
}
