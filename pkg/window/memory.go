package window

import (
	"context"
	"fmt"
	"sync"
)

// MemoryToolkit is an in-process Toolkit for tests and windowless
// deployments. Windows exist only as bookkeeping: visibility and injected
// scripts are recorded so tests can assert on them, and TriggerClose lets
// tests simulate toolkit-initiated teardown.
type MemoryToolkit struct {
	mu      sync.Mutex
	next    int
	windows map[string]*memoryWindow
	closed  bool

	// CreateErr, when set, fails the next CreateWindow call.
	CreateErr error
}

// NewMemoryToolkit returns an empty in-memory toolkit.
func NewMemoryToolkit() *MemoryToolkit {
	return &MemoryToolkit{windows: make(map[string]*memoryWindow)}
}

// CreateWindow creates a bookkeeping-only window.
func (t *MemoryToolkit) CreateWindow(_ context.Context, cfg Config) (Window, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrToolkitUnavailable
	}
	if t.CreateErr != nil {
		err := t.CreateErr
		t.CreateErr = nil
		return nil, err
	}
	t.next++
	w := &memoryWindow{
		toolkit: t,
		id:      fmt.Sprintf("win-%d", t.next),
		url:     cfg.URL,
		kind:    cfg.Kind,
		onClose: cfg.OnClosed,
	}
	t.windows[w.id] = w
	return w, nil
}

// Close shuts the toolkit down and closes every live window.
func (t *MemoryToolkit) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	windows := make([]*memoryWindow, 0, len(t.windows))
	for _, w := range t.windows {
		windows = append(windows, w)
	}
	t.mu.Unlock()

	for _, w := range windows {
		w.Close()
	}
	return nil
}

// Window returns the live window with the given id, or nil.
func (t *MemoryToolkit) Window(id string) *memoryWindow {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.windows[id]
}

// Live reports the number of windows not yet closed.
func (t *MemoryToolkit) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows)
}

// TriggerClose simulates the toolkit closing a window out from under its
// owner, as a real compositor does when the user dismisses a card.
func (t *MemoryToolkit) TriggerClose(id string) bool {
	t.mu.Lock()
	w := t.windows[id]
	t.mu.Unlock()
	if w == nil {
		return false
	}
	w.Close()
	return true
}

func (t *MemoryToolkit) drop(id string) {
	t.mu.Lock()
	delete(t.windows, id)
	t.mu.Unlock()
}

type memoryWindow struct {
	toolkit *MemoryToolkit
	id      string
	url     string
	kind    Kind
	onClose func(windowID string)

	mu      sync.Mutex
	visible bool
	scripts []string
	closed  bool
}

func (w *memoryWindow) ID() string  { return w.id }
func (w *memoryWindow) URL() string { return w.url }
func (w *memoryWindow) Kind() Kind  { return w.kind }

func (w *memoryWindow) Show(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWindowClosed
	}
	w.visible = true
	return nil
}

func (w *memoryWindow) ExecuteScript(_ context.Context, script string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWindowClosed
	}
	w.scripts = append(w.scripts, script)
	return nil
}

func (w *memoryWindow) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	onClose := w.onClose
	w.mu.Unlock()

	w.toolkit.drop(w.id)
	if onClose != nil {
		onClose(w.id)
	}
	return nil
}

// Visible reports whether Show has been called on the window.
func (w *memoryWindow) Visible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

// Scripts returns every script injected into the window, in order.
func (w *memoryWindow) Scripts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.scripts))
	copy(out, w.scripts)
	return out
}

// Closed reports whether the window has been torn down.
func (w *memoryWindow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
