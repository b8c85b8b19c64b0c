package luna

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/odvcencio/cardhost/pkg/window"
)

// Toolkit implements window.Toolkit against a running compositor daemon.
type Toolkit struct {
	config Config
	client *client

	mu       sync.Mutex
	onClosed map[string]func(windowID string)
	closed   bool
}

// NewToolkit dials the compositor socket and starts the event pump.
func NewToolkit(cfg Config) (*Toolkit, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := net.DialTimeout("unix", cfg.SocketPath, cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial compositor: %w", err)
	}
	t := &Toolkit{
		config:   cfg,
		onClosed: make(map[string]func(string)),
	}
	t.client = newClient(conn, t.handleEvent)
	return t, nil
}

// newToolkitConn wires a toolkit onto an existing connection, for tests.
func newToolkitConn(cfg Config, conn net.Conn) *Toolkit {
	t := &Toolkit{
		config:   cfg.withDefaults(),
		onClosed: make(map[string]func(string)),
	}
	t.client = newClient(conn, t.handleEvent)
	return t
}

type createWindowParams struct {
	URL    string `json:"url"`
	Kind   string `json:"kind"`
	Hidden bool   `json:"hidden"`
}

type createWindowResult struct {
	WindowID string `json:"windowId"`
}

type windowParams struct {
	WindowID string `json:"windowId"`
}

type scriptParams struct {
	WindowID string `json:"windowId"`
	Script   string `json:"script"`
}

type windowClosedEvent struct {
	WindowID string `json:"windowId"`
}

// CreateWindow asks the compositor for a new surface. Headless windows are
// created hidden and stay that way until shown.
func (t *Toolkit) CreateWindow(ctx context.Context, cfg window.Config) (window.Window, error) {
	ctx, cancel := t.opContext(ctx)
	defer cancel()

	kind := cfg.Kind
	if kind == "" {
		kind = window.KindCard
	}
	result, err := t.client.call(ctx, "create_window", createWindowParams{
		URL:    cfg.URL,
		Kind:   string(kind),
		Hidden: true,
	})
	if err != nil {
		return nil, err
	}
	var created createWindowResult
	if err := json.Unmarshal(result, &created); err != nil {
		return nil, fmt.Errorf("decode create_window result: %w", err)
	}
	if created.WindowID == "" {
		return nil, fmt.Errorf("compositor returned empty window id")
	}

	t.mu.Lock()
	if cfg.OnClosed != nil {
		t.onClosed[created.WindowID] = cfg.OnClosed
	}
	t.mu.Unlock()

	return &lunaWindow{toolkit: t, id: created.WindowID, url: cfg.URL}, nil
}

// Close drops the compositor connection. Windows on the far end outlive us.
func (t *Toolkit) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.client.close()
}

func (t *Toolkit) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.config.OperationTimeout)
}

func (t *Toolkit) handleEvent(name string, params json.RawMessage) {
	if name != "window_closed" {
		return
	}
	var ev windowClosedEvent
	if err := json.Unmarshal(params, &ev); err != nil || ev.WindowID == "" {
		return
	}
	t.fireClosed(ev.WindowID)
}

// fireClosed runs the close observer for a window at most once.
func (t *Toolkit) fireClosed(windowID string) {
	t.mu.Lock()
	cb := t.onClosed[windowID]
	delete(t.onClosed, windowID)
	t.mu.Unlock()
	if cb != nil {
		cb(windowID)
	}
}

type lunaWindow struct {
	toolkit *Toolkit
	id      string
	url     string
}

func (w *lunaWindow) ID() string  { return w.id }
func (w *lunaWindow) URL() string { return w.url }

func (w *lunaWindow) Show(ctx context.Context) error {
	ctx, cancel := w.toolkit.opContext(ctx)
	defer cancel()
	_, err := w.toolkit.client.call(ctx, "show_window", windowParams{WindowID: w.id})
	return err
}

func (w *lunaWindow) ExecuteScript(ctx context.Context, script string) error {
	ctx, cancel := w.toolkit.opContext(ctx)
	defer cancel()
	_, err := w.toolkit.client.call(ctx, "execute_script", scriptParams{WindowID: w.id, Script: script})
	return err
}

func (w *lunaWindow) Close() error {
	ctx, cancel := w.toolkit.opContext(context.Background())
	defer cancel()
	_, err := w.toolkit.client.call(ctx, "close_window", windowParams{WindowID: w.id})
	w.toolkit.fireClosed(w.id)
	return err
}
