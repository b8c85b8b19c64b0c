package window

import (
	"context"
	"sync"

	apperrors "github.com/odvcencio/cardhost/pkg/errors"
	"github.com/odvcencio/cardhost/pkg/logging"
)

// Owner tracks every window belonging to one application instance: the
// primary window plus any secondaries. The headless flag applies to the
// primary only; secondaries are always created visible.
type Owner struct {
	toolkit     Toolkit
	log         *logging.InstanceLogger
	primaryKind Kind
	headless    bool

	mu          sync.Mutex
	primary     Window
	secondaries map[string]Window
	closed      bool

	primaryClosedOnce sync.Once
	onPrimaryClosed   func()
	onCountChanged    func(delta int)
}

// OwnerConfig configures an Owner.
type OwnerConfig struct {
	Toolkit Toolkit
	Log     *logging.InstanceLogger

	// PrimaryKind is the presentation style of the primary window.
	// Empty means KindCard. Secondaries are always cards.
	PrimaryKind Kind

	// Headless suppresses the primary window's initial visibility.
	Headless bool

	// OnPrimaryClosed is invoked at most once, when the primary window
	// goes away for any reason. May be nil.
	OnPrimaryClosed func()

	// OnCountChanged observes the number of live windows: +1 per window
	// created, -1 per window torn down. May be nil.
	OnCountChanged func(delta int)
}

// NewOwner returns an Owner creating windows per cfg.
func NewOwner(cfg OwnerConfig) *Owner {
	kind := cfg.PrimaryKind
	if kind == "" {
		kind = KindCard
	}
	return &Owner{
		toolkit:         cfg.Toolkit,
		log:             cfg.Log,
		primaryKind:     kind,
		headless:        cfg.Headless,
		secondaries:     make(map[string]Window),
		onPrimaryClosed: cfg.OnPrimaryClosed,
		onCountChanged:  cfg.OnCountChanged,
	}
}

// Headless reports whether the primary window is suppressed.
func (o *Owner) Headless() bool { return o.headless }

// CreatePrimary creates the instance's primary window loading url. It is
// created hidden; Show reveals it unless the owner is headless.
func (o *Owner) CreatePrimary(ctx context.Context, url string) (Window, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrWindowClosed
	}
	if o.primary != nil {
		o.mu.Unlock()
		return nil, ErrPrimaryExists
	}
	o.mu.Unlock()

	win, err := o.toolkit.CreateWindow(ctx, Config{
		URL:      url,
		Kind:     o.primaryKind,
		Headless: o.headless,
		OnClosed: func(string) { o.notifyPrimaryClosed() },
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeWindowCreate, "create primary window")
	}

	o.mu.Lock()
	o.primary = win
	o.mu.Unlock()
	o.countChanged(1)

	o.log.Info(logging.CategoryWindow, "primary_created", "primary window created", map[string]any{
		"window_id": win.ID(),
		"url":       url,
		"kind":      string(o.primaryKind),
		"headless":  o.headless,
	})
	return win, nil
}

// CreateSecondary creates a child window loading url. Secondaries are
// always card windows shown immediately, regardless of the owner's
// headless flag.
func (o *Owner) CreateSecondary(ctx context.Context, url string) (Window, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrWindowClosed
	}
	o.mu.Unlock()

	win, err := o.toolkit.CreateWindow(ctx, Config{
		URL:      url,
		Kind:     KindCard,
		Headless: false,
		OnClosed: o.dropSecondary,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeWindowCreate, "create secondary window")
	}
	if err := win.Show(ctx); err != nil {
		win.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeWindowCreate, "show secondary window")
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		win.Close()
		return nil, ErrWindowClosed
	}
	o.secondaries[win.ID()] = win
	o.mu.Unlock()
	o.countChanged(1)

	o.log.Info(logging.CategoryWindow, "secondary_created", "secondary window created", map[string]any{
		"window_id": win.ID(),
		"url":       url,
	})
	return win, nil
}

// Show reveals the primary window. Headless owners treat this as a no-op.
func (o *Owner) Show(ctx context.Context) error {
	o.mu.Lock()
	win := o.primary
	o.mu.Unlock()

	if win == nil {
		return ErrWindowClosed
	}
	if o.headless {
		o.log.Debug(logging.CategoryWindow, "show_suppressed", "show ignored for headless primary", nil)
		return nil
	}
	return win.Show(ctx)
}

// Primary returns the primary window, or nil if none exists.
func (o *Owner) Primary() Window {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.primary
}

// Secondaries returns a snapshot of the live secondary windows.
func (o *Owner) Secondaries() []Window {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Window, 0, len(o.secondaries))
	for _, w := range o.secondaries {
		out = append(out, w)
	}
	return out
}

// CloseAll tears down every window: secondaries first, then the primary.
// It is idempotent.
func (o *Owner) CloseAll() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	secondaries := make([]Window, 0, len(o.secondaries))
	for _, w := range o.secondaries {
		secondaries = append(secondaries, w)
	}
	o.secondaries = make(map[string]Window)
	primary := o.primary
	o.primary = nil
	o.mu.Unlock()
	o.countChanged(-len(secondaries))

	// Close callbacks can fire synchronously, so all closing happens
	// outside the lock.
	for _, w := range secondaries {
		if err := w.Close(); err != nil {
			o.log.Warn(logging.CategoryWindow, "close_failed", "secondary close failed", map[string]any{
				"window_id": w.ID(),
				"error":     err.Error(),
			})
		}
	}
	if primary != nil {
		if err := primary.Close(); err != nil {
			o.log.Warn(logging.CategoryWindow, "close_failed", "primary close failed", map[string]any{
				"window_id": primary.ID(),
				"error":     err.Error(),
			})
		}
	}
}

func (o *Owner) dropSecondary(windowID string) {
	o.mu.Lock()
	_, tracked := o.secondaries[windowID]
	delete(o.secondaries, windowID)
	o.mu.Unlock()
	// CloseAll untracks secondaries before closing them and accounts for
	// the count itself; only a still-tracked window is counted here.
	if tracked {
		o.countChanged(-1)
	}
	o.log.Debug(logging.CategoryWindow, "secondary_closed", "secondary window closed", map[string]any{
		"window_id": windowID,
	})
}

func (o *Owner) notifyPrimaryClosed() {
	o.primaryClosedOnce.Do(func() {
		o.mu.Lock()
		o.primary = nil
		o.mu.Unlock()
		o.countChanged(-1)
		o.log.Info(logging.CategoryWindow, "primary_closed", "primary window closed", nil)
		if o.onPrimaryClosed != nil {
			o.onPrimaryClosed()
		}
	})
}

func (o *Owner) countChanged(delta int) {
	if delta != 0 && o.onCountChanged != nil {
		o.onCountChanged(delta)
	}
}
