// Package window owns the presentation surfaces of one application instance:
// a primary window created at instance construction plus any secondary
// windows spawned by in-page navigation. The rendering toolkit itself sits
// behind the Toolkit interface; this package only tracks ownership, headless
// policy, and close propagation.
package window

import (
	"context"
	"errors"
)

var (
	ErrToolkitUnavailable = errors.New("window toolkit unavailable")
	ErrWindowClosed       = errors.New("window closed")
	ErrPrimaryExists      = errors.New("primary window already exists")
)

// Kind identifies the presentation style of a window.
type Kind string

const (
	KindCard      Kind = "card"
	KindPopup     Kind = "popup"
	KindDashboard Kind = "dashboard"
)

// ParseKind maps a descriptor window-type string to a Kind. Unknown or
// empty values fall back to KindCard.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindPopup:
		return KindPopup
	case KindDashboard:
		return KindDashboard
	default:
		return KindCard
	}
}

// Config configures a window at creation.
type Config struct {
	URL      string
	Kind     Kind
	Headless bool

	// OnClosed is invoked exactly once when the window is torn down,
	// whether by the toolkit, the page, or Close. May be nil.
	OnClosed func(windowID string)
}

// Window is one presentation surface.
type Window interface {
	ID() string
	URL() string

	// Show makes the window visible. Showing an already-visible window
	// is a no-op.
	Show(ctx context.Context) error

	// ExecuteScript injects a script into the window's page runtime.
	ExecuteScript(ctx context.Context, script string) error

	// Close tears the window down.
	Close() error
}

// Toolkit creates windows on a rendering backend.
type Toolkit interface {
	CreateWindow(ctx context.Context, cfg Config) (Window, error)
	Close() error
}
