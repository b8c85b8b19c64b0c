// Package instance owns one running web application: its identity, readiness,
// activity registration, and window set. An Instance composes an activity
// registrar with a window owner and exposes the lifecycle operations the
// manager drives.
package instance

import (
	"context"
	"fmt"
	"sync"

	"github.com/odvcencio/cardhost/pkg/activity"
	"github.com/odvcencio/cardhost/pkg/bus"
	"github.com/odvcencio/cardhost/pkg/descriptor"
	apperrors "github.com/odvcencio/cardhost/pkg/errors"
	"github.com/odvcencio/cardhost/pkg/logging"
	"github.com/odvcencio/cardhost/pkg/window"
)

// Config carries everything an Instance needs at construction.
type Config struct {
	Description descriptor.Description
	ProcessID   string
	Parameters  string

	// URL overrides the description's entry point when non-empty.
	URL string

	Bus     bus.ServiceBus
	Toolkit window.Toolkit
	Log     *logging.Logger

	// OnReady fires once per Preparing→Ready edge. OnClosed fires exactly
	// once, when the primary window goes away. Both may be nil.
	OnReady  func(*Instance)
	OnClosed func(*Instance)

	// OnActivity observes each terminal activity-registration outcome:
	// err is nil on success, a coded error otherwise. May be nil.
	OnActivity func(i *Instance, err error)

	// OnWindowCount observes live-window count changes (+1/-1 per
	// window). May be nil.
	OnWindowCount func(delta int)
}

// Instance is one running application.
type Instance struct {
	desc       descriptor.Description
	processID  string
	instanceID string
	url        string
	log        *logging.InstanceLogger

	registrar *activity.Registrar
	windows   *window.Owner

	onReady  func(*Instance)
	onClosed func(*Instance)

	mu         sync.Mutex
	parameters string
	ready      bool
	destroyed  bool
}

// New constructs the instance: the primary window synchronously, the
// activity registration fire-and-forget. Window creation failure is fatal;
// registration failure leaves the instance running without a tracked
// activity.
func New(ctx context.Context, cfg Config) (*Instance, error) {
	if err := cfg.Description.Validate(); err != nil {
		return nil, err
	}
	if cfg.ProcessID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "process id is required")
	}
	if cfg.Bus == nil || cfg.Toolkit == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "bus and toolkit are required")
	}

	appID := cfg.Description.ID
	inst := &Instance{
		desc:       cfg.Description,
		processID:  cfg.ProcessID,
		instanceID: appID + "-" + cfg.ProcessID,
		url:        cfg.URL,
		parameters: cfg.Parameters,
		onReady:    cfg.OnReady,
		onClosed:   cfg.OnClosed,
	}
	if inst.url == "" {
		inst.url = cfg.Description.EntryPointURL()
	}
	inst.log = cfg.Log.ForInstance(inst.instanceID, appID)

	inst.windows = window.NewOwner(window.OwnerConfig{
		Toolkit:         cfg.Toolkit,
		Log:             inst.log,
		PrimaryKind:     window.ParseKind(cfg.Description.WindowKind),
		Headless:        cfg.Description.Headless(),
		OnPrimaryClosed: inst.handlePrimaryClosed,
		OnCountChanged:  cfg.OnWindowCount,
	})
	if _, err := inst.windows.CreatePrimary(ctx, inst.url); err != nil {
		return nil, err
	}

	inst.registrar = activity.NewRegistrar(cfg.Bus, inst.log, appID, cfg.ProcessID)
	if cfg.OnActivity != nil {
		onActivity := cfg.OnActivity
		inst.registrar.OnOutcome = func(_ int, err error) {
			onActivity(inst, err)
		}
	}
	inst.registrar.Register(ctx)

	inst.log.Info(logging.CategoryInstance, "created", "application instance created", map[string]any{
		"url":      inst.url,
		"headless": cfg.Description.Headless(),
	})
	return inst, nil
}

// Run presents the primary window. Headless instances never present one.
func (i *Instance) Run(ctx context.Context) error {
	return i.windows.Show(ctx)
}

// Relaunch replaces the launch parameters and notifies the page's runtime
// context. The window is not recreated and readiness is untouched.
func (i *Instance) Relaunch(ctx context.Context, parameters string) error {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return apperrors.New(apperrors.ErrCodeInstanceDestroyed, "instance destroyed")
	}
	i.parameters = parameters
	i.mu.Unlock()

	primary := i.windows.Primary()
	if primary == nil {
		return apperrors.New(apperrors.ErrCodeWindowClosed, "primary window gone")
	}
	i.log.Info(logging.CategoryInstance, "relaunch", "relaunching application", map[string]any{
		"parameters": parameters,
	})
	return primary.ExecuteScript(ctx, fmt.Sprintf("_webOS.relaunch(%q);", parameters))
}

// StagePreparing resets readiness so a later StageReady fires again.
func (i *Instance) StagePreparing() {
	i.mu.Lock()
	i.ready = false
	i.mu.Unlock()
}

// StageReady marks the instance ready, notifying once per Preparing→Ready
// edge.
func (i *Instance) StageReady() {
	i.mu.Lock()
	if i.ready {
		i.mu.Unlock()
		return
	}
	i.ready = true
	i.mu.Unlock()

	i.log.Info(logging.CategoryInstance, "ready", "application stage ready", nil)
	if i.onReady != nil {
		i.onReady(i)
	}
}

// CreateSecondaryWindow spawns a child window for url, shown immediately.
func (i *Instance) CreateSecondaryWindow(ctx context.Context, url string) (window.Window, error) {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrCodeInstanceDestroyed, "instance destroyed")
	}
	i.mu.Unlock()
	return i.windows.CreateSecondary(ctx, url)
}

// SetFocus forwards focus changes to the activity service.
func (i *Instance) SetFocus(ctx context.Context, focus bool) {
	i.registrar.SetFocus(ctx, focus)
}

// Destroy cancels the activity registration, then tears down the windows.
// Safe to call repeatedly and without an established registration.
func (i *Instance) Destroy(ctx context.Context) {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return
	}
	i.destroyed = true
	i.mu.Unlock()

	i.log.Info(logging.CategoryInstance, "destroy", "destroying application instance", nil)
	i.registrar.Cancel(ctx)
	i.windows.CloseAll()
}

// handlePrimaryClosed runs once, when the primary window goes away for any
// reason. Closing the primary is closing the instance.
func (i *Instance) handlePrimaryClosed() {
	i.mu.Lock()
	i.destroyed = true
	i.mu.Unlock()

	i.registrar.Cancel(context.Background())
	i.windows.CloseAll()

	i.log.Info(logging.CategoryInstance, "closed", "application instance closed", nil)
	if i.onClosed != nil {
		i.onClosed(i)
	}
}

// Accessors are pure reads.

func (i *Instance) AppID() string      { return i.desc.ID }
func (i *Instance) ProcessID() string  { return i.processID }
func (i *Instance) InstanceID() string { return i.instanceID }

// Identifier is the bus-facing name, identical to InstanceID.
func (i *Instance) Identifier() string { return i.instanceID }

func (i *Instance) URL() string                         { return i.url }
func (i *Instance) Icon() string                        { return i.desc.IconURL() }
func (i *Instance) Title() string                       { return i.desc.Title }
func (i *Instance) Headless() bool                      { return i.desc.Headless() }
func (i *Instance) Description() descriptor.Description { return i.desc }

// ActivityID returns the assigned activity identifier, or
// activity.UnassignedID before a successful registration reply.
func (i *Instance) ActivityID() int { return i.registrar.ActivityID() }

// Activity exposes the registrar for reply delivery and inspection.
func (i *Instance) Activity() *activity.Registrar { return i.registrar }

// Windows exposes the window owner.
func (i *Instance) Windows() *window.Owner { return i.windows }

func (i *Instance) Ready() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ready
}

func (i *Instance) Parameters() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.parameters
}

func (i *Instance) Destroyed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.destroyed
}
