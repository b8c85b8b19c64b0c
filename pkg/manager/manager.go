// Package manager is the application-manager façade: it launches, tracks,
// and destroys application instances and fans their lifecycle out to
// subscribers.
package manager

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/cardhost/pkg/bus"
	"github.com/odvcencio/cardhost/pkg/descriptor"
	apperrors "github.com/odvcencio/cardhost/pkg/errors"
	"github.com/odvcencio/cardhost/pkg/instance"
	"github.com/odvcencio/cardhost/pkg/logging"
	"github.com/odvcencio/cardhost/pkg/storage"
	"github.com/odvcencio/cardhost/pkg/telemetry"
	"github.com/odvcencio/cardhost/pkg/window"
)

// Config wires the manager's collaborators. Bus, Toolkit, and Apps are
// required; Store, Hub, and Metrics are optional.
type Config struct {
	Bus     bus.ServiceBus
	Toolkit window.Toolkit
	Apps    *descriptor.Registry
	Store   *storage.Store
	Log     *logging.Logger
	Hub     *telemetry.Hub
	Metrics *telemetry.Metrics
}

// Manager owns the set of live application instances.
type Manager struct {
	config Config
	hub    *telemetry.Hub

	nextProcess atomic.Uint64

	mu        sync.Mutex
	instances map[string]*instance.Instance
	shutdown  bool
}

// New constructs a manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Bus == nil || cfg.Toolkit == nil || cfg.Apps == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "bus, toolkit, and app registry are required")
	}
	hub := cfg.Hub
	if hub == nil {
		hub = telemetry.NewHub()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewMetrics(telemetry.NewRegistry())
	}
	return &Manager{
		config:    cfg,
		hub:       hub,
		instances: make(map[string]*instance.Instance),
	}, nil
}

// Hub returns the lifecycle event hub.
func (m *Manager) Hub() *telemetry.Hub { return m.hub }

// Launch starts the application registered under appID.
func (m *Manager) Launch(ctx context.Context, appID, parameters string) (*instance.Instance, error) {
	desc, ok := m.config.Apps.Get(appID)
	if !ok {
		m.config.Metrics.LaunchFailuresTotal.Inc()
		return nil, apperrors.New(apperrors.ErrCodeDescriptorNotFound, "unknown application "+appID)
	}
	return m.LaunchDescription(ctx, desc, parameters)
}

// LaunchDescription starts an application from an explicit description,
// bypassing the registry.
func (m *Manager) LaunchDescription(ctx context.Context, desc descriptor.Description, parameters string) (*instance.Instance, error) {
	ctx, span := telemetry.StartSpan(ctx, "manager.Launch")
	defer span.End()
	span.SetAttributes(telemetry.AttrAppID.String(desc.ID))

	processID := strconv.FormatUint(m.nextProcess.Add(1), 10)
	instanceID := desc.ID + "-" + processID

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrCodeInternal, "manager shut down")
	}
	if _, exists := m.instances[instanceID]; exists {
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrCodeInstanceDuplicate, "instance "+instanceID+" already live")
	}
	m.mu.Unlock()

	inst, err := instance.New(ctx, instance.Config{
		Description: desc,
		ProcessID:   processID,
		Parameters:  parameters,
		Bus:         m.config.Bus,
		Toolkit:     m.config.Toolkit,
		Log:         m.config.Log,
		OnReady:     m.handleReady,
		OnClosed:    m.handleClosed,
		OnActivity:  m.handleActivity,
		OnWindowCount: func(delta int) {
			m.config.Metrics.WindowsOpen.Add(int64(delta))
		},
	})
	if err != nil {
		m.config.Metrics.LaunchFailuresTotal.Inc()
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	m.mu.Lock()
	m.instances[instanceID] = inst
	m.mu.Unlock()

	span.SetAttributes(
		telemetry.AttrInstanceID.String(instanceID),
		telemetry.AttrProcessID.String(processID),
	)

	m.config.Metrics.LaunchesTotal.Inc()
	m.config.Metrics.InstancesActive.Inc()
	if m.config.Store != nil {
		if err := m.config.Store.RecordLaunch(storage.LaunchRecord{
			InstanceID: instanceID,
			AppID:      desc.ID,
			ProcessID:  processID,
			Parameters: parameters,
			LaunchedAt: time.Now(),
		}); err != nil {
			m.config.Log.Warn(logging.CategoryManager, "history_write_failed", "launch history write failed", map[string]any{
				"instance_id": instanceID,
				"error":       err.Error(),
			})
		}
	}

	m.config.Log.Info(logging.CategoryManager, "launched", "application launched", map[string]any{
		"instance_id": instanceID,
		"app_id":      desc.ID,
	})
	m.hub.Publish(telemetry.Event{
		Type:       telemetry.EventInstanceLaunched,
		InstanceID: instanceID,
		AppID:      desc.ID,
	})

	if err := inst.Run(ctx); err != nil {
		m.config.Log.Warn(logging.CategoryManager, "run_failed", "primary window show failed", map[string]any{
			"instance_id": instanceID,
			"error":       err.Error(),
		})
	}
	return inst, nil
}

// Destroy tears down the instance with the given id.
func (m *Manager) Destroy(ctx context.Context, instanceID string) error {
	ctx, span := telemetry.StartSpan(ctx, "manager.Destroy")
	defer span.End()
	span.SetAttributes(telemetry.AttrInstanceID.String(instanceID))

	inst, ok := m.Get(instanceID)
	if !ok {
		err := apperrors.New(apperrors.ErrCodeInstanceNotFound, "no instance "+instanceID)
		telemetry.RecordError(ctx, err)
		return err
	}

	inst.Destroy(ctx)
	m.hub.Publish(telemetry.Event{
		Type:       telemetry.EventInstanceDestroyed,
		InstanceID: instanceID,
		AppID:      inst.AppID(),
	})
	return nil
}

// Get returns the live instance with the given id.
func (m *Manager) Get(instanceID string) (*instance.Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceID]
	return inst, ok
}

// List returns every live instance, ordered by instance id.
func (m *Manager) List() []*instance.Instance {
	m.mu.Lock()
	out := make([]*instance.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID() < out[j].InstanceID() })
	return out
}

// Relaunch delivers new parameters to a running instance.
func (m *Manager) Relaunch(ctx context.Context, instanceID, parameters string) error {
	inst, ok := m.Get(instanceID)
	if !ok {
		return apperrors.New(apperrors.ErrCodeInstanceNotFound, "no instance "+instanceID)
	}
	if err := inst.Relaunch(ctx, parameters); err != nil {
		return err
	}
	m.config.Metrics.RelaunchesTotal.Inc()
	if m.config.Store != nil {
		if err := m.config.Store.UpdateParameters(instanceID, parameters); err != nil {
			m.config.Log.Warn(logging.CategoryManager, "history_write_failed", "parameter update failed", map[string]any{
				"instance_id": instanceID,
				"error":       err.Error(),
			})
		}
	}
	m.hub.Publish(telemetry.Event{
		Type:       telemetry.EventInstanceRelaunched,
		InstanceID: instanceID,
		AppID:      inst.AppID(),
		Data:       map[string]any{"parameters": parameters},
	})
	return nil
}

// SetFocus forwards a focus change to a running instance.
func (m *Manager) SetFocus(ctx context.Context, instanceID string, focus bool) error {
	inst, ok := m.Get(instanceID)
	if !ok {
		return apperrors.New(apperrors.ErrCodeInstanceNotFound, "no instance "+instanceID)
	}
	inst.SetFocus(ctx, focus)
	m.config.Metrics.FocusChangesTotal.Inc()
	m.hub.Publish(telemetry.Event{
		Type:       telemetry.EventInstanceFocused,
		InstanceID: instanceID,
		AppID:      inst.AppID(),
		Data:       map[string]any{"focus": focus},
	})
	return nil
}

// Subscribe returns a lifecycle event channel and its cleanup func.
func (m *Manager) Subscribe() (<-chan telemetry.Event, func()) {
	return m.hub.Subscribe()
}

// Shutdown destroys every live instance and refuses new launches.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.shutdown = true
	live := make([]*instance.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		live = append(live, inst)
	}
	m.mu.Unlock()

	for _, inst := range live {
		inst.Destroy(ctx)
	}
	m.config.Log.Info(logging.CategoryManager, "shutdown", "manager shut down", map[string]any{
		"instances_closed": len(live),
	})
}

// handleActivity observes terminal activity-registration outcomes.
func (m *Manager) handleActivity(inst *instance.Instance, err error) {
	if err != nil {
		m.config.Metrics.ActivityFailures.Inc()
		m.hub.Publish(telemetry.Event{
			Type:       telemetry.EventActivityFailed,
			InstanceID: inst.InstanceID(),
			AppID:      inst.AppID(),
			Data:       map[string]any{"error": err.Error()},
		})
		return
	}
	m.config.Metrics.ActivityRegistered.Inc()
	m.hub.Publish(telemetry.Event{
		Type:       telemetry.EventActivityRegistered,
		InstanceID: inst.InstanceID(),
		AppID:      inst.AppID(),
		Data:       map[string]any{"activityId": inst.ActivityID()},
	})
}

func (m *Manager) handleReady(inst *instance.Instance) {
	m.hub.Publish(telemetry.Event{
		Type:       telemetry.EventInstanceReady,
		InstanceID: inst.InstanceID(),
		AppID:      inst.AppID(),
	})
}

// handleClosed runs exactly once per instance, whatever closed it.
func (m *Manager) handleClosed(inst *instance.Instance) {
	m.mu.Lock()
	_, live := m.instances[inst.InstanceID()]
	delete(m.instances, inst.InstanceID())
	m.mu.Unlock()
	if !live {
		return
	}

	m.config.Metrics.InstancesActive.Dec()
	if m.config.Store != nil {
		if err := m.config.Store.RecordClose(inst.InstanceID(), time.Now()); err != nil {
			m.config.Log.Warn(logging.CategoryManager, "history_write_failed", "close history write failed", map[string]any{
				"instance_id": inst.InstanceID(),
				"error":       err.Error(),
			})
		}
	}
	m.config.Log.Info(logging.CategoryManager, "closed", "application instance closed", map[string]any{
		"instance_id": inst.InstanceID(),
	})
	m.hub.Publish(telemetry.Event{
		Type:       telemetry.EventInstanceClosed,
		InstanceID: inst.InstanceID(),
		AppID:      inst.AppID(),
	})
}
