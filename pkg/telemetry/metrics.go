// Package telemetry carries the runtime's in-process metrics and lifecycle
// event fan-out. The API layer bridges the registry to Prometheus.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// MetricType identifies the kind of metric.
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

// Labels represents a set of dimensional labels for metrics.
type Labels map[string]string

// String returns a stable representation of labels for map keys.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := ""
	for i, k := range keys {
		if i > 0 {
			result += ","
		}
		result += fmt.Sprintf("%s=%s", k, l[k])
	}
	return result
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	labels Labels
	value  atomic.Int64
}

// NewCounter creates a counter with the given name and labels.
func NewCounter(name string, labels Labels) *Counter {
	if labels == nil {
		labels = Labels{}
	}
	return &Counter{name: name, labels: labels}
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Type() MetricType { return MetricTypeCounter }
func (c *Counter) Labels() Labels   { return c.labels }

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	if c == nil {
		return
	}
	c.value.Add(1)
}

// Add adds delta to the counter. Negative deltas are ignored.
func (c *Counter) Add(delta int64) {
	if c == nil || delta < 0 {
		return
	}
	c.value.Add(delta)
}

// Get returns the current value.
func (c *Counter) Get() int64 {
	if c == nil {
		return 0
	}
	return c.value.Load()
}

// MarshalJSON implements json.Marshaler.
func (c *Counter) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"name":   c.name,
		"type":   c.Type(),
		"labels": c.labels,
		"value":  c.Get(),
	})
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	name   string
	labels Labels
	value  atomic.Int64
}

// NewGauge creates a gauge with the given name and labels.
func NewGauge(name string, labels Labels) *Gauge {
	if labels == nil {
		labels = Labels{}
	}
	return &Gauge{name: name, labels: labels}
}

func (g *Gauge) Name() string     { return g.name }
func (g *Gauge) Type() MetricType { return MetricTypeGauge }
func (g *Gauge) Labels() Labels   { return g.labels }

// Set sets the gauge to value.
func (g *Gauge) Set(value int64) {
	if g == nil {
		return
	}
	g.value.Store(value)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	if g == nil {
		return
	}
	g.value.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	if g == nil {
		return
	}
	g.value.Add(-1)
}

// Add adjusts the gauge by delta, which may be negative.
func (g *Gauge) Add(delta int64) {
	if g == nil {
		return
	}
	g.value.Add(delta)
}

// Get returns the current value.
func (g *Gauge) Get() int64 {
	if g == nil {
		return 0
	}
	return g.value.Load()
}

// MarshalJSON implements json.Marshaler.
func (g *Gauge) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"name":   g.name,
		"type":   g.Type(),
		"labels": g.labels,
		"value":  g.Get(),
	})
}

// Registry tracks a process's metrics by name and label set.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

// NewRegistry creates an empty metric registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

func makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	return name + "{" + labels.String() + "}"
}

// RegisterCounter returns the counter for name+labels, creating it if new.
func (r *Registry) RegisterCounter(name string, labels Labels) *Counter {
	if r == nil {
		return NewCounter(name, labels)
	}
	key := makeKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c := NewCounter(name, labels)
	r.counters[key] = c
	return c
}

// RegisterGauge returns the gauge for name+labels, creating it if new.
func (r *Registry) RegisterGauge(name string, labels Labels) *Gauge {
	if r == nil {
		return NewGauge(name, labels)
	}
	key := makeKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[key]; ok {
		return g
	}
	g := NewGauge(name, labels)
	r.gauges[key] = g
	return g
}

// GetCounter retrieves a counter by name and labels.
func (r *Registry) GetCounter(name string, labels Labels) (*Counter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.counters[makeKey(name, labels)]
	return c, ok
}

// GetGauge retrieves a gauge by name and labels.
func (r *Registry) GetGauge(name string, labels Labels) (*Gauge, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gauges[makeKey(name, labels)]
	return g, ok
}

// GetAllCounters returns all registered counters.
func (r *Registry) GetAllCounters() []*Counter {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Counter, 0, len(r.counters))
	for _, c := range r.counters {
		result = append(result, c)
	}
	return result
}

// GetAllGauges returns all registered gauges.
func (r *Registry) GetAllGauges() []*Gauge {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Gauge, 0, len(r.gauges))
	for _, g := range r.gauges {
		result = append(result, g)
	}
	return result
}

// Export exports all metrics as a map suitable for JSON serialization.
func (r *Registry) Export() map[string]any {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]any{
		"counters": r.counters,
		"gauges":   r.gauges,
	}
}

// WriteTo writes all metrics as JSON to w, implementing io.WriterTo.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	export := r.Export()
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("exporting metrics: %w", err)
	}
	n, err := w.Write(data)
	return int64(n), err
}

// Metrics bundles the runtime's standard instruments.
type Metrics struct {
	InstancesActive     *Gauge
	WindowsOpen         *Gauge
	LaunchesTotal       *Counter
	RelaunchesTotal     *Counter
	ActivityRegistered  *Counter
	ActivityFailures    *Counter
	FocusChangesTotal   *Counter
	LaunchFailuresTotal *Counter
}

// NewMetrics registers the standard instruments on registry.
func NewMetrics(registry *Registry) *Metrics {
	return &Metrics{
		InstancesActive:     registry.RegisterGauge("cardhost_instances_active", nil),
		WindowsOpen:         registry.RegisterGauge("cardhost_windows_open", nil),
		LaunchesTotal:       registry.RegisterCounter("cardhost_launches_total", nil),
		RelaunchesTotal:     registry.RegisterCounter("cardhost_relaunches_total", nil),
		ActivityRegistered:  registry.RegisterCounter("cardhost_activity_registered_total", nil),
		ActivityFailures:    registry.RegisterCounter("cardhost_activity_failures_total", nil),
		FocusChangesTotal:   registry.RegisterCounter("cardhost_focus_changes_total", nil),
		LaunchFailuresTotal: registry.RegisterCounter("cardhost_launch_failures_total", nil),
	}
}
