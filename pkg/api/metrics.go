package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/cardhost/pkg/telemetry"
)

// promBridge exposes the runtime's telemetry instruments as Prometheus
// metrics on a per-server registry, so multiple servers can coexist in one
// process.
type promBridge struct {
	registry *prometheus.Registry
}

func newPromBridge(metrics *telemetry.Metrics) *promBridge {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	if metrics != nil {
		factory := promauto.With(registry)
		gauge := func(name, help string, source *telemetry.Gauge) {
			factory.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "cardhost",
				Name:      name,
				Help:      help,
			}, func() float64 { return float64(source.Get()) })
		}
		counter := func(name, help string, source *telemetry.Counter) {
			factory.NewCounterFunc(prometheus.CounterOpts{
				Namespace: "cardhost",
				Name:      name,
				Help:      help,
			}, func() float64 { return float64(source.Get()) })
		}

		gauge("instances_active", "Number of live application instances.", metrics.InstancesActive)
		gauge("windows_open", "Number of open presentation windows.", metrics.WindowsOpen)
		counter("launches_total", "Applications launched.", metrics.LaunchesTotal)
		counter("launch_failures_total", "Application launches that failed.", metrics.LaunchFailuresTotal)
		counter("relaunches_total", "Relaunch notifications delivered.", metrics.RelaunchesTotal)
		counter("activity_registered_total", "Successful activity registrations.", metrics.ActivityRegistered)
		counter("activity_failures_total", "Failed or rejected activity registrations.", metrics.ActivityFailures)
		counter("focus_changes_total", "Focus changes forwarded to the activity service.", metrics.FocusChangesTotal)
	}

	return &promBridge{registry: registry}
}

func (b *promBridge) handler() http.Handler {
	return promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{})
}
