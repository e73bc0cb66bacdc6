package runtime

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/chatplan/config"
)

// Telemetry owns the process metrics registry.
type Telemetry struct {
	enabled  bool
	registry *prometheus.Registry
}

// SetupTelemetry creates a private registry with the Go runtime and process
// collectors. Collectors are always registered; the setting only controls the
// scrape endpoint.
func SetupTelemetry(cfg config.TelemetryConfig) *Telemetry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Telemetry{enabled: cfg.MetricsEnabled, registry: reg}
}

func (t *Telemetry) Registerer() prometheus.Registerer { return t.registry }

func (t *Telemetry) Gatherer() prometheus.Gatherer { return t.registry }

// Handler serves the registry in the Prometheus text format, or nil when
// metrics are disabled.
func (t *Telemetry) Handler() http.Handler {
	if !t.enabled {
		return nil
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}
