package monitoring

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options control monitoring module configuration.
type Options struct {
	// Namespace configures the Prometheus namespace. Defaults to "csrnotify".
	Namespace string
	// DisableGoCollector skips registration of the Go runtime collector when true.
	DisableGoCollector bool
	// DisableProcessCollector skips registration of the process collector when true.
	DisableProcessCollector bool
}

// Module owns the Prometheus registry, the engine collectors, the runtime summary and the
// health probes.
type Module struct {
	registry *prometheus.Registry
	metrics  *collectors
	stats    *statStore
	health   *HealthManager
}

// NewModule constructs a monitoring module with its own Prometheus registry.
func NewModule(opts Options) (*Module, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "csrnotify"
	}

	registry := prometheus.NewRegistry()
	var runtime []prometheus.Collector
	if !opts.DisableGoCollector {
		runtime = append(runtime, prometheus.NewGoCollector())
	}
	if !opts.DisableProcessCollector {
		runtime = append(runtime, prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}

	metrics := newCollectors(namespace)
	for _, collector := range append(runtime, metrics.all()...) {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return &Module{
		registry: registry,
		metrics:  metrics,
		stats:    newStatStore(),
		health:   NewHealthManager(),
	}, nil
}

// Registry exposes the underlying Prometheus registry.
func (m *Module) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the module's metrics in the Prometheus exposition format.
func (m *Module) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Health exposes the probes behind the liveness and readiness endpoints.
func (m *Module) Health() *HealthManager {
	if m == nil {
		return nil
	}
	return m.health
}

// Snapshot returns the module's runtime summary.
func (m *Module) Snapshot() Summary {
	if m == nil || m.stats == nil {
		return emptySummary()
	}
	return m.stats.summary()
}

var globalModule atomic.Pointer[Module]

// SetModule configures the process-wide module used by the package level helpers.
func SetModule(module *Module) {
	if module == nil {
		return
	}
	globalModule.Store(module)
}

// CurrentModule returns the process-wide module, or nil when unset.
func CurrentModule() *Module {
	return globalModule.Load()
}
