// Package metrics holds the optional Prometheus instrumentation for DittoHTTP.
//
// Nothing is collected until InitRegistry runs. Before that every exported
// constructor returns nil and the instrumented components fall back to their
// own no-op recorders, so a server started with metrics disabled pays only
// an interface call per event.
//
//	metrics.InitRegistry()
//	m := prometheus.NewHTTPMetrics()      // pkg/metrics/prometheus
//	srv := metrics.NewServer(metrics.ServerConfig{Port: 9090})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	initOnce sync.Once
	registry *prometheus.Registry
)

// InitRegistry creates the process-wide registry with the Go runtime and
// process collectors attached. Only the first call has an effect.
func InitRegistry() {
	initOnce.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(collectors.NewGoCollector())
		r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registry = r
	})
}

// GetRegistry returns the registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return registry != nil
}
