package config

import (
	"github.com/marmos91/dittohttp/pkg/metrics"
	promMetrics "github.com/marmos91/dittohttp/pkg/metrics/prometheus"
)

// MetricsResult bundles what the metrics section of the config produces.
type MetricsResult struct {
	// Server serves /metrics. Nil when metrics are off.
	Server *metrics.Server

	// HTTPMetrics is always usable; it is a no-op recorder when metrics are off.
	HTTPMetrics metrics.HTTPMetrics
}

// InitializeMetrics sets up the global registry, the scrape server and the
// adapter's recorder when server.metrics.enabled is true. It must run before
// any store that registers its own collectors is created.
func InitializeMetrics(cfg *Config) *MetricsResult {
	metricsCfg := cfg.Server.Metrics
	if !metricsCfg.Enabled {
		return &MetricsResult{HTTPMetrics: metrics.NewNoopHTTPMetrics()}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:      metrics.NewServer(metrics.ServerConfig{Port: metricsCfg.Port}),
		HTTPMetrics: promMetrics.NewHTTPMetrics(),
	}
}
