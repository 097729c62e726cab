package config

import (
	"strings"
	"time"

	httpAdapter "github.com/marmos91/dittohttp/pkg/adapter/http"
	"github.com/marmos91/dittohttp/pkg/lock"
)

const (
	defaultHTTPPort        = 8080
	defaultThreads         = 4
	defaultMetricsPort     = 9090
	defaultIOTimeout       = 30 * time.Second
	defaultDrainTimeout    = 5 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultStatsInterval   = 5 * time.Minute
	defaultMemoryLimit     = uint64(1 << 30)
	defaultBadgerPath      = "/tmp/dittohttp-badger"
)

// ApplyDefaults fills every zero-valued field of cfg. Values that were set
// explicitly are left untouched, except for log level and lock policy which
// are case-normalized.
func ApplyDefaults(cfg *Config) {
	setString(&cfg.Logging.Level, "INFO")
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	setString(&cfg.Logging.Format, "text")
	setString(&cfg.Logging.Output, "stdout")

	setDuration(&cfg.Server.ShutdownTimeout, defaultShutdownTimeout)
	setInt(&cfg.Server.Metrics.Port, defaultMetricsPort)
	setString(&cfg.Server.Audit.Output, "stderr")

	applyContentDefaults(&cfg.Content)

	// With no http section at all the adapter is switched on; an explicit
	// "enabled: false" alongside a port survives.
	if !cfg.Adapters.HTTP.Enabled && cfg.Adapters.HTTP.Port == 0 {
		cfg.Adapters.HTTP.Enabled = true
	}
	applyHTTPDefaults(&cfg.Adapters.HTTP)
}

// applyContentDefaults seeds every store section, not only the selected one,
// so `dittohttp init` writes a file documenting all of them.
func applyContentDefaults(cfg *ContentConfig) {
	setString(&cfg.Type, "filesystem")

	cfg.Filesystem = withDefault(cfg.Filesystem, "path", ".")
	cfg.Memory = withDefault(cfg.Memory, "max_size_bytes", defaultMemoryLimit)
	cfg.Badger = withDefault(cfg.Badger, "path", defaultBadgerPath)
}

func applyHTTPDefaults(cfg *httpAdapter.HTTPConfig) {
	setInt(&cfg.Port, defaultHTTPPort)
	setInt(&cfg.Threads, defaultThreads)
	setInt(&cfg.QueueSize, cfg.Threads)

	setDuration(&cfg.ReadTimeout, defaultIOTimeout)
	setDuration(&cfg.WriteTimeout, defaultIOTimeout)
	setDuration(&cfg.DrainTimeout, defaultDrainTimeout)
	setDuration(&cfg.ShutdownTimeout, defaultShutdownTimeout)
	setDuration(&cfg.MetricsLogInterval, defaultStatsInterval)

	setString(&cfg.Lock.Policy, lock.PolicyNWay.String())
	cfg.Lock.Policy = strings.ToLower(cfg.Lock.Policy)
	setInt(&cfg.Lock.BatchSize, 1)

	// MaxConnections, Lock.MaxKeys and RateLimit.Rate keep 0: unlimited.
}

// GetDefaultConfig returns a fully defaulted Config, used by `init` and tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Adapters.HTTP.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

func withDefault(section map[string]any, key string, def any) map[string]any {
	if section == nil {
		section = make(map[string]any)
	}
	if _, ok := section[key]; !ok {
		section[key] = def
	}
	return section
}
