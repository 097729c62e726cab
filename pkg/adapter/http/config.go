package http

import (
	"fmt"
	"time"

	"github.com/marmos91/dittohttp/internal/ratelimiter"
	"github.com/marmos91/dittohttp/pkg/lock"
)

// HTTPConfig holds configuration parameters for the HTTP file server.
//
// Default values (applied by New if zero):
//   - Port: 8080
//   - Threads: 4
//   - QueueSize: Threads
//   - MaxConnections: 0 (unlimited)
//   - ReadTimeout: 30s
//   - WriteTimeout: 30s
//   - DrainTimeout: 5s
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m
//   - Lock.Policy: "nway", Lock.BatchSize: 1, Lock.MaxKeys: 0 (unbounded)
type HTTPConfig struct {
	// Enabled controls whether the HTTP adapter is active.
	Enabled bool `mapstructure:"enabled"`

	// Address is the interface to bind. Empty means all interfaces.
	Address string `mapstructure:"address"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// Threads is the number of workers serving requests concurrently.
	Threads int `mapstructure:"threads" validate:"min=0"`

	// QueueSize is the number of accepted connections that may wait for a
	// free worker before the accept loop blocks.
	QueueSize int `mapstructure:"queue_size" validate:"min=0"`

	// MaxConnections limits open client connections, queued ones included.
	// 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// ReadTimeout bounds reading the request head and body.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// DrainTimeout bounds how long leftover client bytes are discarded
	// after the response before the connection is closed.
	DrainTimeout time.Duration `mapstructure:"drain_timeout" validate:"min=0"`

	// ShutdownTimeout is the maximum duration to wait for queued and
	// in-flight requests during graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval is the interval at which to log server load.
	// 0 disables periodic metrics logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`

	// Lock configures the per-file reader/writer locks.
	Lock LockConfig `mapstructure:"lock"`

	// RateLimit paces accepted connections. Zero rate disables it.
	RateLimit ratelimiter.Config `mapstructure:"rate_limit"`
}

// LockConfig selects the admission policy for per-file locks.
type LockConfig struct {
	// Policy is one of "readers", "writers" or "nway".
	Policy string `mapstructure:"policy" validate:"omitempty,oneof=readers writers nway reader writer n_way n-way"`

	// BatchSize is how many readers may be admitted while a writer waits
	// under the nway policy.
	BatchSize int `mapstructure:"batch_size" validate:"min=0"`

	// MaxKeys bounds the number of files with a live lock entry.
	// 0 means unbounded.
	MaxKeys int `mapstructure:"max_keys" validate:"min=0"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *HTTPConfig) applyDefaults() {
	// Note: Enabled field defaults are handled in pkg/config/defaults.go
	// to allow explicit false values from configuration files.

	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.Threads <= 0 {
		c.Threads = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Threads
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 5 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
	if c.Lock.Policy == "" {
		c.Lock.Policy = lock.PolicyNWay.String()
	}
	if c.Lock.BatchSize <= 0 {
		c.Lock.BatchSize = 1
	}
}

// validate checks that the configuration is usable.
func (c *HTTPConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.Threads <= 0 {
		return fmt.Errorf("invalid Threads %d: must be > 0", c.Threads)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("invalid QueueSize %d: must be > 0", c.QueueSize)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("invalid ReadTimeout %v: must be >= 0", c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid WriteTimeout %v: must be >= 0", c.WriteTimeout)
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("invalid DrainTimeout %v: must be >= 0", c.DrainTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if _, err := lock.ParsePolicy(c.Lock.Policy); err != nil {
		return err
	}
	if c.Lock.BatchSize < 1 {
		return fmt.Errorf("invalid Lock.BatchSize %d: must be >= 1", c.Lock.BatchSize)
	}
	if c.Lock.MaxKeys < 0 {
		return fmt.Errorf("invalid Lock.MaxKeys %d: must be >= 0", c.Lock.MaxKeys)
	}
	return nil
}
