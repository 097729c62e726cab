// Package main is the entry point for the dittohttp file server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/marmos91/dittohttp/internal/logger"
	httpAdapter "github.com/marmos91/dittohttp/pkg/adapter/http"
	"github.com/marmos91/dittohttp/pkg/config"
	"github.com/marmos91/dittohttp/pkg/content"
	"github.com/marmos91/dittohttp/pkg/server"
	"github.com/spf13/cobra"
)

// Set by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dittohttp",
		Short:         "A multithreaded HTTP/1.1 GET/PUT file server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.AddCommand(versionCmd(), startCmd(), initCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("dittohttp %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start [port]",
		Short: "Start serving files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			if err := applyFlags(cmd, args, cfg); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			return run(cfg)
		},
	}
	cmd.Flags().IntP("threads", "t", 0, "Number of worker threads (overrides adapters.http.threads)")
	cmd.Flags().String("lock-policy", "", "Per-file lock policy: readers, writers or nway")
	cmd.Flags().String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	return cmd
}

// applyFlags lets command line arguments override the loaded configuration.
func applyFlags(cmd *cobra.Command, args []string, cfg *config.Config) error {
	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port number: %s", args[0])
		}
		cfg.Adapters.HTTP.Port = port
		cfg.Adapters.HTTP.Enabled = true
	}

	if cmd.Flags().Changed("threads") {
		threads, _ := cmd.Flags().GetInt("threads")
		if threads < 1 {
			return fmt.Errorf("invalid thread count: %d", threads)
		}
		cfg.Adapters.HTTP.Threads = threads
		if cfg.Adapters.HTTP.QueueSize < threads {
			cfg.Adapters.HTTP.QueueSize = threads
		}
	}

	if policy, _ := cmd.Flags().GetString("lock-policy"); policy != "" {
		cfg.Adapters.HTTP.Lock.Policy = policy
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	// Flags may have left values that need normalizing again
	config.ApplyDefaults(cfg)
	return nil
}

// run wires the configured store, adapters and metrics and blocks until a
// termination signal arrives.
func run(cfg *config.Config) error {
	if err := logger.Configure(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  cfg.Logging.Rotation.MaxSizeMB,
			MaxBackups: cfg.Logging.Rotation.MaxBackups,
			MaxAgeDays: cfg.Logging.Rotation.MaxAgeDays,
			Compress:   cfg.Logging.Rotation.Compress,
		},
	}); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Info("DittoHTTP %s starting", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics first: the S3 store registers its collectors on creation
	metricsResult := config.InitializeMetrics(cfg)

	store, err := config.CreateContentStore(ctx, &cfg.Content)
	if err != nil {
		return err
	}

	srv, closeAudit, err := assemble(cfg, store, metricsResult)
	if err != nil {
		return err
	}
	defer closeAudit()

	logger.Info("Serving %s content on port %d with %d worker(s), lock policy %s. Press Ctrl+C to stop.",
		cfg.Content.Type, cfg.Adapters.HTTP.Port, cfg.Adapters.HTTP.Threads, cfg.Adapters.HTTP.Lock.Policy)

	if err := srv.Serve(ctx); err != nil {
		logger.Error("Server error: %v", err)
		return err
	}

	logger.Info("Server stopped")
	return nil
}

// assemble builds the server around store. The server owns the store only
// once assemble succeeds; on any error the store is closed here. The
// returned func closes the audit log and must run after Serve returns.
func assemble(cfg *config.Config, store content.WritableContentStore, m *config.MetricsResult) (_ *server.DittoServer, closeAudit func(), err error) {
	defer func() {
		if err != nil {
			closeStore(store)
		}
	}()

	auditWriter, err := logger.OpenWriter(cfg.Server.Audit.Output, logger.RotationConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	closeAudit = func() {
		if c, ok := auditWriter.(io.Closer); ok && auditWriter != os.Stdout && auditWriter != os.Stderr {
			_ = c.Close()
		}
	}
	defer func() {
		if err != nil {
			closeAudit()
		}
	}()

	adapters, err := config.CreateAdapters(cfg, m.HTTPMetrics)
	if err != nil {
		return nil, nil, err
	}

	opts := []server.Option{server.WithStopTimeout(cfg.Server.ShutdownTimeout)}
	if m.Server != nil {
		opts = append(opts, server.WithMetricsServer(m.Server))
	}

	srv := server.New(store, opts...)
	for _, a := range adapters {
		if h, ok := a.(*httpAdapter.HTTPAdapter); ok {
			h.SetAuditWriter(auditWriter)
		}
		if err := srv.AddAdapter(a); err != nil {
			return nil, nil, err
		}
	}

	return srv, closeAudit, nil
}

func closeStore(store content.WritableContentStore) {
	c, ok := store.(content.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("Failed to close content store: %v", err)
	}
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")
			path, _ := cmd.Flags().GetString("config")

			if path == "" {
				written, err := config.InitConfig(force)
				if err != nil {
					return err
				}
				path = written
			} else if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}

			fmt.Printf("Configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing configuration file")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if len(args) == 1 {
				path = args[0]
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			http := cfg.Adapters.HTTP
			fmt.Println("Configuration OK")
			fmt.Printf("  content:     %s\n", cfg.Content.Type)
			fmt.Printf("  port:        %d\n", http.Port)
			fmt.Printf("  threads:     %d (queue %d)\n", http.Threads, http.QueueSize)
			fmt.Printf("  lock policy: %s (batch %d, max keys %d)\n",
				http.Lock.Policy, http.Lock.BatchSize, http.Lock.MaxKeys)
			fmt.Printf("  metrics:     %v\n", cfg.Server.Metrics.Enabled)
			return nil
		},
	})
	return cmd
}
