package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittohttp/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultMetricsPort = 9090

	// Grace period given to in-flight scrapes once Start's context ends.
	scrapeDrainTimeout = 5 * time.Second
)

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to serve /metrics on. Zero or negative means 9090.
	Port int
}

func (c *ServerConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = defaultMetricsPort
	}
}

// Server exposes the Prometheus registry over HTTP, separate from the file
// server listener so scrapes never compete with GET/PUT workers.
//
// Routes:
//   - /metrics  registry in Prometheus/OpenMetrics text format
//   - /healthz  liveness probe, always 200 while serving
//   - /         short plain-text pointer to /metrics
type Server struct {
	httpServer *http.Server
	port       int

	stopOnce sync.Once
	stopErr  error
}

// NewServer builds a metrics server. Nothing listens until Start is called.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	return &Server{
		port: config.Port,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           routes(config.Port),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

func routes(port int) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "dittohttp metrics\n\nscrape http://<host>:%d/metrics\n", port)
	})

	return mux
}

// metricsHandler serves the global registry, or a 503 explaining that
// collection is off when InitRegistry was never called.
func metricsHandler() http.Handler {
	if reg := GetRegistry(); IsEnabled() && reg != nil {
		logger.Debug("Serving metrics registry at /metrics")
		return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	}

	logger.Debug("Metrics disabled, /metrics will answer 503")
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
	})
}

// Start serves until ctx is cancelled, then shuts down with a short grace
// period. It returns a non-nil error only when the listener fails.
func (s *Server) Start(ctx context.Context) error {
	serveErr := make(chan error, 1)

	go func() {
		logger.Info("Metrics server listening on :%d", s.port)
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		serveErr <- err
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// ctx is already done; shutdown needs a fresh deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), scrapeDrainTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

// Stop shuts the server down. Only the first call does any work; later
// calls return the first call's result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.stopErr = fmt.Errorf("metrics server shutdown: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return s.stopErr
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}
