package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittohttp/internal/logger"
	"github.com/marmos91/dittohttp/pkg/adapter"
	"github.com/marmos91/dittohttp/pkg/content"
	"github.com/marmos91/dittohttp/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// DittoServer manages the lifecycle of protocol adapters that share one
// content store.
//
// Lifecycle:
//  1. Creation: New() with the content store
//  2. Registration: AddAdapter() for each protocol
//  3. Startup: Serve() starts all adapters (and the metrics server) concurrently
//  4. Shutdown: Context cancellation or the first adapter failure stops all of
//     them; the store is closed once every adapter has returned
//
// Thread safety:
// AddAdapter() may be called concurrently before Serve(). Serve() must only
// be called once per server instance.
//
// Example usage:
//
//	srv := server.New(store)
//	srv.AddAdapter(http.New(httpConfig, nil))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
type DittoServer struct {
	// store is the shared content store for all adapters
	store content.WritableContentStore

	// metricsServer exposes /metrics while the server runs (optional)
	metricsServer *metrics.Server

	// stopTimeout bounds each adapter's Stop() during shutdown
	stopTimeout time.Duration

	// mu protects adapters and served
	mu       sync.Mutex
	adapters []adapter.Adapter
	served   bool
}

// Option configures a DittoServer.
type Option func(*DittoServer)

// WithMetricsServer runs the metrics endpoint alongside the adapters.
func WithMetricsServer(s *metrics.Server) Option {
	return func(d *DittoServer) {
		d.metricsServer = s
	}
}

// WithStopTimeout sets how long each adapter gets to stop. Default 30s.
func WithStopTimeout(timeout time.Duration) Option {
	return func(d *DittoServer) {
		d.stopTimeout = timeout
	}
}

// New creates a new DittoServer serving files from store.
//
// Panics if store is nil (indicates programmer error).
func New(store content.WritableContentStore, opts ...Option) *DittoServer {
	if store == nil {
		panic("content store cannot be nil")
	}

	s := &DittoServer{
		store:       store,
		stopTimeout: 30 * time.Second,
		adapters:    make([]adapter.Adapter, 0, 2),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddAdapter registers a protocol adapter and injects the shared store.
//
// Returns an error if another adapter already serves the same protocol or
// port.
//
// Panics if:
//   - adapter is nil (programmer error)
//   - Serve() has already been called (server is running)
func (s *DittoServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetStore(s.store)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)

	return nil
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// Shutdown behavior:
//   - All adapters receive Stop() calls in reverse registration order
//   - Serve() waits for every adapter goroutine to return
//   - The content store is closed last if it implements content.Closer
//
// Returns:
//   - nil on graceful shutdown after context cancellation
//   - the first adapter error otherwise
//
// Panics if called more than once.
func (s *DittoServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		panic("Serve() has already been called on this server instance")
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting DittoHTTP server with %d adapter(s)", len(adapters))

	g, gctx := errgroup.WithContext(ctx)

	for _, a := range adapters {
		g.Go(func() error {
			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			if err := a.Serve(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("%s adapter failed: %v", protocol, err)
				return fmt.Errorf("%s adapter error: %w", protocol, err)
			}
			logger.Info("%s adapter stopped", protocol)
			return nil
		})
	}

	if s.metricsServer != nil {
		g.Go(func() error {
			if err := s.metricsServer.Start(gctx); err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}

	// Adapters react to gctx on their own; Stop() covers the case where one
	// failed and the others must be told explicitly.
	g.Go(func() error {
		<-gctx.Done()
		s.stopAllAdapters(adapters)
		return nil
	})

	err := g.Wait()

	if closer, ok := s.store.(content.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			logger.Error("Failed to close content store: %v", cerr)
			if err == nil {
				err = fmt.Errorf("close content store: %w", cerr)
			}
		}
	}

	if err != nil {
		return err
	}

	logger.Info("DittoHTTP server stopped gracefully")
	return nil
}

// stopAllAdapters signals every adapter to shut down, in reverse
// registration order.
func (s *DittoServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
		}
	}
}

// Adapters returns a snapshot of currently registered adapters.
func (s *DittoServer) Adapters() []adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
