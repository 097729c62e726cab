package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittohttp/internal/logger"
	protocol "github.com/marmos91/dittohttp/internal/protocol/http"
	"github.com/marmos91/dittohttp/internal/ratelimiter"
	"github.com/marmos91/dittohttp/pkg/content"
	"github.com/marmos91/dittohttp/pkg/lock"
	"github.com/marmos91/dittohttp/pkg/metrics"
	"github.com/marmos91/dittohttp/pkg/queue"
	"github.com/marmos91/dittohttp/pkg/worker"
)

// HTTPAdapter implements the adapter.Adapter interface for the GET/PUT file
// server.
//
// Architecture:
// A single accept loop pushes every accepted connection into a bounded work
// queue. A fixed pool of workers pops connections and serves exactly one
// request each. Before touching the content store a worker takes the
// per-file lock for the request target from a shared lock registry: a reader
// lock for GET and a writer lock for PUT. When the queue is full the accept
// loop blocks, so excess clients wait in the kernel backlog.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. Work queue closed; workers finish what is already queued, then exit
//  4. Wait for workers to finish (up to ShutdownTimeout)
//  5. Cancel request contexts and force-close remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses sync.Once
// to ensure idempotent behavior even if Stop() is called multiple times.
type HTTPAdapter struct {
	// config holds the server configuration (port, pool size, timeouts, lock policy)
	config HTTPConfig

	// listener is the TCP listener for accepting connections
	// Closed during shutdown to stop accepting new connections
	listener   net.Listener
	listenerMu sync.Mutex

	// listenerReady is closed once listener is set
	listenerReady chan struct{}

	// store serves and stores file content
	store content.WritableContentStore

	// locks hands out one reader/writer lock per request target
	locks *lock.Registry

	// connQueue carries accepted connections from the accept loop to the workers
	connQueue *queue.Queue[net.Conn]

	// pool is the fixed set of workers draining connQueue
	pool *worker.Pool[net.Conn]

	// audit records one line per completed request
	audit *protocol.AuditLogger

	// limiter paces accepts when a rate limit is configured
	limiter *ratelimiter.RateLimiter

	// metrics provides optional Prometheus metrics collection
	metrics metrics.HTTPMetrics

	// shutdownOnce ensures shutdown is only initiated once
	shutdownOnce sync.Once

	// shutdown signals that graceful shutdown has been initiated
	shutdown chan struct{}

	// connCount tracks the current number of open client connections,
	// queued ones included
	connCount atomic.Int32

	// connSemaphore limits the number of concurrent connections if MaxConnections > 0
	// nil if MaxConnections is 0 (unlimited)
	connSemaphore chan struct{}

	// requestCtx is handed to every request and cancelled only when the
	// shutdown timeout expires, so queued requests still complete during a
	// graceful drain
	requestCtx context.Context

	// cancelRequests cancels requestCtx
	cancelRequests context.CancelFunc

	// activeConnections tracks all open TCP connections for forced closure
	// Maps connection remote address (string) to net.Conn
	activeConnections sync.Map
}

// New creates a new HTTPAdapter with the specified configuration.
//
// The adapter is created in a stopped state. Call SetStore() to inject the
// content store, then call Serve() to start accepting connections.
//
// Configuration:
//   - Zero values in config are replaced with sensible defaults
//   - Invalid configurations cause a panic (indicates programmer error)
//
// Parameters:
//   - config: Server configuration
//   - httpMetrics: Optional metrics collector (nil for no metrics)
//
// Returns a configured but not yet started HTTPAdapter.
//
// Panics if config validation fails.
func New(config HTTPConfig, httpMetrics metrics.HTTPMetrics) *HTTPAdapter {
	// Apply defaults for zero values
	config.applyDefaults()

	// Validate configuration
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid HTTP config: %v", err))
	}

	// Create connection semaphore if MaxConnections is set
	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("HTTP connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("HTTP connection limit: unlimited")
	}

	// Use no-op metrics if none provided
	if httpMetrics == nil {
		httpMetrics = metrics.NewNoopHTTPMetrics()
	}

	policy, _ := lock.ParsePolicy(config.Lock.Policy) // checked by validate

	requestCtx, cancelRequests := context.WithCancel(context.Background())

	s := &HTTPAdapter{
		config:        config,
		listenerReady: make(chan struct{}),
		locks: lock.NewRegistry(lock.RegistryConfig{
			Policy:    policy,
			BatchSize: config.Lock.BatchSize,
			MaxKeys:   config.Lock.MaxKeys,
		}),
		connQueue:      queue.New[net.Conn](config.QueueSize),
		audit:          protocol.NewAuditLogger(os.Stderr),
		limiter:        ratelimiter.New(config.RateLimit),
		metrics:        httpMetrics,
		shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		requestCtx:     requestCtx,
		cancelRequests: cancelRequests,
	}

	s.pool = worker.New(config.Threads, s.connQueue, s.handleConnection,
		worker.WithPanicHandler(func(conn net.Conn, recovered any) {
			_ = conn.Close()
		}),
	)

	return s
}

// SetStore injects the shared content store.
//
// Thread safety:
// Called exactly once before Serve(), no synchronization needed.
func (s *HTTPAdapter) SetStore(store content.WritableContentStore) {
	s.store = store
	logger.Debug("HTTP content store configured")
}

// SetAuditWriter redirects the audit log. The default is stderr.
//
// Thread safety:
// Must be called before Serve().
func (s *HTTPAdapter) SetAuditWriter(w io.Writer) {
	s.audit = protocol.NewAuditLogger(w)
}

// Serve starts the HTTP server and blocks until the context is cancelled
// or an unrecoverable error occurs.
//
// Parameters:
//   - ctx: Controls the server lifecycle. Cancellation triggers graceful shutdown.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener fails to start or shutdown is not graceful
//
// Thread safety:
// Serve() should only be called once per HTTPAdapter instance.
func (s *HTTPAdapter) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Address, fmt.Sprint(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create HTTP listener on %s: %w", addr, err)
	}

	return s.ServeListener(ctx, listener)
}

// ServeListener is like Serve but accepts connections on an existing
// listener. The adapter takes ownership of listener and closes it on
// shutdown.
func (s *HTTPAdapter) ServeListener(ctx context.Context, listener net.Listener) error {
	if s.store == nil {
		_ = listener.Close()
		return errors.New("HTTP adapter: content store not set")
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.listenerReady)

	// Stop() may have run before the listener existed
	select {
	case <-s.shutdown:
		_ = listener.Close()
	default:
	}

	logger.Info("HTTP server listening on %s", listener.Addr())
	logger.Debug("HTTP config: threads=%d queue_size=%d lock_policy=%s batch_size=%d max_keys=%d max_connections=%d",
		s.config.Threads, s.config.QueueSize, s.config.Lock.Policy, s.config.Lock.BatchSize,
		s.config.Lock.MaxKeys, s.config.MaxConnections)

	// Monitor context cancellation in separate goroutine
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("HTTP shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	// Start metrics logging if enabled
	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	s.pool.Start(s.requestCtx)

	// Accept connections until shutdown
	for {
		// Acquire connection semaphore if connection limiting is enabled
		// This blocks if we're at MaxConnections until a connection closes
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		// Pace accepts if a rate limit is configured
		if s.limiter.Enabled() {
			if err := s.limiter.Wait(ctx); err != nil {
				s.releaseSlot()
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			s.releaseSlot()

			select {
			case <-s.shutdown:
				// Expected error during shutdown (listener was closed)
				return s.gracefulShutdown()
			default:
				if errors.Is(err, net.ErrClosed) {
					s.initiateShutdown()
					return s.gracefulShutdown()
				}
				logger.Debug("Error accepting HTTP connection: %v", err)
				continue
			}
		}

		s.trackConnection(tcpConn)

		// Hand off to the workers. Blocks while the queue is full.
		if err := s.connQueue.Push(tcpConn); err != nil {
			// Queue closed by shutdown between Accept and Push
			logger.Debug("HTTP connection from %s dropped: %v", tcpConn.RemoteAddr(), err)
			_ = tcpConn.Close()
			s.releaseConnection(tcpConn)
			continue
		}
		s.metrics.SetQueueDepth(s.connQueue.Len())
	}
}

// trackConnection registers an accepted connection for shutdown and metrics.
func (s *HTTPAdapter) trackConnection(tcpConn net.Conn) {
	s.connCount.Add(1)
	s.activeConnections.Store(tcpConn.RemoteAddr().String(), tcpConn)

	s.metrics.RecordConnectionAccepted()
	currentConns := s.connCount.Load()
	s.metrics.SetActiveConnections(currentConns)

	logger.Debug("HTTP connection accepted from %s (active: %d)", tcpConn.RemoteAddr(), currentConns)
}

// releaseConnection undoes trackConnection once the connection is closed.
func (s *HTTPAdapter) releaseConnection(tcpConn net.Conn) {
	s.activeConnections.Delete(tcpConn.RemoteAddr().String())
	s.connCount.Add(-1)
	s.releaseSlot()

	s.metrics.RecordConnectionClosed()
	currentConns := s.connCount.Load()
	s.metrics.SetActiveConnections(currentConns)

	logger.Debug("HTTP connection closed from %s (active: %d)", tcpConn.RemoteAddr(), currentConns)
}

func (s *HTTPAdapter) releaseSlot() {
	if s.connSemaphore != nil {
		<-s.connSemaphore
	}
}

// handleConnection is the worker pool handler. It serves one request on
// tcpConn and closes it.
func (s *HTTPAdapter) handleConnection(ctx context.Context, tcpConn net.Conn) {
	defer func() {
		s.releaseConnection(tcpConn)
		// This worker is still counted until the handler returns
		s.metrics.SetBusyWorkers(int(s.pool.Busy()) - 1)
	}()

	s.metrics.SetQueueDepth(s.connQueue.Len())
	s.metrics.SetBusyWorkers(int(s.pool.Busy()))

	NewHTTPConnection(s, tcpConn).Serve(ctx)
}

// initiateShutdown signals the server to begin graceful shutdown.
//
// Shutdown sequence:
//  1. Close shutdown channel (signals accept loop to stop)
//  2. Close listener (stops accepting new connections)
//  3. Close the work queue (workers drain what is queued, then exit)
//
// Thread safety:
// Safe to call multiple times and from multiple goroutines.
func (s *HTTPAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("HTTP shutdown initiated")

		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing HTTP listener: %v", err)
			}
		}
		s.listenerMu.Unlock()

		s.connQueue.Close()
	})
}

// gracefulShutdown waits for the workers to drain the queue or for
// ShutdownTimeout to expire.
//
// Returns:
//   - nil if all connections completed gracefully
//   - error if shutdown timeout exceeded (connections were force-closed)
func (s *HTTPAdapter) gracefulShutdown() error {
	s.initiateShutdown()

	activeCount := s.connCount.Load()
	logger.Info("HTTP graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, s.config.ShutdownTimeout)

	timer := time.NewTimer(s.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-s.pool.Done():
		s.cancelRequests()
		logger.Info("HTTP graceful shutdown complete: all connections closed")
		return nil

	case <-timer.C:
		remaining := s.connCount.Load()
		logger.Warn("HTTP shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)

		s.forceCloseConnections()

		// Workers blocked on a per-file lock stay blocked until its holder
		// releases; closing connections makes every holder fail fast.
		<-s.pool.Done()

		return fmt.Errorf("HTTP shutdown timeout: %d connections force-closed", remaining)
	}
}

// forceCloseConnections cancels request contexts and closes all open TCP
// connections so in-progress reads and writes fail immediately.
func (s *HTTPAdapter) forceCloseConnections() {
	logger.Info("Force-closing active HTTP connections")

	s.cancelRequests()

	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", addr, err)
		} else {
			closedCount++
			s.metrics.RecordConnectionForceClosed()
			logger.Debug("Force-closed connection to %s", addr)
		}
		return true
	})

	if closedCount == 0 {
		logger.Debug("No connections to force-close")
	} else {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
}

// Stop initiates graceful shutdown of the HTTP server.
//
// Stop is safe to call multiple times and safe to call concurrently with Serve().
//
// Parameters:
//   - ctx: Controls how long Stop waits for the workers to finish.
//
// Returns:
//   - nil on successful graceful shutdown
//   - ctx.Err() if the context ended first
func (s *HTTPAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	activeCount := s.connCount.Load()
	logger.Info("HTTP graceful shutdown: waiting for %d active connection(s) (context timeout)",
		activeCount)

	select {
	case <-s.pool.Done():
		logger.Info("HTTP graceful shutdown complete: all connections closed")
		return nil

	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("HTTP shutdown context cancelled: %d connection(s) still active: %v",
			remaining, ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs server load until ctx is cancelled.
func (s *HTTPAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("HTTP metrics: active_connections=%d queued=%d busy_workers=%d/%d lock_entries=%d processed=%d",
				s.connCount.Load(), s.connQueue.Len(), s.pool.Busy(), s.pool.Size(),
				s.locks.Len(), s.pool.Processed())
		}
	}
}

// GetActiveConnections returns the current number of open connections,
// including those still waiting in the queue.
func (s *HTTPAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Addr returns the listener address, blocking until the listener is ready
// or ctx ends.
func (s *HTTPAdapter) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.listenerReady:
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		return s.listener.Addr(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Locks exposes the per-file lock registry for inspection.
func (s *HTTPAdapter) Locks() *lock.Registry {
	return s.locks
}

// Port returns the configured TCP port.
//
// This implements the adapter.Adapter interface.
func (s *HTTPAdapter) Port() int {
	return s.config.Port
}

// Protocol returns "HTTP" as the protocol identifier.
//
// This implements the adapter.Adapter interface.
func (s *HTTPAdapter) Protocol() string {
	return "HTTP"
}
