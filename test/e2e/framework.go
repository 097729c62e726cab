package e2e

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittohttp/internal/logger"
	httpAdapter "github.com/marmos91/dittohttp/pkg/adapter/http"
	"github.com/marmos91/dittohttp/pkg/content"
	"github.com/marmos91/dittohttp/pkg/server"
)

// TestContext provides a complete testing environment with:
// - Running DittoHTTP server backed by the configured content store
// - An HTTP client pointed at it
// - A captured audit log
// - Cleanup mechanisms
type TestContext struct {
	T            testing.TB
	Config       *TestConfig
	Server       *server.DittoServer
	Adapter      *httpAdapter.HTTPAdapter
	ContentStore content.WritableContentStore
	Client       *http.Client
	Port         int
	Audit        *AuditLog
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	tempDirs     []string
	requestID    atomic.Int64
}

// AuditLog collects audit lines written by the server.
type AuditLog struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (a *AuditLog) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Write(p)
}

// Lines returns the complete audit lines written so far.
func (a *AuditLog) Lines() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSuffix(a.buf.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// NewTestContext creates a new test environment with the specified configuration.
// It starts the DittoHTTP server and waits until it accepts connections.
func NewTestContext(t testing.TB, config *TestConfig) *TestContext {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	tc := &TestContext{
		T:      t,
		Config: config,
		ctx:    ctx,
		cancel: cancel,
		Port:   findFreePort(t),
		Audit:  &AuditLog{},
		Client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				// One request per connection
				DisableKeepAlives: true,
			},
		},
	}

	tc.setupStore()
	tc.startServer()

	return tc
}

// setupStore initializes the content store based on the test configuration
func (tc *TestContext) setupStore() {
	tc.T.Helper()

	var err error
	tc.ContentStore, err = tc.Config.CreateContentStore(tc.ctx, tc)
	if err != nil {
		tc.T.Fatalf("Failed to create content store: %v", err)
	}
}

// startServer starts the DittoHTTP server with the configured store
func (tc *TestContext) startServer() {
	tc.T.Helper()

	// Always use ERROR level to keep test output clean
	// These are functional tests, not debugging sessions
	logger.SetLevel("ERROR")

	tc.Adapter = httpAdapter.New(httpAdapter.HTTPConfig{
		Enabled:         true,
		Address:         "127.0.0.1",
		Port:            tc.Port,
		Threads:         tc.Config.Threads,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		DrainTimeout:    time.Second,
		ShutdownTimeout: 10 * time.Second,
		Lock: httpAdapter.LockConfig{
			Policy: tc.Config.LockPolicy.String(),
		},
	}, nil) // nil = no metrics
	tc.Adapter.SetAuditWriter(tc.Audit)

	tc.Server = server.New(tc.ContentStore, server.WithStopTimeout(10*time.Second))

	// Server calls SetStore on the adapter
	if err := tc.Server.AddAdapter(tc.Adapter); err != nil {
		tc.T.Fatalf("Failed to add HTTP adapter: %v", err)
	}

	tc.wg.Add(1)
	go func() {
		defer tc.wg.Done()
		if err := tc.Server.Serve(tc.ctx); err != nil && err != context.Canceled {
			tc.T.Logf("Server error: %v", err)
		}
	}()

	tc.waitForServer()
}

// waitForServer waits for the HTTP listener to be bound. The adapter
// accepts from then on, so no probe connection is needed.
func (tc *TestContext) waitForServer() {
	tc.T.Helper()

	ctx, cancel := context.WithTimeout(tc.ctx, 10*time.Second)
	defer cancel()

	if _, err := tc.Adapter.Addr(ctx); err != nil {
		tc.T.Fatalf("Timeout waiting for server to start: %v", err)
	}
}

// Cleanup stops the server and removes temporary files. The server closes
// the content store on its way out.
func (tc *TestContext) Cleanup() {
	tc.T.Helper()

	if tc.cancel != nil {
		tc.cancel()
	}

	tc.wg.Wait()
	tc.Client.CloseIdleConnections()

	for _, dir := range tc.tempDirs {
		_ = os.RemoveAll(dir)
	}
}

func (tc *TestContext) addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(tc.Port))
}

// URL returns the URL of name on the test server.
func (tc *TestContext) URL(name string) string {
	return fmt.Sprintf("http://%s/%s", tc.addr(), name)
}

// Response is a completed request.
type Response struct {
	RequestID int64
	Status    int
	Body      []byte
}

// Get fetches name. Transport errors fail the test.
func (tc *TestContext) Get(name string) *Response {
	tc.T.Helper()
	return tc.do(http.MethodGet, name, nil)
}

// Put uploads data as name. Transport errors fail the test.
func (tc *TestContext) Put(name string, data []byte) *Response {
	tc.T.Helper()
	return tc.do(http.MethodPut, name, data)
}

func (tc *TestContext) do(method, name string, data []byte) *Response {
	tc.T.Helper()

	resp, err := tc.Send(method, name, data)
	if err != nil {
		tc.T.Fatalf("%s /%s failed: %v", method, name, err)
	}
	return resp
}

// Send issues one request tagged with a fresh Request-Id and returns the
// response. Safe for concurrent use.
func (tc *TestContext) Send(method, name string, data []byte) (*Response, error) {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(tc.ctx, method, tc.URL(name), body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.ContentLength = int64(len(data))
	}

	id := tc.requestID.Add(1)
	req.Header.Set("Request-Id", strconv.FormatInt(id, 10))

	resp, err := tc.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{RequestID: id, Status: resp.StatusCode, Body: respBody}, nil
}

// AuditLines waits until at least n audit lines have been written and
// returns them. Lines are written before the response, but the client may
// observe the response first.
func (tc *TestContext) AuditLines(n int) []string {
	tc.T.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		lines := tc.Audit.Lines()
		if len(lines) >= n || time.Now().After(deadline) {
			return lines
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// CreateTempDir creates a temporary directory and registers it for cleanup
func (tc *TestContext) CreateTempDir(prefix string) string {
	tc.T.Helper()

	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		tc.T.Fatalf("Failed to create temp directory: %v", err)
	}
	tc.tempDirs = append(tc.tempDirs, dir)
	return dir
}

// GetConfig returns the test configuration
func (tc *TestContext) GetConfig() *TestConfig {
	return tc.Config
}

// GetPort returns the server port
func (tc *TestContext) GetPort() int {
	return tc.Port
}

// findFreePort finds an available TCP port
func findFreePort(t testing.TB) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer func() { _ = listener.Close() }()

	return listener.Addr().(*net.TCPAddr).Port
}
