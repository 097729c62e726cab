package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittohttp/pkg/content"
	fsstore "github.com/marmos91/dittohttp/pkg/content/fs"
	"github.com/marmos91/dittohttp/pkg/content/memory"
	"github.com/marmos91/dittohttp/pkg/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// lockedBuffer is a bytes.Buffer safe for concurrent use.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSuffix(b.buf.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

type testServer struct {
	adapter *HTTPAdapter
	addr    string
	audit   *lockedBuffer
}

func newMemoryStore(t *testing.T) content.WritableContentStore {
	t.Helper()
	store, err := memory.NewMemoryContentStore(context.Background(), memory.MemoryContentStoreConfig{})
	require.NoError(t, err)
	return store
}

// startServer runs an adapter on a loopback listener until the test ends.
func startServer(t *testing.T, cfg HTTPConfig, store content.WritableContentStore) *testServer {
	t.Helper()

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = time.Second
	}

	adapter := New(cfg, nil)
	adapter.SetStore(store)
	audit := &lockedBuffer{}
	adapter.SetAuditWriter(audit)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- adapter.ServeListener(ctx, listener)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return &testServer{adapter: adapter, addr: listener.Addr().String(), audit: audit}
}

// roundTrip sends raw bytes, half-closes and returns everything the server
// sent back.
func roundTrip(t *testing.T, addr, raw string) string {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	_, err = io.WriteString(conn, raw)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(resp)
}

func get(t *testing.T, addr, uri string, id int) string {
	return roundTrip(t, addr, fmt.Sprintf("GET %s HTTP/1.1\r\nRequest-Id: %d\r\n\r\n", uri, id))
}

func put(t *testing.T, addr, uri string, id int, body string) string {
	return roundTrip(t, addr, fmt.Sprintf("PUT %s HTTP/1.1\r\nContent-Length: %d\r\nRequest-Id: %d\r\n\r\n%s",
		uri, len(body), id, body))
}

func statusResponse(code int, phrase string) string {
	return fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: %d\r\n\r\n%s\n", code, phrase, len(phrase)+1, phrase)
}

func TestGetMissingFile(t *testing.T) {
	srv := startServer(t, HTTPConfig{}, newMemoryStore(t))

	assert.Equal(t, statusResponse(404, "Not Found"), get(t, srv.addr, "/missing.txt", 1))
	assert.Equal(t, []string{"GET,/missing.txt,404,1"}, srv.audit.Lines())
}

func TestPutCreatesThenReplaces(t *testing.T) {
	srv := startServer(t, HTTPConfig{}, newMemoryStore(t))

	assert.Equal(t, statusResponse(201, "Created"), put(t, srv.addr, "/a.txt", 1, "first version"))
	assert.Equal(t, statusResponse(200, "OK"), put(t, srv.addr, "/a.txt", 2, "second"))
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 6\r\n\r\nsecond", get(t, srv.addr, "/a.txt", 3))

	assert.Equal(t, []string{
		"PUT,/a.txt,201,1",
		"PUT,/a.txt,200,2",
		"GET,/a.txt,200,3",
	}, srv.audit.Lines())
}

func TestPutEmptyBody(t *testing.T) {
	srv := startServer(t, HTTPConfig{}, newMemoryStore(t))

	assert.Equal(t, statusResponse(201, "Created"),
		roundTrip(t, srv.addr, "PUT /empty HTTP/1.1\r\n\r\n"))
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", get(t, srv.addr, "/empty", 0))
}

func TestRejectedRequests(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		code  int
		text  string
		audit string
	}{
		{"Malformed", "garbage\r\n\r\n", 400, "Bad Request", "NONE,,400,0"},
		{"NestedPath", "GET /a/b HTTP/1.1\r\n\r\n", 400, "Bad Request", "NONE,,400,0"},
		{"Unsupported", "DELETE /a.txt HTTP/1.1\r\nRequest-Id: 5\r\n\r\n", 501, "Not Implemented", "DELETE,/a.txt,501,5"},
		{"OldVersion", "GET /a.txt HTTP/1.0\r\nRequest-Id: 6\r\n\r\n", 505, "Version Not Supported", "GET,/a.txt,505,6"},
		{"GetWithBody", "GET /a.txt HTTP/1.1\r\nContent-Length: 3\r\nRequest-Id: 7\r\n\r\nabc", 400, "Bad Request", "GET,/a.txt,400,7"},
		{"DotDot", "GET /.. HTTP/1.1\r\nRequest-Id: 8\r\n\r\n", 403, "Forbidden", "GET,/..,403,8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startServer(t, HTTPConfig{}, newMemoryStore(t))

			assert.Equal(t, statusResponse(tt.code, tt.text), roundTrip(t, srv.addr, tt.raw))
			assert.Equal(t, []string{tt.audit}, srv.audit.Lines())
			assert.Zero(t, srv.adapter.Locks().Len())
		})
	}
}

func TestPutShortBodyIsNotStored(t *testing.T) {
	store := newMemoryStore(t)
	srv := startServer(t, HTTPConfig{}, store)

	resp := roundTrip(t, srv.addr, "PUT /partial HTTP/1.1\r\nContent-Length: 100\r\n\r\nonly a few bytes")
	assert.Equal(t, statusResponse(400, "Bad Request"), resp)

	exists, err := store.ContentExists(context.Background(), "partial")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFilesystemStoreStatuses(t *testing.T) {
	dir := t.TempDir()
	store, err := fsstore.NewFSContentStore(context.Background(), fsstore.FSContentStoreConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>hi</p>"), 0644))

	srv := startServer(t, HTTPConfig{}, store)

	assert.Equal(t, statusResponse(403, "Forbidden"), get(t, srv.addr, "/subdir", 1))
	assert.Equal(t, statusResponse(403, "Forbidden"), put(t, srv.addr, "/subdir", 2, "x"))
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 9\r\n\r\n<p>hi</p>", get(t, srv.addr, "/index.html", 3))

	assert.Equal(t, statusResponse(201, "Created"), put(t, srv.addr, "/new.txt", 4, "fresh"))
	data, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

// TestConcurrentReadersAndWritersSeeWholeFiles checks that a GET never
// observes a partially written PUT and that lock entries are reclaimed.
func TestConcurrentReadersAndWritersSeeWholeFiles(t *testing.T) {
	for _, policy := range []string{"readers", "writers", "nway"} {
		t.Run(policy, func(t *testing.T) {
			srv := startServer(t, HTTPConfig{Threads: 4, QueueSize: 2, Lock: LockConfig{Policy: policy, BatchSize: 2}}, newMemoryStore(t))

			bodies := []string{
				strings.Repeat("a", 64*1024),
				strings.Repeat("b", 32*1024),
				strings.Repeat("c", 128*1024),
			}
			require.Contains(t, put(t, srv.addr, "/shared", 0, bodies[0]), "201 Created")

			var wg sync.WaitGroup
			errs := make(chan error, 64)
			for i := 0; i < 24; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if i%3 == 0 {
						put(t, srv.addr, "/shared", i, bodies[i%len(bodies)])
						return
					}
					resp := get(t, srv.addr, "/shared", i)
					for _, body := range bodies {
						if strings.HasSuffix(resp, "\r\n\r\n"+body) {
							return
						}
					}
					errs <- fmt.Errorf("request %d saw a torn file (%d bytes)", i, len(resp))
				}(i)
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				t.Error(err)
			}
			assert.Zero(t, srv.adapter.Locks().Len(), "lock entries leaked")
			assert.Len(t, srv.audit.Lines(), 25)
		})
	}
}

func TestQueuedConnectionsServedAfterShutdown(t *testing.T) {
	store := newMemoryStore(t)
	require.NoError(t, store.WriteContent(context.Background(), "f", []byte("data")))

	adapter := New(HTTPConfig{Threads: 1, QueueSize: 4, ShutdownTimeout: 5 * time.Second}, nil)
	adapter.SetStore(store)
	adapter.SetAuditWriter(io.Discard)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- adapter.ServeListener(ctx, listener) }()

	// Occupy the only worker with a connection that has not sent its head
	slow, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer slow.Close()

	require.Eventually(t, func() bool {
		return adapter.GetActiveConnections() == 1 && adapter.connQueue.Len() == 0
	}, 2*time.Second, time.Millisecond)

	// Queue a second request behind it
	queued := make(chan string, 1)
	go func() {
		queued <- get(t, listener.Addr().String(), "/f", 1)
	}()
	require.Eventually(t, func() bool { return adapter.connQueue.Len() == 1 },
		2*time.Second, time.Millisecond)

	cancel()

	// Finish the slow request; the queued one must still be answered
	_, err = io.WriteString(slow, "GET /f HTTP/1.1\r\n\r\n")
	require.NoError(t, err)
	require.NoError(t, slow.(*net.TCPConn).CloseWrite())
	slowResp, err := io.ReadAll(slow)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\ndata", string(slowResp))

	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\ndata", <-queued)
	assert.NoError(t, <-done)
}

func TestServeRequiresStore(t *testing.T) {
	adapter := New(HTTPConfig{}, nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	assert.Error(t, adapter.ServeListener(context.Background(), listener))
}

func TestStopBeforeTraffic(t *testing.T) {
	srv := startServer(t, HTTPConfig{}, newMemoryStore(t))

	addr, err := srv.adapter.Addr(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.addr, addr.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.adapter.Stop(ctx))
	require.NoError(t, srv.adapter.Stop(ctx))

	_, err = net.DialTimeout("tcp", srv.addr, time.Second)
	assert.Error(t, err, "listener should be closed")
}

func TestNewPanicsOnInvalidConfig(t *testing.T) {
	assert.Panics(t, func() { New(HTTPConfig{Lock: LockConfig{Policy: "fifo"}}, nil) })
	assert.Panics(t, func() { New(HTTPConfig{MaxConnections: -1}, nil) })
}

func TestConfigDefaults(t *testing.T) {
	cfg := HTTPConfig{Threads: 8}
	cfg.applyDefaults()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 8, cfg.QueueSize)
	assert.Equal(t, "nway", cfg.Lock.Policy)
	assert.Equal(t, 1, cfg.Lock.BatchSize)
	assert.Zero(t, cfg.Lock.MaxKeys)
	require.NoError(t, cfg.validate())
}

// panickingStore panics with value on every size lookup.
type panickingStore struct {
	content.WritableContentStore
	value any
}

func (s *panickingStore) GetContentSize(context.Context, content.ContentID) (uint64, error) {
	panic(s.value)
}

// serveOnPipe runs one connection on the test goroutine against a client
// that sends a GET and reads until the server closes.
func serveOnPipe(t *testing.T, store content.WritableContentStore) {
	t.Helper()

	adapter := New(HTTPConfig{DrainTimeout: time.Second}, nil)
	adapter.SetStore(store)
	adapter.SetAuditWriter(io.Discard)

	server, client := net.Pipe()
	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		defer client.Close()
		_, _ = io.WriteString(client, "GET /f HTTP/1.1\r\nRequest-Id: 1\r\n\r\n")
		_, _ = io.Copy(io.Discard, client)
	}()
	t.Cleanup(func() { <-clientDone })

	NewHTTPConnection(adapter, server).Serve(context.Background())
}

func TestServeRecoversHandlerPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		serveOnPipe(t, &panickingStore{WritableContentStore: newMemoryStore(t), value: "store exploded"})
	})
}

func TestServeRepanicsLockPairingViolation(t *testing.T) {
	violation := &lock.PairingError{Op: "ReleaseRead", Key: "/f", Reason: "no active reader"}

	assert.PanicsWithValue(t, violation, func() {
		serveOnPipe(t, &panickingStore{WritableContentStore: newMemoryStore(t), value: violation})
	})
}
