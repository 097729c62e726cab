package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittohttp/pkg/content"
	"github.com/marmos91/dittohttp/pkg/content/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter blocks in Serve until its context ends or Stop is called.
type fakeAdapter struct {
	protocol string
	port     int
	serveErr error

	store   content.WritableContentStore
	stopped atomic.Bool
	stop    chan struct{}
	once    sync.Once
}

func newFakeAdapter(protocol string, port int) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, port: port, stop: make(chan struct{})}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	if f.serveErr != nil {
		return f.serveErr
	}
	select {
	case <-ctx.Done():
	case <-f.stop:
	}
	return nil
}

func (f *fakeAdapter) SetStore(store content.WritableContentStore) { f.store = store }

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.stopped.Store(true)
	f.once.Do(func() { close(f.stop) })
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Port() int        { return f.port }

// closingStore records Close calls.
type closingStore struct {
	content.WritableContentStore
	closed atomic.Bool
}

func (c *closingStore) Close() error {
	c.closed.Store(true)
	return nil
}

func newStore(t *testing.T) content.WritableContentStore {
	t.Helper()
	store, err := memory.NewMemoryContentStore(context.Background(), memory.MemoryContentStoreConfig{})
	require.NoError(t, err)
	return store
}

func TestNewPanicsWithoutStore(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
}

func TestAddAdapterInjectsStore(t *testing.T) {
	store := newStore(t)
	srv := New(store)

	a := newFakeAdapter("HTTP", 8080)
	require.NoError(t, srv.AddAdapter(a))

	assert.Equal(t, store, a.store)
	assert.Len(t, srv.Adapters(), 1)
}

func TestAddAdapterRejectsConflicts(t *testing.T) {
	srv := New(newStore(t))
	require.NoError(t, srv.AddAdapter(newFakeAdapter("HTTP", 8080)))

	assert.Error(t, srv.AddAdapter(newFakeAdapter("HTTP", 9000)), "duplicate protocol")
	assert.Error(t, srv.AddAdapter(newFakeAdapter("WEBDAV", 8080)), "duplicate port")
}

func TestServeWithoutAdapters(t *testing.T) {
	srv := New(newStore(t))
	assert.Error(t, srv.Serve(context.Background()))
}

func TestServeStopsOnCancel(t *testing.T) {
	store := &closingStore{WritableContentStore: newStore(t)}
	srv := New(store)

	a := newFakeAdapter("HTTP", 8080)
	require.NoError(t, srv.AddAdapter(a))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.True(t, a.stopped.Load())
	assert.True(t, store.closed.Load(), "store should be closed after shutdown")
	assert.Panics(t, func() { _ = srv.AddAdapter(newFakeAdapter("OTHER", 1)) })
}

func TestServeStopsOthersWhenAdapterFails(t *testing.T) {
	srv := New(newStore(t), WithStopTimeout(time.Second))

	healthy := newFakeAdapter("HTTP", 8080)
	broken := newFakeAdapter("BROKEN", 8081)
	broken.serveErr = errors.New("bind: address already in use")

	require.NoError(t, srv.AddAdapter(healthy))
	require.NoError(t, srv.AddAdapter(broken))

	err := srv.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROKEN adapter error")
	assert.True(t, healthy.stopped.Load())
}

func TestServeTwicePanics(t *testing.T) {
	srv := New(newStore(t))
	require.NoError(t, srv.AddAdapter(newFakeAdapter("HTTP", 8080)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, srv.Serve(ctx))

	assert.Panics(t, func() { _ = srv.Serve(ctx) })
}
