package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittohttp/pkg/lock"
	"github.com/marmos91/dittohttp/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewValidation(t *testing.T) {
	q := queue.New[int](1)
	noop := func(context.Context, int) {}

	assert.PanicsWithValue(t, "worker: invalid pool size 0: must be > 0", func() {
		New(0, q, noop)
	})
	assert.PanicsWithValue(t, "worker: nil queue", func() {
		New[int](1, nil, noop)
	})
	assert.PanicsWithValue(t, "worker: nil handler", func() {
		New[int](1, q, nil)
	})
}

func TestPoolProcessesAllItems(t *testing.T) {
	q := queue.New[int](4)

	var mu sync.Mutex
	seen := make(map[int]int)
	p := New(4, q, func(_ context.Context, item int) {
		mu.Lock()
		seen[item]++
		mu.Unlock()
	})
	p.Start(context.Background())

	for i := 0; i < 100; i++ {
		require.NoError(t, q.Push(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	assert.Len(t, seen, 100)
	for i := 0; i < 100; i++ {
		assert.Equal(t, 1, seen[i], "item %d handled %d times", i, seen[i])
	}
	assert.Equal(t, uint64(100), p.Processed())
	assert.Equal(t, int32(0), p.Busy())
}

func TestPoolRunsWorkersInParallel(t *testing.T) {
	const size = 3
	q := queue.New[int](size)

	var inside atomic.Int32
	release := make(chan struct{})
	p := New(size, q, func(_ context.Context, _ int) {
		inside.Add(1)
		<-release
	})
	p.Start(context.Background())

	for i := 0; i < size; i++ {
		require.NoError(t, q.Push(i))
	}
	require.Eventually(t, func() bool { return inside.Load() == size }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(size), p.Busy())

	close(release)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPoolRecoversFromPanic(t *testing.T) {
	q := queue.New[int](2)

	var recovered []int
	var mu sync.Mutex
	var handled atomic.Int32

	p := New(1, q, func(_ context.Context, item int) {
		if item == 1 {
			panic("bad item")
		}
		handled.Add(1)
	}, WithPanicHandler(func(item int, r any) {
		mu.Lock()
		recovered = append(recovered, item)
		mu.Unlock()
		assert.Equal(t, "bad item", r)
	}))
	p.Start(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(i))
	}
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, int32(2), handled.Load(), "worker must survive a panicking item")
	assert.Equal(t, []int{1}, recovered)
	assert.Equal(t, uint64(1), p.Panics())
	assert.Equal(t, uint64(3), p.Processed())
}

type fatalPanic struct{}

func (fatalPanic) Fatal() bool { return true }

func TestPoolRepanicsFatalValues(t *testing.T) {
	q := queue.New[int](1)

	var onPanicCalled atomic.Bool
	p := New(1, q, func(context.Context, int) {
		panic(fatalPanic{})
	}, WithPanicHandler(func(int, any) {
		onPanicCalled.Store(true)
	}))

	// Driven on the test goroutine: a fatal panic escaping a worker
	// goroutine would end the test binary.
	assert.PanicsWithValue(t, fatalPanic{}, func() {
		p.handle(context.Background(), 0, 1)
	})
	assert.False(t, onPanicCalled.Load(), "fatal panics must not reach the panic handler")
	assert.Equal(t, uint64(1), p.Panics())
	assert.Equal(t, int32(0), p.Busy())
}

func TestPoolRepanicsLockPairingViolation(t *testing.T) {
	q := queue.New[string](1)
	locks := lock.NewRegistry(lock.RegistryConfig{Policy: lock.PolicyNWay})

	p := New(1, q, func(_ context.Context, key string) {
		locks.AcquireWrite(key)
		locks.ReleaseRead(key)
	})

	defer func() {
		r := recover()
		require.True(t, lock.IsFatal(r), "expected a pairing violation, got %v", r)
		assert.EqualError(t, r.(error), `lock: ReleaseRead "/bad": no active reader`)
	}()
	p.handle(context.Background(), 0, "/bad")
	t.Fatal("pairing violation was swallowed by the pool")
}

func TestPoolPassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	q := queue.New[int](1)
	got := make(chan any, 1)
	p := New(1, q, func(ctx context.Context, _ int) {
		got <- ctx.Value(key{})
	})
	p.Start(ctx)
	require.NoError(t, q.Push(0))

	assert.Equal(t, "v", <-got)
	require.NoError(t, p.Stop(context.Background()))
}

func TestStopTimesOutWithBusyWorker(t *testing.T) {
	q := queue.New[int](1)
	release := make(chan struct{})
	p := New(1, q, func(context.Context, int) { <-release })
	p.Start(context.Background())
	require.NoError(t, q.Push(0))
	require.Eventually(t, func() bool { return p.Busy() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	p.Wait()
}

func TestStartIsIdempotent(t *testing.T) {
	q := queue.New[int](1)
	var calls atomic.Int32
	p := New(2, q, func(context.Context, int) { calls.Add(1) })

	p.Start(context.Background())
	p.Start(context.Background())

	require.NoError(t, q.Push(1))
	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2, p.Size())
}
