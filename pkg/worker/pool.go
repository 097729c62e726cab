// Package worker runs a fixed set of goroutines that consume work items from
// a bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittohttp/internal/logger"
	"github.com/marmos91/dittohttp/pkg/queue"
)

// Handler processes one work item. It owns the item for the duration of the
// call.
type Handler[T any] func(ctx context.Context, item T)

// PanicHandler is invoked with the item and the recovered value when a
// Handler panics.
type PanicHandler[T any] func(item T, recovered any)

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithPanicHandler sets a callback run after a handler panic has been
// recovered, for example to close the connection the item refers to.
func WithPanicHandler[T any](fn PanicHandler[T]) Option[T] {
	return func(p *Pool[T]) {
		p.onPanic = fn
	}
}

// Pool is a fixed-size worker pool fed by a queue.Queue.
//
// Each worker loops: pop an item, run the handler, repeat. A panicking
// handler is recovered and logged, and the worker carries on with the next
// item, unless the panic value reports itself as fatal (see isFatal), in
// which case it is re-raised and takes the process down. Workers exit once
// the queue is closed and drained.
//
// Lifecycle:
//  1. New: wire the pool to its queue and handler
//  2. Start: spawn the workers
//  3. Stop: close the queue and wait for the workers to drain it
//
// Thread safety:
// All methods are safe for concurrent use. Start only has an effect once.
type Pool[T any] struct {
	size    int
	queue   *queue.Queue[T]
	handler Handler[T]
	onPanic PanicHandler[T]

	wg        sync.WaitGroup
	startOnce sync.Once
	done      chan struct{}

	busy      atomic.Int32
	processed atomic.Uint64
	panics    atomic.Uint64
}

// New creates a pool of size workers consuming from q.
//
// Panics if size is not positive or if q or handler is nil.
func New[T any](size int, q *queue.Queue[T], handler Handler[T], opts ...Option[T]) *Pool[T] {
	if size <= 0 {
		panic(fmt.Sprintf("worker: invalid pool size %d: must be > 0", size))
	}
	if q == nil {
		panic("worker: nil queue")
	}
	if handler == nil {
		panic("worker: nil handler")
	}

	p := &Pool[T]{
		size:    size,
		queue:   q,
		handler: handler,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start spawns the workers. ctx is handed to every handler call; cancelling
// it does not stop the workers, closing the queue does.
func (p *Pool[T]) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		logger.Debug("Starting worker pool: size=%d queue_capacity=%d", p.size, p.queue.Cap())

		p.wg.Add(p.size)
		for i := 0; i < p.size; i++ {
			go p.run(ctx, i)
		}

		go func() {
			p.wg.Wait()
			close(p.done)
		}()
	})
}

// Wait blocks until every worker has exited. It must be called after Start.
func (p *Pool[T]) Wait() {
	<-p.done
}

// Done returns a channel closed once every worker has exited.
func (p *Pool[T]) Done() <-chan struct{} {
	return p.done
}

// Stop closes the queue and waits for the workers to finish the items still
// queued.
//
// Returns ctx.Err() if ctx ends first; the workers keep draining in the
// background.
func (p *Pool[T]) Stop(ctx context.Context) error {
	p.queue.Close()

	select {
	case <-p.done:
		logger.Debug("Worker pool stopped: processed=%d panics=%d", p.processed.Load(), p.panics.Load())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool stop: %d worker(s) still busy: %w", p.busy.Load(), ctx.Err())
	}
}

// Size returns the number of workers.
func (p *Pool[T]) Size() int {
	return p.size
}

// Busy returns the number of workers currently inside the handler.
func (p *Pool[T]) Busy() int32 {
	return p.busy.Load()
}

// Processed returns the number of items handled so far, panics included.
func (p *Pool[T]) Processed() uint64 {
	return p.processed.Load()
}

// Panics returns the number of handler panics recovered so far.
func (p *Pool[T]) Panics() uint64 {
	return p.panics.Load()
}

func (p *Pool[T]) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		item, err := p.queue.Pop()
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) {
				logger.Error("Worker %d: unexpected queue error: %v", id, err)
			}
			logger.Debug("Worker %d exiting", id)
			return
		}

		p.handle(ctx, id, item)
	}
}

func (p *Pool[T]) handle(ctx context.Context, id int, item T) {
	p.busy.Add(1)
	defer func() {
		p.busy.Add(-1)
		p.processed.Add(1)

		if r := recover(); r != nil {
			p.panics.Add(1)
			if isFatal(r) {
				logger.Error("Worker %d: unrecoverable panic in handler: %v\n%s", id, r, debug.Stack())
				panic(r)
			}
			logger.Error("Worker %d: panic in handler: %v\n%s", id, r, debug.Stack())
			if p.onPanic != nil {
				p.onPanic(item, r)
			}
		}
	}()

	p.handler(ctx, item)
}

// isFatal reports whether a panic value asks not to be recovered, by
// implementing Fatal() bool. lock.PairingError does.
func isFatal(r any) bool {
	f, ok := r.(interface{ Fatal() bool })
	return ok && f.Fatal()
}
