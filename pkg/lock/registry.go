package lock

import (
	"fmt"
	"sort"
	"sync"
)

// RegistryConfig controls how a Registry builds and bounds its locks.
type RegistryConfig struct {
	// Policy is the admission policy given to every per-key lock.
	Policy Policy

	// BatchSize is the reader batch size for PolicyNWay. Defaults to 1.
	BatchSize int

	// MaxKeys bounds the number of distinct keys tracked at once.
	// 0 means unbounded. When the bound is reached, registering a new key
	// waits until another key's entry is reclaimed.
	MaxKeys int
}

// Registry maps resource keys to PriorityRWLock instances on demand.
//
// An entry is created on the first acquire for a key and reclaimed as soon
// as the last interested goroutine releases it. The refcount of an entry
// counts every goroutine between an Acquire call and the matching Release,
// whether it already holds the lock or is still waiting for it.
//
// Bookkeeping is guarded by a mutex owned by the registry itself. That mutex
// is never held while waiting on a per-key lock, so contention on one key
// never delays registration of another.
//
// Thread safety:
// All methods are safe for concurrent use. A release that does not match an
// acquire panics with a *PairingError, which callers must treat as fatal.
type Registry struct {
	mu sync.Mutex

	// slotFree is signalled when an entry is reclaimed; only used with MaxKeys.
	slotFree *sync.Cond

	entries map[string]*entry

	policy    Policy
	batchSize int
	maxKeys   int
}

type entry struct {
	lock     *PriorityRWLock
	refcount int
}

// NewRegistry creates an empty registry.
//
// Panics on an invalid policy or a negative MaxKeys.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if !cfg.Policy.Valid() {
		panic(fmt.Sprintf("lock: invalid policy %d", int(cfg.Policy)))
	}
	if cfg.MaxKeys < 0 {
		panic(fmt.Sprintf("lock: invalid max keys %d: must be >= 0", cfg.MaxKeys))
	}

	size := cfg.MaxKeys
	if size == 0 {
		size = 64
	}

	r := &Registry{
		entries:   make(map[string]*entry, size),
		policy:    cfg.Policy,
		batchSize: cfg.BatchSize,
		maxKeys:   cfg.MaxKeys,
	}
	r.slotFree = sync.NewCond(&r.mu)
	return r
}

// AcquireRead registers interest in key and blocks until a shared hold on
// its lock is granted.
func (r *Registry) AcquireRead(key string) {
	r.register(key).ReaderLock()
}

// ReleaseRead drops a shared hold taken with AcquireRead.
func (r *Registry) ReleaseRead(key string) {
	if err := r.lookup("ReleaseRead", key).readerUnlock(); err != nil {
		err.Op, err.Key = "ReleaseRead", key
		panic(err)
	}
	r.unregister("ReleaseRead", key)
}

// AcquireWrite registers interest in key and blocks until an exclusive hold
// on its lock is granted.
func (r *Registry) AcquireWrite(key string) {
	r.register(key).WriterLock()
}

// ReleaseWrite drops an exclusive hold taken with AcquireWrite.
func (r *Registry) ReleaseWrite(key string) {
	if err := r.lookup("ReleaseWrite", key).writerUnlock(); err != nil {
		err.Op, err.Key = "ReleaseWrite", key
		panic(err)
	}
	r.unregister("ReleaseWrite", key)
}

// WithRead runs fn while holding a shared lock on key. The lock is released
// however fn returns, including by panic.
func (r *Registry) WithRead(key string, fn func() error) error {
	r.AcquireRead(key)
	defer r.ReleaseRead(key)
	return fn()
}

// WithWrite runs fn while holding an exclusive lock on key. The lock is
// released however fn returns, including by panic.
func (r *Registry) WithWrite(key string, fn func() error) error {
	r.AcquireWrite(key)
	defer r.ReleaseWrite(key)
	return fn()
}

// RefCount returns the number of goroutines registered on key, 0 if the key
// has no entry.
func (r *Registry) RefCount(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		return e.refcount
	}
	return 0
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns the keys with a live entry, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Stats returns the counters of key's lock, and false if it has no entry.
func (r *Registry) Stats(key string) (Stats, bool) {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()

	if !ok {
		return Stats{}, false
	}
	// Reading counters of a lock that is reclaimed concurrently is harmless.
	return e.lock.Stats(), true
}

// register finds or creates the entry for key and bumps its refcount.
func (r *Registry) register(key string) *PriorityRWLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if e, ok := r.entries[key]; ok {
			e.refcount++
			return e.lock
		}
		if r.maxKeys == 0 || len(r.entries) < r.maxKeys {
			break
		}
		r.slotFree.Wait()
	}

	e := &entry{
		lock:     NewPriorityRWLock(r.policy, r.batchSize),
		refcount: 1,
	}
	r.entries[key] = e
	return e.lock
}

// lookup returns the lock for a key the caller is registered on.
func (r *Registry) lookup(op, key string) *PriorityRWLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || e.refcount <= 0 {
		panic(&PairingError{Op: op, Key: key, Reason: "key not registered"})
	}
	return e.lock
}

// unregister drops one reference on key and reclaims the entry at zero.
func (r *Registry) unregister(op, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || e.refcount <= 0 {
		panic(&PairingError{Op: op, Key: key, Reason: "key not registered"})
	}

	e.refcount--
	if e.refcount == 0 {
		delete(r.entries, key)
		if r.maxKeys > 0 {
			// Waiters may be after different keys, so wake them all.
			r.slotFree.Broadcast()
		}
	}
}
