package lock

import (
	"fmt"
	"sync"
)

// PriorityRWLock is a reader/writer lock with a selectable admission policy.
//
// Unlike sync.RWMutex, the order in which blocked readers and writers are
// admitted is governed by a Policy. Any number of readers may hold the lock
// together; a writer holds it alone.
//
// All four operations block until admitted. There is no timeout and no
// cancellation: an acquire that the policy and workload never permit waits
// forever.
//
// Thread safety:
// All methods are safe for concurrent use. Unlocking a lock that is not held
// in the matching mode panics.
type PriorityRWLock struct {
	mu sync.Mutex

	// readersOK is waited on by readers, writersOK by writers.
	readersOK *sync.Cond
	writersOK *sync.Cond

	policy Policy
	n      int

	activeReaders  int
	activeWriters  int
	waitingReaders int
	waitingWriters int

	// readCount is the number of readers admitted since the last writer was
	// admitted, saturating at n. It is the batch counter for PolicyNWay.
	readCount int
}

// Stats is a point-in-time snapshot of a lock's counters.
type Stats struct {
	ActiveReaders  int
	ActiveWriters  int
	WaitingReaders int
	WaitingWriters int
	ReadCount      int
}

// NewPriorityRWLock creates a lock using the given policy. n is the reader
// batch size and is only consulted under PolicyNWay.
//
// Panics if the policy is unknown or if n < 1 under PolicyNWay.
func NewPriorityRWLock(policy Policy, n int) *PriorityRWLock {
	if !policy.Valid() {
		panic(fmt.Sprintf("lock: invalid policy %d", int(policy)))
	}
	if policy == PolicyNWay && n < 1 {
		panic(fmt.Sprintf("lock: invalid batch size %d: must be >= 1", n))
	}

	l := &PriorityRWLock{
		policy: policy,
		n:      n,
	}
	l.readersOK = sync.NewCond(&l.mu)
	l.writersOK = sync.NewCond(&l.mu)
	return l
}

// Policy returns the admission policy the lock was created with.
func (l *PriorityRWLock) Policy() Policy {
	return l.policy
}

// ReaderLock blocks until a shared hold can be granted.
func (l *PriorityRWLock) ReaderLock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.waitingReaders++
	for l.readerMustWait() {
		l.readersOK.Wait()
	}
	l.waitingReaders--

	l.activeReaders++
	if l.readCount < l.n {
		l.readCount++
	}
}

// ReaderUnlock releases a shared hold and wakes waiters per the policy.
// It panics with a *PairingError when no reader holds the lock.
func (l *PriorityRWLock) ReaderUnlock() {
	if err := l.readerUnlock(); err != nil {
		err.Op = "ReaderUnlock"
		panic(err)
	}
}

func (l *PriorityRWLock) readerUnlock() *PairingError {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.activeReaders == 0 {
		return &PairingError{Reason: "no active reader"}
	}
	l.activeReaders--
	l.wake()
	return nil
}

// WriterLock blocks until an exclusive hold can be granted.
func (l *PriorityRWLock) WriterLock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.waitingWriters++
	for l.writerMustWait() {
		l.writersOK.Wait()
	}
	l.waitingWriters--

	l.activeWriters++
	l.readCount = 0
}

// WriterUnlock releases an exclusive hold and wakes waiters per the policy.
// It panics with a *PairingError when no writer holds the lock.
func (l *PriorityRWLock) WriterUnlock() {
	if err := l.writerUnlock(); err != nil {
		err.Op = "WriterUnlock"
		panic(err)
	}
}

func (l *PriorityRWLock) writerUnlock() *PairingError {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.activeWriters == 0 {
		return &PairingError{Reason: "no active writer"}
	}
	l.activeWriters--
	l.wake()
	return nil
}

// Stats returns a snapshot of the lock counters.
func (l *PriorityRWLock) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		ActiveReaders:  l.activeReaders,
		ActiveWriters:  l.activeWriters,
		WaitingReaders: l.waitingReaders,
		WaitingWriters: l.waitingWriters,
		ReadCount:      l.readCount,
	}
}

// readerMustWait reports whether a reader has to keep waiting. Caller holds mu.
//
// The caller is already counted in waitingReaders.
func (l *PriorityRWLock) readerMustWait() bool {
	if l.activeWriters > 0 {
		return true
	}

	switch l.policy {
	case PolicyWriters:
		return l.waitingWriters > 0
	case PolicyNWay:
		// The batch limit only applies while a writer is queued; with no
		// writer waiting nobody would ever reopen the batch.
		return l.readCount >= l.n && l.waitingWriters > 0
	default:
		return false
	}
}

// writerMustWait reports whether a writer has to keep waiting. Caller holds mu.
//
// The caller is already counted in waitingWriters.
func (l *PriorityRWLock) writerMustWait() bool {
	if l.activeReaders > 0 || l.activeWriters > 0 {
		return true
	}

	if l.policy == PolicyNWay {
		// Do not cut in front of an unfinished reader batch.
		return l.readCount < l.n && l.waitingReaders > 0
	}
	return false
}

// wake notifies waiters after a release. Caller holds mu.
//
// Broadcast goes to readers, since any number of them may be admitted at
// once. Signal goes to a single writer.
func (l *PriorityRWLock) wake() {
	switch l.policy {
	case PolicyReaders:
		if l.waitingReaders > 0 {
			l.readersOK.Broadcast()
		} else if l.waitingWriters > 0 {
			l.writersOK.Signal()
		}

	case PolicyWriters:
		if l.waitingWriters > 0 {
			l.writersOK.Signal()
		} else if l.waitingReaders > 0 {
			l.readersOK.Broadcast()
		}

	case PolicyNWay:
		if l.waitingReaders > 0 && l.readCount < l.n {
			l.readersOK.Broadcast()
		} else if l.waitingWriters > 0 {
			l.writersOK.Signal()
		}
	}
}
