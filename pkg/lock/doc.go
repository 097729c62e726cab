// Package lock provides per-resource reader/writer synchronization.
//
// PriorityRWLock is a single reader/writer lock whose admission order is
// chosen by a Policy. Registry hands out one PriorityRWLock per string key,
// creating it on first use and reclaiming it once nobody references it.
//
// Typical use from a request handler:
//
//	locks.AcquireRead(uri)
//	defer locks.ReleaseRead(uri)
//	// read the file
package lock
