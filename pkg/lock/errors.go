package lock

import "fmt"

// PairingError is the panic value raised when a release has no matching
// acquire: an unknown key, a double release, or a release in the wrong mode.
//
// It signals a bug in the caller and the lock state can no longer be
// trusted, so code that recovers panics must re-panic a PairingError
// instead of carrying on. IsFatal reports this.
type PairingError struct {
	// Op is the releasing call, e.g. "ReleaseRead" or "WriterUnlock".
	Op string
	// Key is the registry key; empty for a bare PriorityRWLock.
	Key string
	// Reason describes the mismatch.
	Reason string
}

func (e *PairingError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("lock: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("lock: %s %q: %s", e.Op, e.Key, e.Reason)
}

// Fatal marks the error as unrecoverable for panic handlers that test for
// a Fatal() bool method.
func (e *PairingError) Fatal() bool { return true }

// IsFatal reports whether a recovered panic value is a PairingError.
func IsFatal(recovered any) bool {
	_, ok := recovered.(*PairingError)
	return ok
}
