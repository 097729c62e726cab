package lock

import (
	"fmt"
	"strings"
)

// Policy selects which waiting party a PriorityRWLock admits next.
type Policy int

const (
	// PolicyReaders favours readers: waiting readers are always woken before
	// a waiting writer. Sustained read load can starve writers.
	PolicyReaders Policy = iota

	// PolicyWriters favours writers: a reader is not admitted while any
	// writer is active or waiting. Sustained write load can starve readers.
	PolicyWriters

	// PolicyNWay alternates in bounded batches: once a writer is waiting, at
	// most n further readers are admitted before the writer gets its turn.
	// Writer runs are not bounded.
	PolicyNWay
)

func (p Policy) String() string {
	switch p {
	case PolicyReaders:
		return "readers"
	case PolicyWriters:
		return "writers"
	case PolicyNWay:
		return "nway"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Valid reports whether p is one of the defined policies.
func (p Policy) Valid() bool {
	return p >= PolicyReaders && p <= PolicyNWay
}

// ParsePolicy converts a configuration string into a Policy.
//
// Matching is case-insensitive. "n_way", "n-way" and "nway" all select
// PolicyNWay.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "readers", "reader":
		return PolicyReaders, nil
	case "writers", "writer":
		return PolicyWriters, nil
	case "nway", "n_way", "n-way":
		return PolicyNWay, nil
	default:
		return 0, fmt.Errorf("unknown lock policy %q (valid: readers, writers, nway)", s)
	}
}
