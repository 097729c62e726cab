package http

import (
	"fmt"
	"io"
	"sync"
)

// AuditLogger writes one line per completed request:
//
//	<method>,<uri>,<status>,<request-id>
//
// Lines from concurrent workers are never interleaved.
type AuditLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewAuditLogger returns a logger writing to w. A nil w discards entries.
func NewAuditLogger(w io.Writer) *AuditLogger {
	if w == nil {
		w = io.Discard
	}
	return &AuditLogger{w: w}
}

// Log records a completed request. Write errors are returned but the entry
// is otherwise dropped.
func (a *AuditLogger) Log(method, uri string, status int, requestID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := fmt.Fprintf(a.w, "%s,%s,%d,%d\n", method, uri, status, requestID)
	return err
}
