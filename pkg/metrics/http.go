package metrics

import "time"

// HTTPMetrics provides observability for the HTTP adapter.
//
// This interface is optional. If not provided to the adapter, a no-op
// implementation is used with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewHTTPMetrics()
//	adapter := http.New(config, m)
//
//	// Without metrics (no-op)
//	adapter := http.New(config, nil)
type HTTPMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - method: Request method, or "NONE" if the request line was unparsable
	//   - status: Status code sent to the client
	//   - duration: Time from dequeue to response written
	RecordRequest(method string, status int, duration time.Duration)

	// RecordRequestStart increments the in-flight request gauge.
	RecordRequestStart(method string)

	// RecordRequestEnd decrements the in-flight request gauge.
	RecordRequestEnd(method string)

	// RecordBytesTransferred records body bytes read or written.
	//
	// Parameters:
	//   - direction: "read" (GET) or "write" (PUT)
	//   - bytes: Number of body bytes
	RecordBytesTransferred(direction string, bytes int64)

	// RecordLockWait records how long a request waited for its per-file lock.
	//
	// Parameters:
	//   - mode: "read" or "write"
	//   - wait: Time between requesting and obtaining the lock
	RecordLockWait(mode string, wait time.Duration)

	// SetLockEntries updates the number of live per-file lock entries.
	SetLockEntries(count int)

	// SetQueueDepth updates the number of connections waiting for a worker.
	SetQueueDepth(depth int)

	// SetBusyWorkers updates the number of workers handling a connection.
	SetBusyWorkers(count int)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections dropped at the
	// shutdown deadline.
	RecordConnectionForceClosed()
}

// NewNoopHTTPMetrics returns an HTTPMetrics that discards everything.
func NewNoopHTTPMetrics() HTTPMetrics {
	return noopHTTPMetrics{}
}

// noopHTTPMetrics is a no-op implementation of HTTPMetrics with zero overhead.
type noopHTTPMetrics struct{}

func (noopHTTPMetrics) RecordRequest(method string, status int, duration time.Duration) {}
func (noopHTTPMetrics) RecordRequestStart(method string)                                {}
func (noopHTTPMetrics) RecordRequestEnd(method string)                                  {}
func (noopHTTPMetrics) RecordBytesTransferred(direction string, bytes int64)            {}
func (noopHTTPMetrics) RecordLockWait(mode string, wait time.Duration)                  {}
func (noopHTTPMetrics) SetLockEntries(count int)                                        {}
func (noopHTTPMetrics) SetQueueDepth(depth int)                                         {}
func (noopHTTPMetrics) SetBusyWorkers(count int)                                        {}
func (noopHTTPMetrics) SetActiveConnections(count int32)                                {}
func (noopHTTPMetrics) RecordConnectionAccepted()                                       {}
func (noopHTTPMetrics) RecordConnectionClosed()                                         {}
func (noopHTTPMetrics) RecordConnectionForceClosed()                                    {}
