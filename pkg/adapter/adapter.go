// Package adapter defines the contract between the server core and the
// listeners that speak a wire protocol on its behalf.
package adapter

import (
	"context"

	"github.com/marmos91/dittohttp/pkg/content"
)

// Adapter is a protocol front end run by server.DittoServer.
//
// The server calls SetStore once, then runs Serve in its own goroutine.
// Stop may arrive at any point after that, including while Serve is still
// accepting connections, so implementations guard their own state.
type Adapter interface {
	// Serve accepts and handles connections until ctx is cancelled or the
	// listener fails. A return before cancellation is treated as fatal by
	// the server and brings the other adapters down with it.
	//
	// On cancellation Serve stops accepting, lets in-flight requests finish
	// within the adapter's shutdown timeout and returns nil or ctx.Err().
	Serve(ctx context.Context) error

	// SetStore hands the adapter the store every request reads from and
	// writes to. Called exactly once, before Serve.
	SetStore(store content.WritableContentStore)

	// Stop begins a graceful shutdown bounded by ctx. Repeated calls are
	// no-ops returning nil.
	Stop(ctx context.Context) error

	// Protocol names the adapter in logs and metric labels, e.g. "HTTP".
	Protocol() string

	// Port is the configured TCP port; 0 means the OS picks one.
	Port() int
}
