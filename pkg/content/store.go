package content

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// ContentID names a stored file. For the HTTP server it is the request
// target with the leading "/" removed, e.g. "report.txt".
type ContentID string

// ============================================================================
// ContentStore Interface
// ============================================================================

// ContentStore provides read access to file content, independent of where the
// bytes live (local filesystem, memory, BadgerDB, S3).
//
// The store does not synchronize access to a single ContentID across
// requests. Callers that mix reads and writes of the same ID serialize them
// with a per-key reader/writer lock.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type ContentStore interface {
	// ReadContent returns a reader for the content identified by id.
	//
	// The caller must close the returned reader.
	//
	// Returns:
	//   - ErrContentNotFound if nothing is stored under id
	//   - ErrAccessDenied if the content exists but cannot be read
	//   - ErrInvalidContentID if id is not an acceptable name
	ReadContent(ctx context.Context, id ContentID) (io.ReadCloser, error)

	// GetContentSize returns the size of the content in bytes without
	// reading it.
	GetContentSize(ctx context.Context, id ContentID) (uint64, error)

	// ContentExists reports whether content is stored under id. A missing
	// entry is not an error.
	ContentExists(ctx context.Context, id ContentID) (bool, error)
}

// WritableContentStore adds whole-object writes and deletion.
type WritableContentStore interface {
	ContentStore

	// WriteContent replaces the content stored under id with data, creating
	// it if needed. Readers observe either the old or the new content, never
	// a mix.
	WriteContent(ctx context.Context, id ContentID, data []byte) error

	// Delete removes the content stored under id. Deleting a missing ID
	// returns nil.
	Delete(ctx context.Context, id ContentID) error
}

// ContentWriter receives content incrementally. Nothing becomes visible
// under the ID until Commit succeeds; Abort discards what was written.
type ContentWriter interface {
	io.Writer
	Commit() error
	Abort() error
}

// StreamingContentStore is implemented by stores that can accept content
// without buffering the whole object in memory.
type StreamingContentStore interface {
	WritableContentStore

	// OpenWriter starts a replacement of the content stored under id.
	OpenWriter(ctx context.Context, id ContentID) (ContentWriter, error)
}

// Closer is implemented by stores that hold resources (database handles,
// open files) which must be released on shutdown.
type Closer interface {
	Close() error
}

// ValidateID rejects IDs that cannot name a single flat file: empty names,
// "." and "..", and anything containing a path separator or NUL byte.
func ValidateID(id ContentID) error {
	s := string(id)
	switch {
	case s == "", s == ".", s == "..":
		return fmt.Errorf("content %q: %w", s, ErrInvalidContentID)
	case strings.ContainsAny(s, "/\\\x00"):
		return fmt.Errorf("content %q: %w", s, ErrInvalidContentID)
	}
	return nil
}
