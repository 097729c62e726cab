package content

import "errors"

// ============================================================================
// Standard Content Store Errors
// ============================================================================

// These errors provide a consistent way to indicate common failure conditions
// across all content store implementations. Protocol handlers check for them
// with errors.Is and map them to protocol status codes.
//
// Implementations wrap them with context:
//
//	return fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)

var (
	// ErrContentNotFound indicates the requested content does not exist.
	//
	// Protocol Mapping:
	//   - HTTP: 404 Not Found
	ErrContentNotFound = errors.New("content not found")

	// ErrAccessDenied indicates the content exists but the store may not read
	// or replace it: a permission error, or a directory where a file was
	// expected.
	//
	// Protocol Mapping:
	//   - HTTP: 403 Forbidden
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidContentID indicates the ContentID cannot name a stored file.
	//
	// Protocol Mapping:
	//   - HTTP: 403 Forbidden
	ErrInvalidContentID = errors.New("invalid content ID")

	// ErrStorageFull indicates the storage backend has no available space or
	// its configured size limit was reached.
	//
	// Protocol Mapping:
	//   - HTTP: 500 Internal Server Error
	ErrStorageFull = errors.New("storage full")

	// ErrUnavailable indicates the storage backend is temporarily
	// unreachable. Retrying may succeed.
	//
	// Protocol Mapping:
	//   - HTTP: 500 Internal Server Error
	ErrUnavailable = errors.New("storage unavailable")
)
