package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/marmos91/dittohttp/pkg/content"
)

// tempPrefix marks in-progress writes. Such files are never served.
const tempPrefix = ".dittohttp-tmp-"

// FSContentStore implements StreamingContentStore on a local directory.
//
// Each ContentID is stored as a regular file of the same name directly under
// the base directory, so files already present there are served as-is.
//
// Writes go to a uniquely named temporary file in the same directory and are
// renamed over the target on commit, so a reader never sees a partially
// written file.
//
// Thread Safety:
// Safe for concurrent use. Concurrent writers to the same ID race with
// last-rename-wins semantics; callers serialize them with a writer lock.
type FSContentStore struct {
	basePath string
	fileMode os.FileMode
}

// FSContentStoreConfig configures a FSContentStore.
type FSContentStoreConfig struct {
	// Path is the directory holding the served files. Created if missing.
	Path string `mapstructure:"path"`

	// FileMode is the permission used for newly written files. Default 0644.
	FileMode uint32 `mapstructure:"file_mode"`
}

// NewFSContentStore creates a filesystem-backed store rooted at cfg.Path.
//
// Context Cancellation:
// This operation checks the context before creating the directory structure.
//
// Returns:
//   - *FSContentStore: Initialized store
//   - error: If the path is empty, cannot be created, or is not a directory
func NewFSContentStore(ctx context.Context, cfg FSContentStoreConfig) (*FSContentStore, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}

	// ========================================================================
	// Step 2: Create the base directory if it doesn't exist
	// ========================================================================

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	info, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("filesystem content store: %s is not a directory", cfg.Path)
	}

	mode := os.FileMode(cfg.FileMode)
	if mode == 0 {
		mode = 0644
	}

	return &FSContentStore{
		basePath: cfg.Path,
		fileMode: mode,
	}, nil
}

// BasePath returns the directory the store serves from.
func (r *FSContentStore) BasePath() string {
	return r.basePath
}

// getFilePath validates id and returns its full path.
func (r *FSContentStore) getFilePath(id content.ContentID) (string, error) {
	if err := content.ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(r.basePath, string(id)), nil
}

// ============================================================================
// ContentStore Interface Implementation
// ============================================================================

// ReadContent opens the file stored under id.
//
// Directories and files the process may not read are reported as
// ErrAccessDenied.
func (r *FSContentStore) ReadContent(ctx context.Context, id content.ContentID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := r.getFilePath(id)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, mapError(id, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat content: %w", err)
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, fmt.Errorf("content %s is not a regular file: %w", id, content.ErrAccessDenied)
	}

	return file, nil
}

// GetContentSize returns the size of the file stored under id.
func (r *FSContentStore) GetContentSize(ctx context.Context, id content.ContentID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	filePath, err := r.getFilePath(id)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return 0, mapError(id, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("content %s is not a regular file: %w", id, content.ErrAccessDenied)
	}

	return uint64(info.Size()), nil
}

// ContentExists reports whether anything exists under id, directories
// included. A directory makes a later read or write fail with
// ErrAccessDenied rather than ErrContentNotFound.
func (r *FSContentStore) ContentExists(ctx context.Context, id content.ContentID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	filePath, err := r.getFilePath(id)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(filePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, mapError(id, err)
}

// ============================================================================
// WritableContentStore Interface Implementation
// ============================================================================

// WriteContent atomically replaces the file stored under id with data.
func (r *FSContentStore) WriteContent(ctx context.Context, id content.ContentID, data []byte) error {
	w, err := r.OpenWriter(ctx, id)
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Commit()
}

// Delete removes the file stored under id.
func (r *FSContentStore) Delete(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	filePath, err := r.getFilePath(id)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return mapError(id, err)
	}
	return nil
}

// ============================================================================
// StreamingContentStore Interface Implementation
// ============================================================================

// OpenWriter starts an atomic replacement of the file stored under id.
//
// The data is written to a temporary file next to the target. Commit syncs
// and renames it into place; Abort removes it.
func (r *FSContentStore) OpenWriter(ctx context.Context, id content.ContentID) (content.ContentWriter, error) {
	// ========================================================================
	// Step 1: Validate the target
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, err := r.getFilePath(id)
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(target); err == nil && !info.Mode().IsRegular() {
		return nil, fmt.Errorf("content %s is not a regular file: %w", id, content.ErrAccessDenied)
	}

	// ========================================================================
	// Step 2: Create the temporary file
	// ========================================================================

	tmpPath := filepath.Join(r.basePath, tempPrefix+uuid.NewString())
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, r.fileMode)
	if err != nil {
		return nil, mapError(id, err)
	}

	return &fileWriter{
		id:      id,
		file:    file,
		tmpPath: tmpPath,
		target:  target,
	}, nil
}

type fileWriter struct {
	id      content.ContentID
	file    *os.File
	tmpPath string
	target  string
	done    bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if err != nil {
		return n, mapError(w.id, err)
	}
	return n, nil
}

func (w *fileWriter) Commit() error {
	if w.done {
		return fmt.Errorf("content %s: writer already finished", w.id)
	}
	w.done = true

	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		_ = os.Remove(w.tmpPath)
		return mapError(w.id, err)
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return mapError(w.id, err)
	}
	if err := os.Rename(w.tmpPath, w.target); err != nil {
		_ = os.Remove(w.tmpPath)
		return mapError(w.id, err)
	}
	return nil
}

func (w *fileWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	_ = w.file.Close()
	if err := os.Remove(w.tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temporary file: %w", err)
	}
	return nil
}

// mapError translates OS errors into content store errors.
func mapError(id content.ContentID, err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	case os.IsPermission(err), errors.Is(err, syscall.EISDIR):
		return fmt.Errorf("content %s: %w: %v", id, content.ErrAccessDenied, err)
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return fmt.Errorf("content %s: %w: %v", id, content.ErrStorageFull, err)
	default:
		return fmt.Errorf("content %s: %w", id, err)
	}
}

// Compile-time interface check.
var _ content.StreamingContentStore = (*FSContentStore)(nil)
