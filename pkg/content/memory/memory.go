package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/dittohttp/pkg/content"
)

// MemoryContentStore implements StreamingContentStore using in-memory storage.
//
// Characteristics:
//   - Fast: All operations are memory-speed
//   - Volatile: Data lost on restart
//   - Memory-bound: Optionally capped by MaxSizeBytes
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Data is copied on read and
// write so callers never share buffers with the store.
type MemoryContentStore struct {
	// data stores the file content keyed by ContentID
	data map[content.ContentID][]byte

	// totalSize is the sum of all stored content lengths
	totalSize uint64

	// maxSize caps totalSize. Zero means unlimited.
	maxSize uint64

	mu sync.RWMutex
}

// MemoryContentStoreConfig configures a MemoryContentStore.
type MemoryContentStoreConfig struct {
	// MaxSizeBytes limits the total bytes held. Zero means unlimited.
	MaxSizeBytes uint64 `mapstructure:"max_size_bytes"`
}

// NewMemoryContentStore creates a new empty in-memory content store.
//
// Context Cancellation:
// This operation checks the context before initialization.
func NewMemoryContentStore(ctx context.Context, cfg MemoryContentStoreConfig) (*MemoryContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &MemoryContentStore{
		data:    make(map[content.ContentID][]byte),
		maxSize: cfg.MaxSizeBytes,
	}, nil
}

// ReadContent returns a reader over a copy of the content.
func (s *MemoryContentStore) ReadContent(ctx context.Context, id content.ContentID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := content.ValidateID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, exists := s.data[id]
	if !exists {
		s.mu.RUnlock()
		return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}

	// Copy so a later write cannot change what this reader sees
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	s.mu.RUnlock()

	return io.NopCloser(bytes.NewReader(dataCopy)), nil
}

// GetContentSize returns the size of the stored content in bytes.
func (s *MemoryContentStore) GetContentSize(ctx context.Context, id content.ContentID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateID(id); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.data[id]
	if !exists {
		return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	return uint64(len(data)), nil
}

// ContentExists reports whether content is stored under id.
func (s *MemoryContentStore) ContentExists(ctx context.Context, id content.ContentID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := content.ValidateID(id); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.data[id]
	return exists, nil
}

// WriteContent replaces the content stored under id.
//
// Returns ErrStorageFull if the write would push the store past
// MaxSizeBytes. The previous content is kept in that case.
func (s *MemoryContentStore) WriteContent(ctx context.Context, id content.ContentID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := content.ValidateID(id); err != nil {
		return err
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.storeLocked(id, dataCopy)
}

// storeLocked swaps in data for id. Caller must hold s.mu for writing.
func (s *MemoryContentStore) storeLocked(id content.ContentID, data []byte) error {
	oldSize := uint64(len(s.data[id]))
	newTotal := s.totalSize - oldSize + uint64(len(data))

	if s.maxSize > 0 && newTotal > s.maxSize {
		return fmt.Errorf("content %s: %w (limit %d bytes)", id, content.ErrStorageFull, s.maxSize)
	}

	s.data[id] = data
	s.totalSize = newTotal
	return nil
}

// Delete removes content. Deleting a missing ID is not an error.
func (s *MemoryContentStore) Delete(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := content.ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if data, exists := s.data[id]; exists {
		s.totalSize -= uint64(len(data))
		delete(s.data, id)
	}
	return nil
}

// OpenWriter buffers writes and stores them on Commit.
func (s *MemoryContentStore) OpenWriter(ctx context.Context, id content.ContentID) (content.ContentWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := content.ValidateID(id); err != nil {
		return nil, err
	}
	return &bufferWriter{store: s, id: id}, nil
}

// TotalSize returns the number of bytes currently stored.
func (s *MemoryContentStore) TotalSize() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalSize
}

type bufferWriter struct {
	store *MemoryContentStore
	id    content.ContentID
	buf   bytes.Buffer
	done  bool
}

func (w *bufferWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("content %s: write after commit or abort", w.id)
	}
	if max := w.store.maxSize; max > 0 && uint64(w.buf.Len()+len(p)) > max {
		return 0, fmt.Errorf("content %s: %w (limit %d bytes)", w.id, content.ErrStorageFull, max)
	}
	return w.buf.Write(p)
}

func (w *bufferWriter) Commit() error {
	if w.done {
		return fmt.Errorf("content %s: writer already finished", w.id)
	}
	w.done = true

	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	return w.store.storeLocked(w.id, w.buf.Bytes())
}

func (w *bufferWriter) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}

var _ content.StreamingContentStore = (*MemoryContentStore)(nil)
