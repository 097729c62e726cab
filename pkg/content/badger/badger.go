package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittohttp/pkg/content"
)

// keyPrefix namespaces content keys so the database can hold other data
// later without collisions.
const keyPrefix = "c:"

// BadgerContentStore implements StreamingContentStore on an embedded
// BadgerDB key-value database.
//
// Each ContentID is stored as a single value. Badger transactions make every
// write atomic, so readers see either the previous or the new content.
//
// Thread Safety:
// Safe for concurrent use. BadgerDB provides serializable snapshot isolation.
type BadgerContentStore struct {
	db *badger.DB
}

// BadgerContentStoreConfig configures a BadgerContentStore.
type BadgerContentStoreConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory keeps the database in RAM only.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// Compress enables Snappy compression of stored blocks.
	Compress bool `mapstructure:"compress"`
}

// NewBadgerContentStore opens (or creates) a BadgerDB content store.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: Database location and tuning
//
// Returns:
//   - *BadgerContentStore: Open store. Close it on shutdown.
//   - error: If the database cannot be opened or the context is cancelled
func NewBadgerContentStore(ctx context.Context, cfg BadgerContentStoreConfig) (*BadgerContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger content store: path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithLoggingLevel(badger.WARNING)

	if cfg.Compress {
		opts = opts.WithCompression(options.Snappy)
	} else {
		opts = opts.WithCompression(options.None)
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	return &BadgerContentStore{db: db}, nil
}

func contentKey(id content.ContentID) []byte {
	return []byte(keyPrefix + string(id))
}

// ReadContent returns a reader over a copy of the stored value.
func (s *BadgerContentStore) ReadContent(ctx context.Context, id content.ContentID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := content.ValidateID(id); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(contentKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, mapError(id, err)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// GetContentSize returns the stored value size without copying it.
func (s *BadgerContentStore) GetContentSize(ctx context.Context, id content.ContentID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateID(id); err != nil {
		return 0, err
	}

	var size uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(contentKey(id))
		if err != nil {
			return err
		}
		size = uint64(item.ValueSize())
		return nil
	})
	if err != nil {
		return 0, mapError(id, err)
	}
	return size, nil
}

// ContentExists reports whether a value is stored under id.
func (s *BadgerContentStore) ContentExists(ctx context.Context, id content.ContentID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := content.ValidateID(id); err != nil {
		return false, err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(contentKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, mapError(id, err)
	}
	return true, nil
}

// WriteContent stores data under id in a single transaction.
func (s *BadgerContentStore) WriteContent(ctx context.Context, id content.ContentID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := content.ValidateID(id); err != nil {
		return err
	}

	// Badger may retain the slice until commit, so hand it a private copy
	value := make([]byte, len(data))
	copy(value, data)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(contentKey(id), value)
	})
	if err != nil {
		return mapError(id, err)
	}
	return nil
}

// Delete removes the value stored under id.
func (s *BadgerContentStore) Delete(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := content.ValidateID(id); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(contentKey(id))
	})
	if err != nil {
		return mapError(id, err)
	}
	return nil
}

// OpenWriter buffers writes and stores them in one transaction on Commit.
func (s *BadgerContentStore) OpenWriter(ctx context.Context, id content.ContentID) (content.ContentWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := content.ValidateID(id); err != nil {
		return nil, err
	}
	return &txnWriter{ctx: ctx, store: s, id: id}, nil
}

// Close releases the database.
func (s *BadgerContentStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

type txnWriter struct {
	ctx   context.Context
	store *BadgerContentStore
	id    content.ContentID
	buf   bytes.Buffer
	done  bool
}

func (w *txnWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("content %s: write after commit or abort", w.id)
	}
	return w.buf.Write(p)
}

func (w *txnWriter) Commit() error {
	if w.done {
		return fmt.Errorf("content %s: writer already finished", w.id)
	}
	w.done = true

	err := w.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(contentKey(w.id), w.buf.Bytes())
	})
	if err != nil {
		return mapError(w.id, err)
	}
	return nil
}

func (w *txnWriter) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}

func mapError(id content.ContentID, err error) error {
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	case errors.Is(err, badger.ErrTxnTooBig):
		return fmt.Errorf("content %s: %w: %v", id, content.ErrStorageFull, err)
	case errors.Is(err, badger.ErrDBClosed), errors.Is(err, badger.ErrBlockedWrites):
		return fmt.Errorf("content %s: %w: %v", id, content.ErrUnavailable, err)
	default:
		return fmt.Errorf("content %s: %w", id, err)
	}
}

var (
	_ content.StreamingContentStore = (*BadgerContentStore)(nil)
	_ content.Closer                = (*BadgerContentStore)(nil)
)
