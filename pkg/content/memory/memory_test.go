package memory

import (
	"context"
	"testing"

	"github.com/marmos91/dittohttp/pkg/content"
	contenttesting "github.com/marmos91/dittohttp/pkg/content/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryContentStore runs the complete ContentStore test suite
// against the MemoryContentStore implementation.
func TestMemoryContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func() content.WritableContentStore {
			store, err := NewMemoryContentStore(context.Background(), MemoryContentStoreConfig{})
			if err != nil {
				t.Fatalf("Failed to create MemoryContentStore: %v", err)
			}
			return store
		},
	}

	suite.Run(t)
}

func TestMemoryContentStoreSizeLimit(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryContentStore(ctx, MemoryContentStoreConfig{MaxSizeBytes: 10})
	require.NoError(t, err)

	require.NoError(t, store.WriteContent(ctx, "a", []byte("123456")))

	err = store.WriteContent(ctx, "b", []byte("12345"))
	assert.ErrorIs(t, err, content.ErrStorageFull)

	// Replacing existing content only counts the difference
	require.NoError(t, store.WriteContent(ctx, "a", []byte("1234567890")))
	assert.Equal(t, uint64(10), store.TotalSize())

	require.NoError(t, store.Delete(ctx, "a"))
	assert.Equal(t, uint64(0), store.TotalSize())
	require.NoError(t, store.WriteContent(ctx, "b", []byte("12345")))
}

func TestMemoryContentStoreWriterSizeLimit(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryContentStore(ctx, MemoryContentStoreConfig{MaxSizeBytes: 4})
	require.NoError(t, err)

	w, err := store.OpenWriter(ctx, "big")
	require.NoError(t, err)

	_, err = w.Write([]byte("12345"))
	assert.ErrorIs(t, err, content.ErrStorageFull)
	require.NoError(t, w.Abort())

	exists, err := store.ContentExists(ctx, "big")
	require.NoError(t, err)
	assert.False(t, exists)
}
