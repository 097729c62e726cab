package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittohttp/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBasicTests covers reads, sizes and existence checks.
func (suite *StoreTestSuite) RunBasicTests(t *testing.T) {
	t.Run("ReadMissing", func(t *testing.T) {
		store := suite.NewStore()

		_, err := store.ReadContent(testContext(), "missing.txt")
		AssertErrorIs(t, content.ErrContentNotFound, err)
	})

	t.Run("SizeMissing", func(t *testing.T) {
		store := suite.NewStore()

		_, err := store.GetContentSize(testContext(), "missing.txt")
		AssertErrorIs(t, content.ErrContentNotFound, err)
	})

	t.Run("ExistsMissing", func(t *testing.T) {
		store := suite.NewStore()
		mustExist(t, store, "missing.txt", false)
	})

	t.Run("WriteThenRead", func(t *testing.T) {
		store := suite.NewStore()
		data := []byte("Hello, World!")

		mustWriteContent(t, store, "hello.txt", data)

		assert.Equal(t, data, mustReadContent(t, store, "hello.txt"))
		assert.Equal(t, uint64(len(data)), mustGetSize(t, store, "hello.txt"))
		mustExist(t, store, "hello.txt", true)
	})

	t.Run("EmptyContent", func(t *testing.T) {
		store := suite.NewStore()

		mustWriteContent(t, store, "empty", nil)

		assert.Empty(t, mustReadContent(t, store, "empty"))
		assert.Equal(t, uint64(0), mustGetSize(t, store, "empty"))
		mustExist(t, store, "empty", true)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		store := suite.NewStore()
		ctx, cancel := context.WithCancel(testContext())
		cancel()

		_, err := store.ReadContent(ctx, "hello.txt")
		AssertErrorIs(t, context.Canceled, err)

		err = store.WriteContent(ctx, "hello.txt", []byte("x"))
		AssertErrorIs(t, context.Canceled, err)
	})
}

// RunWriteTests covers overwrite and delete semantics.
func (suite *StoreTestSuite) RunWriteTests(t *testing.T) {
	t.Run("OverwriteReplaces", func(t *testing.T) {
		store := suite.NewStore()

		mustWriteContent(t, store, "file.txt", []byte("a much longer first version"))
		mustWriteContent(t, store, "file.txt", []byte("short"))

		assert.Equal(t, []byte("short"), mustReadContent(t, store, "file.txt"))
		assert.Equal(t, uint64(5), mustGetSize(t, store, "file.txt"))
	})

	t.Run("CallerBufferNotRetained", func(t *testing.T) {
		store := suite.NewStore()
		data := []byte("original")

		mustWriteContent(t, store, "file.txt", data)
		copy(data, "mutated!")

		assert.Equal(t, []byte("original"), mustReadContent(t, store, "file.txt"))
	})

	t.Run("Delete", func(t *testing.T) {
		store := suite.NewStore()

		mustWriteContent(t, store, "file.txt", []byte("data"))
		mustDelete(t, store, "file.txt")

		mustExist(t, store, "file.txt", false)
		_, err := store.ReadContent(testContext(), "file.txt")
		AssertErrorIs(t, content.ErrContentNotFound, err)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		store := suite.NewStore()
		mustDelete(t, store, "never-written")
	})

	t.Run("IndependentIDs", func(t *testing.T) {
		store := suite.NewStore()

		mustWriteContent(t, store, "a.txt", []byte("A"))
		mustWriteContent(t, store, "b.txt", []byte("BB"))
		mustDelete(t, store, "a.txt")

		mustExist(t, store, "a.txt", false)
		require.Equal(t, []byte("BB"), mustReadContent(t, store, "b.txt"))
	})

	t.Run("LargeContent", func(t *testing.T) {
		store := suite.NewStore()
		data := patternData(1 << 20)

		mustWriteContent(t, store, "large.bin", data)

		assert.Equal(t, data, mustReadContent(t, store, "large.bin"))
	})
}

// RunInvalidIDTests checks that names outside a flat namespace are rejected.
func (suite *StoreTestSuite) RunInvalidIDTests(t *testing.T) {
	invalid := []content.ContentID{"", ".", "..", "a/b", "../etc", "a\\b", "nul\x00byte"}

	for _, id := range invalid {
		t.Run(string(id), func(t *testing.T) {
			store := suite.NewStore()

			_, err := store.ReadContent(testContext(), id)
			AssertErrorIs(t, content.ErrInvalidContentID, err)

			err = store.WriteContent(testContext(), id, []byte("x"))
			AssertErrorIs(t, content.ErrInvalidContentID, err)
		})
	}
}

// RunStreamingTests exercises OpenWriter when the store supports it.
func (suite *StoreTestSuite) RunStreamingTests(t *testing.T) {
	if _, ok := suite.NewStore().(content.StreamingContentStore); !ok {
		t.Skip("store does not implement StreamingContentStore")
	}

	newStore := func() content.StreamingContentStore {
		return suite.NewStore().(content.StreamingContentStore)
	}

	t.Run("CommitPublishes", func(t *testing.T) {
		store := newStore()

		w, err := store.OpenWriter(testContext(), "stream.txt")
		require.NoError(t, err)

		_, err = w.Write([]byte("part one, "))
		require.NoError(t, err)
		_, err = w.Write([]byte("part two"))
		require.NoError(t, err)

		mustExist(t, store, "stream.txt", false)

		require.NoError(t, w.Commit())
		assert.Equal(t, []byte("part one, part two"), mustReadContent(t, store, "stream.txt"))
	})

	t.Run("AbortDiscards", func(t *testing.T) {
		store := newStore()
		mustWriteContent(t, store, "stream.txt", []byte("previous"))

		w, err := store.OpenWriter(testContext(), "stream.txt")
		require.NoError(t, err)
		_, err = w.Write([]byte("replacement"))
		require.NoError(t, err)
		require.NoError(t, w.Abort())

		assert.Equal(t, []byte("previous"), mustReadContent(t, store, "stream.txt"))
	})

	t.Run("CommitTwiceFails", func(t *testing.T) {
		store := newStore()

		w, err := store.OpenWriter(testContext(), "stream.txt")
		require.NoError(t, err)
		require.NoError(t, w.Commit())
		assert.Error(t, w.Commit())
	})

	t.Run("InvalidID", func(t *testing.T) {
		store := newStore()

		_, err := store.OpenWriter(testContext(), "../escape")
		AssertErrorIs(t, content.ErrInvalidContentID, err)
	})
}
