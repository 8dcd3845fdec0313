package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Storage {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	bdg, err := NewBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		bdg.(interface{ Close() error }).Close()
	})

	return map[string]Storage{
		"memory":     NewMemory(),
		"filesystem": fs,
		"badger":     bdg,
	}
}

func TestStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := store.Has(ctx, "objects/abc")
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = store.Get(ctx, "objects/abc")
			assert.ErrorIs(t, err, ErrNotFound)

			err = store.Put(ctx, "objects/abc", []byte("hello"))
			require.NoError(t, err)

			ok, err = store.Has(ctx, "objects/abc")
			require.NoError(t, err)
			assert.True(t, ok)

			content, err := store.Get(ctx, "objects/abc")
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), content)
		})
	}
}

func TestStorageList(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "refs/b", []byte("2")))
			require.NoError(t, store.Put(ctx, "refs/a", []byte("1")))
			require.NoError(t, store.Put(ctx, "objects/x", []byte("3")))

			keys, err := store.(Listable).List(ctx, "refs/")
			require.NoError(t, err)
			assert.Equal(t, []string{"refs/a", "refs/b"}, keys)
		})
	}
}

func TestFilesystemOverwrite(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "refs/head", []byte("one")))
	require.NoError(t, store.Put(ctx, "refs/head", []byte("two")))

	content, err := store.Get(ctx, "refs/head")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), content)
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	err = store.Put(ctx, "../escape", []byte("nope"))
	assert.Error(t, err)
}
