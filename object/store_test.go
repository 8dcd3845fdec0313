package object

import (
	"context"
	"testing"

	"github.com/rodent-software/tributary/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	store := NewStore(backend)

	first, err := store.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)

	second, err := store.Put(ctx, []byte("same bytes"))
	require.NoError(t, err)
	assert.True(t, first.Equals(second))

	keys, err := backend.(storage.Listable).List(ctx, "objects/")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestStoreGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.NewMemory())

	id, err := store.Put(ctx, []byte("payload"))
	require.NoError(t, err)

	data, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	ok, err := store.Contains(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreGetNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.NewMemory())

	id, err := Sum([]byte("never stored"))
	require.NoError(t, err)

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := store.Contains(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDigestDistinguishesContent(t *testing.T) {
	a, err := Sum([]byte("a"))
	require.NoError(t, err)
	b, err := Sum([]byte("b"))
	require.NoError(t, err)
	assert.False(t, a.Equals(b))
}
