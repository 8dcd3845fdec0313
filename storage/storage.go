package storage

import (
	"context"
	"errors"

	"github.com/ipld/go-ipld-prime/storage"
)

var ErrNotFound = errors.New("key not found")

// Storage is the key-value backend shared by the object store and the
// metadata chains. Keys are slash-separated paths ("objects/<digest>",
// "blocks/<digest>", "refs/<dataset>"); values are immutable once written
// except for head refs, which are small and rewritten on every append.
type Storage interface {
	storage.ReadableStorage
	storage.WritableStorage
}

// Listable is implemented by backends that can enumerate keys by prefix.
// Used to discover dataset head refs.
type Listable interface {
	List(ctx context.Context, prefix string) ([]string, error)
}
