package object

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/rodent-software/tributary/storage"
)

// ErrNotFound is returned when no object exists for a digest. On a digest
// referenced by a verified chain this is a consistency bug, not a user error.
var ErrNotFound = errors.New("object not found")

// Store is a content addressable object store. Objects are immutable byte
// sequences keyed by their own digest; blocks are stored alongside them
// under a separate key prefix so the on-disk layout keeps data and chain
// metadata apart.
type Store struct {
	storage storage.Storage
}

// NewStore returns a new Store backed by the given storage.
func NewStore(storage storage.Storage) *Store {
	return &Store{storage: storage}
}

// Put writes the given bytes if absent and returns their digest. Writing
// identical content twice is a no-op.
func (s *Store) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	return id, s.write(ctx, objectKey(id), data)
}

// Get returns the object with the given digest.
func (s *Store) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	return s.read(ctx, objectKey(id), id)
}

// Contains reports whether an object with the given digest exists.
func (s *Store) Contains(ctx context.Context, id cid.Cid) (bool, error) {
	return s.storage.Has(ctx, objectKey(id))
}

// PutBlock writes an encoded metadata block and returns its digest.
func (s *Store) PutBlock(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := SumBlock(data)
	if err != nil {
		return cid.Undef, err
	}
	return id, s.write(ctx, blockKey(id), data)
}

// GetBlock returns the encoded metadata block with the given digest.
func (s *Store) GetBlock(ctx context.Context, id cid.Cid) ([]byte, error) {
	return s.read(ctx, blockKey(id), id)
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	ok, err := s.storage.Has(ctx, key)
	if err != nil || ok {
		return err
	}
	return s.storage.Put(ctx, key, data)
}

func (s *Store) read(ctx context.Context, key string, id cid.Cid) ([]byte, error) {
	data, err := s.storage.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return data, err
}

func objectKey(id cid.Cid) string {
	return "objects/" + id.String()
}

func blockKey(id cid.Cid) string {
	return "blocks/" + id.String()
}
