package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

type badgerStore struct {
	db *badger.DB
}

// NewBadger returns a backend persisted in a badger database at the given
// path. Suited to repositories with many small objects where one file per
// object would be wasteful.
func NewBadger(path string) (Storage, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerStore{db: db}, nil
}

// NewBadgerFromDB wraps an already opened badger database.
func NewBadgerFromDB(db *badger.DB) Storage {
	return &badgerStore{db: db}
}

func (b *badgerStore) Has(ctx context.Context, key string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *badgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	var content []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		content, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

func (b *badgerStore) Put(ctx context.Context, key string, content []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), content)
	})
}

func (b *badgerStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Close flushes and closes the underlying database.
func (b *badgerStore) Close() error {
	return b.db.Close()
}
