// Package tributary manages versioned, verifiable datasets. Every dataset's
// history is an append-only, hash-linked chain of metadata blocks backed by
// a content-addressable object store, and external sources are ingested
// incrementally: data covering time ranges the chain already has is never
// downloaded or committed twice.
package tributary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"

	"github.com/rodent-software/tributary/chain"
	"github.com/rodent-software/tributary/dataset"
	"github.com/rodent-software/tributary/ingest"
	"github.com/rodent-software/tributary/interval"
	"github.com/rodent-software/tributary/object"
	"github.com/rodent-software/tributary/storage"
)

const refPrefix = "refs/"

// Repository ties a storage backend, the object store, and the per-dataset
// metadata chains together. It is the single entry point front ends use.
type Repository struct {
	backend storage.Storage
	objects *object.Store
	runner  *ingest.Runner
	log     zerolog.Logger

	mu     sync.Mutex
	chains map[string]*chain.Chain
}

// Open returns a repository over the given storage backend.
func Open(backend storage.Storage, config ingest.Config, log zerolog.Logger) *Repository {
	objects := object.NewStore(backend)
	return &Repository{
		backend: backend,
		objects: objects,
		runner:  ingest.NewRunner(objects, ingest.NewLedger(), config, log),
		log:     log,
		chains:  make(map[string]*chain.Chain),
	}
}

// Objects returns the repository's object store. Read-only consumers resolve
// digests referenced by chain blocks through it.
func (r *Repository) Objects() *object.Store {
	return r.objects
}

// Create defines a new dataset from a snapshot manifest. The snapshot's
// schema and source become the genesis block of a new chain.
func (r *Repository) Create(ctx context.Context, snapshot *dataset.Snapshot) (*chain.Chain, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	c, err := chain.Init(ctx, r.objects, r.backend, &chain.DatasetDefinition{
		Name:   snapshot.Name,
		Schema: snapshot.Schema,
		Source: snapshot.Source,
	})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.chains[snapshot.Name] = c
	r.mu.Unlock()
	r.log.Info().Str("dataset", snapshot.Name).Msg("dataset created")
	return c, nil
}

// Chain returns the metadata chain of an existing dataset.
func (r *Repository) Chain(ctx context.Context, name string) (*chain.Chain, error) {
	r.mu.Lock()
	c, ok := r.chains[name]
	r.mu.Unlock()
	if ok {
		return c, nil
	}
	c, err := chain.Open(ctx, r.objects, r.backend, name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.chains[name] = c
	r.mu.Unlock()
	return c, nil
}

// Datasets returns the names of all datasets in the repository, in
// lexicographic order.
func (r *Repository) Datasets(ctx context.Context) ([]string, error) {
	lister, ok := r.backend.(storage.Listable)
	if !ok {
		return nil, errors.New("storage backend does not support listing")
	}
	keys, err := lister.List(ctx, refPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, strings.TrimPrefix(key, refPrefix))
	}
	return names, nil
}

// PullOptions bound the time range a pull requests from the source. The
// zero value asks for everything up to now.
type PullOptions struct {
	Since time.Time
	Until time.Time
}

// Pull runs one ingestion for the named dataset and reports what changed.
func (r *Repository) Pull(ctx context.Context, name string, opts PullOptions) (*ingest.Result, error) {
	c, err := r.Chain(ctx, name)
	if err != nil {
		return nil, err
	}
	if opts.Since.IsZero() {
		opts.Since = time.Unix(0, 0).UTC()
	}
	if opts.Until.IsZero() {
		opts.Until = time.Now().UTC()
	}
	requested, err := interval.New(opts.Since, opts.Until)
	if err != nil {
		return nil, fmt.Errorf("invalid pull range: %w", err)
	}
	return r.runner.Run(ctx, c, requested)
}

// Summary is a dataset's current shape, derived from its chain on demand so
// it can never drift from committed history.
type Summary struct {
	Name       string
	Head       cid.Cid
	NumBlocks  uint64
	NumRecords uint64
	DataSize   uint64
	LastPulled time.Time
}

// Summary computes the summary of the named dataset.
func (r *Repository) Summary(ctx context.Context, name string) (*Summary, error) {
	c, err := r.Chain(ctx, name)
	if err != nil {
		return nil, err
	}
	head, err := c.Head(ctx)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Name: name, Head: head}
	iter, err := c.Iterator(ctx)
	if err != nil {
		return nil, err
	}
	for !iter.Done() {
		_, block, err := iter.Next(ctx)
		if err != nil {
			return nil, err
		}
		summary.NumBlocks++
		if slice, ok := block.Payload.(*chain.DataSlice); ok {
			summary.NumRecords += slice.NumRecords
			summary.DataSize += slice.NumBytes
			if block.SystemTime.After(summary.LastPulled) {
				summary.LastPulled = block.SystemTime
			}
		}
	}
	return summary, nil
}

// Verify checks the integrity of the named dataset's full history.
func (r *Repository) Verify(ctx context.Context, name string) error {
	c, err := r.Chain(ctx, name)
	if err != nil {
		return err
	}
	return c.Verify(ctx)
}

// Export writes the named dataset's full history, blocks and referenced
// data objects both, to out as a CAR archive.
func (r *Repository) Export(ctx context.Context, name string, out io.Writer) error {
	c, err := r.Chain(ctx, name)
	if err != nil {
		return err
	}
	return c.Export(ctx, out)
}
