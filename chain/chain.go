package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/rodent-software/tributary/interval"
	"github.com/rodent-software/tributary/object"
	"github.com/rodent-software/tributary/storage"
)

var (
	// ErrNotFound is returned when a dataset has no chain.
	ErrNotFound = errors.New("chain not found")
	// ErrExists is returned when initializing a chain that already exists.
	ErrExists = errors.New("chain already exists")
	// ErrConcurrentModification is returned by Append when the head moved
	// after the caller read it. The other writer's commit wins; the caller
	// restarts from the current head.
	ErrConcurrentModification = errors.New("concurrent chain modification")
)

// CorruptionError reports the first broken link found by Verify. A single
// break invalidates every block after it, so no further checks are made.
type CorruptionError struct {
	// Digest is the digest under which the offending block is stored.
	Digest cid.Cid
	// Sequence is the sequence number recorded in the block, if it decoded.
	Sequence uint64
	// Reason describes the broken invariant.
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("chain corrupted at block %s (sequence %d): %s", e.Digest, e.Sequence, e.Reason)
}

// Chain is the append-only metadata log of a single dataset. Appends are
// linearized by an internal mutex; the optimistic expectedHead check rejects
// a writer whose view of the chain went stale while it was working.
type Chain struct {
	name    string
	objects *object.Store
	refs    storage.Storage

	mu sync.Mutex
}

// Init creates a new chain whose genesis block carries the dataset
// definition, and returns it.
func Init(ctx context.Context, objects *object.Store, refs storage.Storage, def *DatasetDefinition) (*Chain, error) {
	c := &Chain{name: def.Name, objects: objects, refs: refs}
	ok, err := refs.Has(ctx, c.refKey())
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, def.Name)
	}
	_, err = c.Append(ctx, def, cid.Undef)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Open returns the existing chain for the given dataset name.
func Open(ctx context.Context, objects *object.Store, refs storage.Storage, name string) (*Chain, error) {
	c := &Chain{name: name, objects: objects, refs: refs}
	ok, err := refs.Has(ctx, c.refKey())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c, nil
}

// Name returns the dataset name the chain belongs to.
func (c *Chain) Name() string {
	return c.name
}

// Head returns the digest of the most recent block, or cid.Undef if no
// block has been appended yet.
func (c *Chain) Head(ctx context.Context) (cid.Cid, error) {
	data, err := c.refs.Get(ctx, c.refKey())
	if errors.Is(err, storage.ErrNotFound) {
		return cid.Undef, nil
	}
	if err != nil {
		return cid.Undef, err
	}
	return cid.Decode(string(data))
}

// Append constructs a block carrying the payload, persists it, and advances
// the head from expectedHead to the new block's digest. It fails with
// ErrConcurrentModification if the head no longer equals expectedHead.
// This is the sole mutation entry point for a chain.
func (c *Chain) Append(ctx context.Context, payload Payload, expectedHead cid.Cid) (cid.Cid, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	head, err := c.Head(ctx)
	if err != nil {
		return cid.Undef, err
	}
	if !head.Equals(expectedHead) {
		return cid.Undef, fmt.Errorf("%w: head is %s, expected %s", ErrConcurrentModification, head, expectedHead)
	}

	block := &Block{
		Prev:       expectedHead,
		SystemTime: time.Now().UTC(),
		Payload:    payload,
	}
	if expectedHead.Defined() {
		prev, err := c.Block(ctx, expectedHead)
		if err != nil {
			return cid.Undef, err
		}
		block.Sequence = prev.Sequence + 1
	}

	data, err := Encode(block)
	if err != nil {
		return cid.Undef, err
	}
	id, err := c.objects.PutBlock(ctx, data)
	if err != nil {
		return cid.Undef, err
	}
	err = c.refs.Put(ctx, c.refKey(), []byte(id.String()))
	if err != nil {
		return cid.Undef, err
	}
	return id, nil
}

// Block loads and decodes the block with the given digest.
func (c *Chain) Block(ctx context.Context, id cid.Cid) (*Block, error) {
	data, err := c.objects.GetBlock(ctx, id)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Definition returns the dataset definition in effect: the most recent
// DatasetDefinition payload walking back from the head.
func (c *Chain) Definition(ctx context.Context) (*DatasetDefinition, error) {
	iter, err := c.Iterator(ctx)
	if err != nil {
		return nil, err
	}
	for !iter.Done() {
		_, block, err := iter.Next(ctx)
		if err != nil {
			return nil, err
		}
		if def, ok := block.Payload.(*DatasetDefinition); ok {
			return def, nil
		}
	}
	return nil, fmt.Errorf("chain %s has no dataset definition", c.name)
}

// Coverage returns the set of intervals covered by the chain's DataSlice
// blocks.
func (c *Chain) Coverage(ctx context.Context) (*interval.Set, error) {
	iter, err := c.Iterator(ctx)
	if err != nil {
		return nil, err
	}
	set := interval.NewSet()
	for !iter.Done() {
		_, block, err := iter.Next(ctx)
		if err != nil {
			return nil, err
		}
		if slice, ok := block.Payload.(*DataSlice); ok {
			set.Insert(slice.Interval)
		}
	}
	return set, nil
}

// Verify walks the full chain from the head to the genesis block and checks
// that every block's stored bytes still hash to the digest that references
// them and that sequence numbers decrease by exactly 1. The first broken
// link is reported as a CorruptionError.
func (c *Chain) Verify(ctx context.Context) error {
	head, err := c.Head(ctx)
	if err != nil {
		return err
	}
	next := head
	first := true
	var prevSequence uint64
	for next.Defined() {
		data, err := c.objects.GetBlock(ctx, next)
		if err != nil {
			return &CorruptionError{Digest: next, Reason: err.Error()}
		}
		sum, err := object.SumBlock(data)
		if err != nil {
			return err
		}
		if !sum.Equals(next) {
			return &CorruptionError{Digest: next, Reason: "block content does not match its digest"}
		}
		block, err := Decode(data)
		if err != nil {
			return &CorruptionError{Digest: next, Reason: fmt.Sprintf("block does not decode: %v", err)}
		}
		if !first && block.Sequence != prevSequence-1 {
			return &CorruptionError{
				Digest:   next,
				Sequence: block.Sequence,
				Reason:   fmt.Sprintf("sequence gap: expected %d", prevSequence-1),
			}
		}
		if block.Prev.Defined() && block.Sequence == 0 {
			return &CorruptionError{Digest: next, Sequence: 0, Reason: "genesis block references a previous block"}
		}
		if !block.Prev.Defined() && block.Sequence != 0 {
			return &CorruptionError{
				Digest:   next,
				Sequence: block.Sequence,
				Reason:   "first block does not have sequence 0",
			}
		}
		first = false
		prevSequence = block.Sequence
		next = block.Prev
	}
	return nil
}

func (c *Chain) refKey() string {
	return "refs/" + c.name
}

// Iterator traverses a chain from the head back to the genesis block. Each
// call to Chain.Iterator starts a fresh traversal.
type Iterator struct {
	chain *Chain
	next  cid.Cid
}

// Iterator returns a new iterator positioned at the current head.
func (c *Chain) Iterator(ctx context.Context) (*Iterator, error) {
	head, err := c.Head(ctx)
	if err != nil {
		return nil, err
	}
	return &Iterator{chain: c, next: head}, nil
}

// Done returns true if the iterator has no blocks left.
func (i *Iterator) Done() bool {
	return !i.next.Defined()
}

// Next returns the digest and decoded contents of the next block.
func (i *Iterator) Next(ctx context.Context) (cid.Cid, *Block, error) {
	id := i.next
	block, err := i.chain.Block(ctx, id)
	if err != nil {
		return cid.Undef, nil, err
	}
	i.next = block.Prev
	return id, block, nil
}
