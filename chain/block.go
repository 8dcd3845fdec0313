// Package chain implements the append-only, hash-linked metadata log that
// records a dataset's history. Every change is a block referencing its
// predecessor by digest; the most recent block is tracked by a per-dataset
// head ref. Append is the only mutation entry point.
package chain

import (
	"time"

	"github.com/ipfs/go-cid"
	"github.com/rodent-software/tributary/dataset"
	"github.com/rodent-software/tributary/interval"
)

// Block is one atomic change to a dataset's history. Blocks are immutable
// once appended and form a strictly linear chain: Prev is cid.Undef only on
// the genesis block, and Sequence increases by exactly 1 along the chain.
type Block struct {
	// Prev is the digest of the previous block, or cid.Undef for block 0.
	Prev cid.Cid
	// Sequence is the logical position of the block, starting at 0.
	Sequence uint64
	// SystemTime is the wall clock time the block was appended.
	SystemTime time.Time
	// Payload is exactly one of DatasetDefinition, DataSlice, or Checkpoint.
	Payload Payload
}

// Payload is the closed set of block payload variants.
type Payload interface {
	payload()
}

// DatasetDefinition declares a dataset's schema and source. It is always
// the payload of block 0 and may appear again later when the definition
// changes; the most recent one wins.
type DatasetDefinition struct {
	// Name is the dataset name.
	Name string
	// Schema is the dataset schema in GraphQL SDL.
	Schema string
	// Source describes where and how data is fetched.
	Source dataset.Source
}

// DataSlice references a committed object and the coverage it adds.
type DataSlice struct {
	// Object is the digest of the slice data in the object store.
	Object cid.Cid
	// Interval is the half-open time range the slice covers.
	Interval interval.Interval
	// NumBytes is the size of the slice data.
	NumBytes uint64
	// NumRecords is the number of records in the slice.
	NumRecords uint64
}

// Checkpoint carries an opaque continuation token so the next ingestion run
// can resume where the source left off.
type Checkpoint struct {
	// Token is the source-specific continuation token.
	Token string
}

func (*DatasetDefinition) payload() {}
func (*DataSlice) payload()         {}
func (*Checkpoint) payload()        {}
