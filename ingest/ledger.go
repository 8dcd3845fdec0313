package ingest

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/rodent-software/tributary/chain"
	"github.com/rodent-software/tributary/interval"
)

// Ledger caches per-dataset coverage sets so repeated runs do not replay the
// full chain. A cached set is keyed by the head it was built from and is
// discarded as soon as the chain's head no longer matches, so the ledger can
// never drift from committed history.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]ledgerEntry
}

type ledgerEntry struct {
	head     cid.Cid
	coverage *interval.Set
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]ledgerEntry)}
}

// Coverage returns the coverage set of the given chain, replaying its data
// slices only when the cache is missing or stale.
func (l *Ledger) Coverage(ctx context.Context, c *chain.Chain) (*interval.Set, error) {
	head, err := c.Head(ctx)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	entry, ok := l.entries[c.Name()]
	l.mu.Unlock()
	if ok && entry.head.Equals(head) {
		return entry.coverage, nil
	}

	coverage, err := c.Coverage(ctx)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.entries[c.Name()] = ledgerEntry{head: head, coverage: coverage}
	l.mu.Unlock()
	return coverage, nil
}

// Missing returns the ordered disjoint parts of requested that are not yet
// covered by the chain. An empty result means the dataset is up to date for
// the requested range.
func (l *Ledger) Missing(ctx context.Context, c *chain.Chain, requested interval.Interval) ([]interval.Interval, error) {
	coverage, err := l.Coverage(ctx, c)
	if err != nil {
		return nil, err
	}
	return coverage.Missing(requested), nil
}

// Invalidate drops the cached coverage for a dataset.
func (l *Ledger) Invalidate(name string) {
	l.mu.Lock()
	delete(l.entries, name)
	l.mu.Unlock()
}
