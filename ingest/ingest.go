// Package ingest orchestrates one ingestion run per dataset: fetch raw bytes
// from the source, stage them, reconcile their time coverage against the
// chain, and commit new data slices. A failed run leaves the chain head
// exactly as it was; re-running is always safe because staging discards
// coverage the chain already has.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog"

	"github.com/rodent-software/tributary/chain"
	"github.com/rodent-software/tributary/dataset"
	"github.com/rodent-software/tributary/fetch"
	"github.com/rodent-software/tributary/interval"
	"github.com/rodent-software/tributary/object"
)

// ConsistencyError means the source produced entries with contradictory
// time coverage in a single run. The run aborts without committing; the
// conflict needs manual inspection, not a retry.
type ConsistencyError struct {
	Dataset string
	A, B    interval.Interval
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("dataset %s: source entries claim overlapping intervals %s and %s", e.Dataset, e.A, e.B)
}

// Result is the outcome of an ingestion run.
type Result struct {
	// UpToDate is true when the run found nothing new to commit.
	UpToDate bool
	// OldHead is the chain head before the run.
	OldHead cid.Cid
	// NewHead is the chain head after the run; equal to OldHead when
	// UpToDate.
	NewHead cid.Cid
	// NewBlocks is the number of blocks the run appended.
	NewBlocks int
}

// Runner executes ingestion runs. A single Runner serves any number of
// datasets; cached coverage lives in the shared Ledger.
type Runner struct {
	objects *object.Store
	ledger  *Ledger
	config  Config
	log     zerolog.Logger

	// newFetcher is swapped out in tests.
	newFetcher func(dataset.Source, fetch.Options) (fetch.Fetcher, error)
}

func NewRunner(objects *object.Store, ledger *Ledger, config Config, log zerolog.Logger) *Runner {
	return &Runner{
		objects:    objects,
		ledger:     ledger,
		config:     config.withDefaults(),
		log:        log,
		newFetcher: fetch.New,
	}
}

// Run ingests new data covering the requested interval into the dataset's
// chain. When another writer advances the head mid-run the run restarts from
// the new head, up to the configured retry bound; the other writer's blocks
// are never clobbered.
func (r *Runner) Run(ctx context.Context, c *chain.Chain, requested interval.Interval) (*Result, error) {
	log := r.log.With().
		Str("dataset", c.Name()).
		Str("run", uuid.NewString()).
		Stringer("interval", requested).
		Logger()

	var lastErr error
	for attempt := 0; attempt <= r.config.CommitRetries; attempt++ {
		result, err := r.run(ctx, c, requested, log)
		if errors.Is(err, chain.ErrConcurrentModification) {
			r.ledger.Invalidate(c.Name())
			log.Warn().Int("attempt", attempt+1).Msg("head moved mid-run, restarting")
			lastErr = err
			continue
		}
		return result, err
	}
	return nil, lastErr
}

// stagedEntry is a fetched entry that survived dedup: its bytes are fully
// retrieved and its claims are the parts of its interval the chain does not
// cover yet.
type stagedEntry struct {
	name    string
	data    []byte
	claims  []interval.Interval
	records uint64
}

func (r *Runner) run(ctx context.Context, c *chain.Chain, requested interval.Interval, log zerolog.Logger) (*Result, error) {
	state := Idle
	transition := func(next State) {
		state = next
		log.Debug().Stringer("state", state).Msg("ingestion state")
	}
	abort := func(err error) (*Result, error) {
		transition(Aborted)
		return nil, err
	}

	oldHead, err := c.Head(ctx)
	if err != nil {
		return abort(err)
	}
	head := oldHead
	coverage, err := r.ledger.Coverage(ctx, c)
	if err != nil {
		return abort(err)
	}
	if len(coverage.Missing(requested)) == 0 {
		return &Result{UpToDate: true, OldHead: head, NewHead: head}, nil
	}

	// Fetching.
	if err := ctx.Err(); err != nil {
		return abort(err)
	}
	transition(Fetching)
	def, err := c.Definition(ctx)
	if err != nil {
		return abort(err)
	}
	token, err := latestToken(ctx, c)
	if err != nil {
		return abort(err)
	}
	fetcher, err := r.newFetcher(def.Source, r.config.fetchOptions(log))
	if err != nil {
		return abort(err)
	}
	fetched, err := fetcher.Fetch(ctx, token)
	if err != nil {
		return abort(err)
	}
	if fetched.UpToDate {
		return &Result{UpToDate: true, OldHead: head, NewHead: head}, nil
	}

	// Staging: retrieve each entry, derive its coverage, and drop entries
	// the chain already covers.
	transition(Staging)
	staged, err := r.stage(ctx, def, fetched, coverage, requested, log)
	if err != nil {
		return abort(err)
	}
	if err := ctx.Err(); err != nil {
		return abort(err)
	}

	// Reconciling: surviving entries must not contradict each other.
	transition(Reconciling)
	if err := reconcile(c.Name(), staged); err != nil {
		return abort(err)
	}
	if err := ctx.Err(); err != nil {
		return abort(err)
	}

	// Committing. An in-flight append completes or fails atomically, so
	// cancellation is not checked again until the run is done.
	transition(Committing)
	newBlocks := 0
	for _, entry := range staged {
		id, err := r.objects.Put(ctx, entry.data)
		if err != nil {
			return abort(err)
		}
		for _, claim := range entry.claims {
			head, err = c.Append(ctx, &chain.DataSlice{
				Object:     id,
				Interval:   claim,
				NumBytes:   uint64(len(entry.data)),
				NumRecords: entry.records,
			}, head)
			if err != nil {
				return abort(err)
			}
			newBlocks++
			log.Info().
				Str("entry", entry.name).
				Stringer("object", id).
				Stringer("slice", claim).
				Uint64("records", entry.records).
				Msg("committed data slice")
		}
	}
	upToDate := newBlocks == 0
	if upToDate && fetched.Token != "" && fetched.Token != token {
		// Nothing new, but the source's continuation token advanced.
		// Recording it lets the next run skip the download entirely.
		head, err = c.Append(ctx, &chain.Checkpoint{Token: fetched.Token}, head)
		if err != nil {
			return abort(err)
		}
		newBlocks++
	}
	r.ledger.Invalidate(c.Name())
	transition(Done)

	return &Result{UpToDate: upToDate, OldHead: oldHead, NewHead: head, NewBlocks: newBlocks}, nil
}

func (r *Runner) stage(ctx context.Context, def *chain.DatasetDefinition, fetched *fetch.Result, coverage *interval.Set, requested interval.Interval, log zerolog.Logger) ([]stagedEntry, error) {
	var staged []stagedEntry
	for i, entry := range fetched.Entries {
		covers := requested
		if def.Source.EventTime != nil {
			derived, ok, err := def.Source.EventTime.Derive(entry.Name)
			if err != nil {
				closeEntries(fetched.Entries[i:])
				return nil, err
			}
			if !ok {
				log.Warn().Str("entry", entry.Name).Msg("entry name carries no event time, skipping")
				entry.Body.Close()
				continue
			}
			covers = derived
		}

		claims := coverage.Missing(covers)
		if len(claims) == 0 {
			log.Debug().Str("entry", entry.Name).Stringer("covers", covers).Msg("entry already covered, skipping")
			entry.Body.Close()
			continue
		}

		data, err := io.ReadAll(entry.Body)
		entry.Body.Close()
		if err != nil {
			closeEntries(fetched.Entries[i+1:])
			return nil, err
		}
		staged = append(staged, stagedEntry{
			name:    entry.Name,
			data:    data,
			claims:  claims,
			records: countRecords(data),
		})
	}
	return staged, nil
}

func reconcile(name string, staged []stagedEntry) error {
	var seen []interval.Interval
	for _, entry := range staged {
		for _, claim := range entry.claims {
			for _, other := range seen {
				if claim.Overlaps(other) {
					return &ConsistencyError{Dataset: name, A: other, B: claim}
				}
			}
			seen = append(seen, claim)
		}
	}
	return nil
}

// latestToken returns the continuation token of the most recent Checkpoint
// block, or "" if the chain has none.
func latestToken(ctx context.Context, c *chain.Chain) (string, error) {
	iter, err := c.Iterator(ctx)
	if err != nil {
		return "", err
	}
	for !iter.Done() {
		_, block, err := iter.Next(ctx)
		if err != nil {
			return "", err
		}
		if cp, ok := block.Payload.(*chain.Checkpoint); ok {
			return cp.Token, nil
		}
	}
	return "", nil
}

// countRecords counts newline-delimited records; a trailing partial line
// still counts as a record.
func countRecords(data []byte) uint64 {
	n := bytes.Count(data, []byte{'\n'})
	if len(data) > 0 && data[len(data)-1] != '\n' {
		n++
	}
	return uint64(n)
}

func closeEntries(entries []fetch.Entry) {
	for _, e := range entries {
		e.Body.Close()
	}
}
