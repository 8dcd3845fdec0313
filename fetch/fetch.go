// Package fetch retrieves raw bytes from external data sources. The set of
// transports is fixed: http(s) and ftp endpoints, and local file globs.
// Transient failures are retried with bounded exponential backoff; fatal
// failures surface immediately and are never retried.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/rodent-software/tributary/dataset"
)

var (
	// ErrSourceNotFound means the source does not exist; fatal for the run.
	ErrSourceNotFound = errors.New("source not found")
	// ErrCorruptArchive means fetched bytes could not be expanded; fatal,
	// never retried.
	ErrCorruptArchive = errors.New("corrupt archive")
)

// TransientError wraps a failure that is eligible for retry with backoff,
// such as a network timeout or a 5xx response.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fetch failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient returns true if the error is eligible for retry.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// Entry is one named raw data slice produced by a fetch. Body streams the
// content; callers own closing it.
type Entry struct {
	Name string
	Body io.ReadCloser
}

// Result is the outcome of one fetch.
type Result struct {
	// Entries are the raw slices, in source order. Empty when UpToDate.
	Entries []Entry
	// Token is the continuation token for the next run, or "" if the
	// source offers none.
	Token string
	// UpToDate is true when the source is unchanged since the token the
	// caller passed in.
	UpToDate bool
}

// Close closes any unconsumed entry bodies.
func (r *Result) Close() error {
	var err error
	for _, e := range r.Entries {
		if cerr := e.Body.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Options tune fetch behavior. The zero value uses the defaults.
type Options struct {
	// Timeout bounds a single fetch attempt.
	Timeout time.Duration
	// MaxAttempts bounds retries of transient failures.
	MaxAttempts uint64
	// InitialBackoff is the first retry delay; it grows exponentially.
	InitialBackoff time.Duration
	// ChunkSize is the transfer buffer size for streaming transports.
	ChunkSize int
	// Logger receives per-attempt debug logging.
	Logger zerolog.Logger
}

const (
	defaultTimeout        = 5 * time.Minute
	defaultMaxAttempts    = 4
	defaultInitialBackoff = time.Second
	defaultChunkSize      = 1 << 20
)

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	return o
}

// Fetcher retrieves raw content from a source. Implementations retry
// transient failures internally; a returned error is final for the run.
type Fetcher interface {
	// Fetch retrieves the source contents. The token, if not empty, is the
	// Result.Token of a previous run and lets the source skip content that
	// is already captured.
	Fetch(ctx context.Context, token string) (*Result, error)
}

// New returns a Fetcher for the given source descriptor.
func New(source dataset.Source, opts Options) (Fetcher, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	switch source.Kind {
	case dataset.SourceURL:
		u, err := url.Parse(source.URL)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "ftp" {
			return &ftpFetcher{source: source, url: u, opts: opts}, nil
		}
		return &httpFetcher{source: source, opts: opts}, nil
	case dataset.SourceFilesGlob:
		return &globFetcher{source: source, opts: opts}, nil
	default:
		return nil, fmt.Errorf("unsupported source kind %q", source.Kind)
	}
}

// retry runs op until it succeeds, fails with a non-transient error, the
// context is canceled, or the attempt limit is reached.
func retry(ctx context.Context, opts Options, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.InitialBackoff
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			opts.Logger.Debug().Err(err).Int("attempt", attempt).Msg("retrying fetch")
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(policy, opts.MaxAttempts-1), ctx))
}
