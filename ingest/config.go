package ingest

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rodent-software/tributary/dataset"
	"github.com/rodent-software/tributary/fetch"
)

// Config holds the ingestion tunables. The zero value uses the defaults.
type Config struct {
	// Timeout bounds a single fetch attempt.
	Timeout dataset.Duration `yaml:"timeout,omitempty"`
	// MaxAttempts bounds retries of transient fetch failures.
	MaxAttempts uint64 `yaml:"maxAttempts,omitempty"`
	// InitialBackoff is the first fetch retry delay.
	InitialBackoff dataset.Duration `yaml:"initialBackoff,omitempty"`
	// ChunkSize is the transfer buffer size for streaming transports.
	ChunkSize int `yaml:"chunkSize,omitempty"`
	// CommitRetries bounds automatic run restarts when another writer
	// advances the chain head mid-run.
	CommitRetries int `yaml:"commitRetries,omitempty"`
}

const defaultCommitRetries = 3

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = dataset.Duration(5 * time.Minute)
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 4
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = dataset.Duration(time.Second)
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1 << 20
	}
	if c.CommitRetries <= 0 {
		c.CommitRetries = defaultCommitRetries
	}
	return c
}

func (c Config) fetchOptions(log zerolog.Logger) fetch.Options {
	return fetch.Options{
		Timeout:        time.Duration(c.Timeout),
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: time.Duration(c.InitialBackoff),
		ChunkSize:      c.ChunkSize,
		Logger:         log,
	}
}
