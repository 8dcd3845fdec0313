package tributary

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	carv2 "github.com/ipld/go-car/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodent-software/tributary/chain"
	"github.com/rodent-software/tributary/dataset"
	"github.com/rodent-software/tributary/ingest"
	"github.com/rodent-software/tributary/storage"
)

const testSchema = `
	type Reading {
		station: String
		value: Float
	}
`

func testSnapshot(dir string) *dataset.Snapshot {
	return &dataset.Snapshot{
		Name:   "example.readings",
		Schema: testSchema,
		Source: dataset.Source{
			Kind:  dataset.SourceFilesGlob,
			Path:  filepath.Join(dir, "*.csv"),
			Order: dataset.OrderByName,
			EventTime: &dataset.EventTimeSource{
				Kind:    "fromPath",
				Pattern: `-(\d{8})-(\d{8})\.csv$`,
				Layout:  "20060102",
			},
		},
	}
}

func TestRepositoryCreatePullSummary(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "readings-20200101-20200108.csv"),
		[]byte("st1,1.5\nst2,2.5\n"), 0o644))

	repo := Open(storage.NewMemory(), ingest.Config{}, zerolog.Nop())
	_, err := repo.Create(ctx, testSnapshot(dir))
	require.NoError(t, err)

	names, err := repo.Datasets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.readings"}, names)

	result, err := repo.Pull(ctx, "example.readings", PullOptions{})
	require.NoError(t, err)
	assert.False(t, result.UpToDate)
	assert.Equal(t, 1, result.NewBlocks)

	summary, err := repo.Summary(ctx, "example.readings")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), summary.NumBlocks)
	assert.Equal(t, uint64(2), summary.NumRecords)
	assert.Equal(t, uint64(16), summary.DataSize)
	assert.True(t, summary.Head.Equals(result.NewHead))
	assert.False(t, summary.LastPulled.IsZero())

	require.NoError(t, repo.Verify(ctx, "example.readings"))

	// a second pull over the same range is a no-op
	result, err = repo.Pull(ctx, "example.readings", PullOptions{})
	require.NoError(t, err)
	assert.True(t, result.UpToDate)
}

func TestRepositoryCreateValidatesSnapshot(t *testing.T) {
	repo := Open(storage.NewMemory(), ingest.Config{}, zerolog.Nop())
	_, err := repo.Create(context.Background(), &dataset.Snapshot{
		Name:   "Not A Valid Name!",
		Source: dataset.Source{Kind: dataset.SourceFilesGlob, Path: "*.csv"},
	})
	assert.Error(t, err)
}

func TestRepositoryCreateRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := Open(storage.NewMemory(), ingest.Config{}, zerolog.Nop())
	snapshot := testSnapshot(t.TempDir())
	_, err := repo.Create(ctx, snapshot)
	require.NoError(t, err)
	_, err = repo.Create(ctx, snapshot)
	assert.ErrorIs(t, err, chain.ErrExists)
}

func TestRepositoryChainNotFound(t *testing.T) {
	repo := Open(storage.NewMemory(), ingest.Config{}, zerolog.Nop())
	_, err := repo.Chain(context.Background(), "missing.dataset")
	assert.ErrorIs(t, err, chain.ErrNotFound)
}

func TestRepositoryExport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "readings-20200101-20200108.csv"),
		[]byte("st1,1.5\n"), 0o644))

	repo := Open(storage.NewMemory(), ingest.Config{}, zerolog.Nop())
	_, err := repo.Create(ctx, testSnapshot(dir))
	require.NoError(t, err)
	result, err := repo.Pull(ctx, "example.readings", PullOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, repo.Export(ctx, "example.readings", &buf))

	reader, err := carv2.NewBlockReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, reader.Roots, 1)
	assert.True(t, reader.Roots[0].Equals(result.NewHead))
}
