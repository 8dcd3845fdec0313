package chain

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	carv2 "github.com/ipld/go-car/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodent-software/tributary/dataset"
	"github.com/rodent-software/tributary/interval"
	"github.com/rodent-software/tributary/object"
	"github.com/rodent-software/tributary/storage"
)

func testDefinition() *DatasetDefinition {
	return &DatasetDefinition{
		Name:   "org.example.readings",
		Schema: `type Reading { at: String value: Float }`,
		Source: dataset.Source{Kind: dataset.SourceURL, URL: "https://example.com/readings.csv"},
	}
}

func testChain(t *testing.T) (*Chain, *object.Store, storage.Storage) {
	t.Helper()
	ctx := context.Background()
	backend := storage.NewMemory()
	objects := object.NewStore(backend)
	c, err := Init(ctx, objects, backend, testDefinition())
	require.NoError(t, err)
	return c, objects, backend
}

func span(t *testing.T, startDay, endDay int) interval.Interval {
	t.Helper()
	i, err := interval.New(
		time.Date(2020, time.January, startDay, 0, 0, 0, 0, time.UTC),
		time.Date(2020, time.January, endDay, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return i
}

func appendSlice(t *testing.T, c *Chain, objects *object.Store, data string, startDay, endDay int) cid.Cid {
	t.Helper()
	ctx := context.Background()
	id, err := objects.Put(ctx, []byte(data))
	require.NoError(t, err)
	head, err := c.Head(ctx)
	require.NoError(t, err)
	next, err := c.Append(ctx, &DataSlice{
		Object:   id,
		Interval: span(t, startDay, endDay),
		NumBytes: uint64(len(data)),
	}, head)
	require.NoError(t, err)
	return next
}

func TestChainInitAndOpen(t *testing.T) {
	ctx := context.Background()
	c, objects, backend := testChain(t)

	head, err := c.Head(ctx)
	require.NoError(t, err)
	assert.True(t, head.Defined())

	opened, err := Open(ctx, objects, backend, c.Name())
	require.NoError(t, err)
	def, err := opened.Definition(ctx)
	require.NoError(t, err)
	assert.Equal(t, testDefinition(), def)

	_, err = Init(ctx, objects, backend, testDefinition())
	assert.ErrorIs(t, err, ErrExists)

	_, err = Open(ctx, objects, backend, "org.example.missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChainIterateOrder(t *testing.T) {
	ctx := context.Background()
	c, objects, _ := testChain(t)
	appendSlice(t, c, objects, "week one", 1, 8)
	appendSlice(t, c, objects, "week two", 8, 15)

	iter, err := c.Iterator(ctx)
	require.NoError(t, err)

	var sequences []uint64
	for !iter.Done() {
		_, block, err := iter.Next(ctx)
		require.NoError(t, err)
		sequences = append(sequences, block.Sequence)
	}
	assert.Equal(t, []uint64{2, 1, 0}, sequences)

	// iterators are restartable: a fresh one starts at the head again
	iter, err = c.Iterator(ctx)
	require.NoError(t, err)
	_, block, err := iter.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), block.Sequence)
}

func TestChainAppendStaleHead(t *testing.T) {
	ctx := context.Background()
	c, objects, _ := testChain(t)

	stale, err := c.Head(ctx)
	require.NoError(t, err)
	appendSlice(t, c, objects, "winner", 1, 8)

	id, err := objects.Put(ctx, []byte("loser"))
	require.NoError(t, err)
	_, err = c.Append(ctx, &DataSlice{Object: id, Interval: span(t, 8, 15)}, stale)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestChainAppendRace(t *testing.T) {
	ctx := context.Background()
	c, objects, _ := testChain(t)

	head, err := c.Head(ctx)
	require.NoError(t, err)
	id, err := objects.Put(ctx, []byte("racing"))
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for n := range errs {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[n] = c.Append(ctx, &DataSlice{Object: id, Interval: span(t, 1, 2)}, head)
		}()
	}
	wg.Wait()

	if errs[0] == nil {
		assert.ErrorIs(t, errs[1], ErrConcurrentModification)
	} else {
		assert.ErrorIs(t, errs[0], ErrConcurrentModification)
		assert.NoError(t, errs[1])
	}
}

func TestChainVerify(t *testing.T) {
	ctx := context.Background()
	c, objects, _ := testChain(t)
	appendSlice(t, c, objects, "week one", 1, 8)
	appendSlice(t, c, objects, "week two", 8, 15)

	assert.NoError(t, c.Verify(ctx))
}

func TestChainVerifyDetectsTamperedBlock(t *testing.T) {
	ctx := context.Background()
	c, objects, backend := testChain(t)
	target := appendSlice(t, c, objects, "week one", 1, 8)
	appendSlice(t, c, objects, "week two", 8, 15)

	data, err := objects.GetBlock(ctx, target)
	require.NoError(t, err)
	tampered := bytes.Clone(data)
	tampered[len(tampered)-1] ^= 0xff
	require.NoError(t, backend.Put(ctx, "blocks/"+target.String(), tampered))

	err = c.Verify(ctx)
	var corrupt *CorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.True(t, corrupt.Digest.Equals(target))
}

func TestChainVerifyDetectsSequenceGap(t *testing.T) {
	ctx := context.Background()
	c, objects, backend := testChain(t)
	head := appendSlice(t, c, objects, "week one", 1, 8)

	// hand-craft a block that skips a sequence number
	id, err := objects.Put(ctx, []byte("week two"))
	require.NoError(t, err)
	data, err := Encode(&Block{
		Prev:       head,
		Sequence:   5,
		SystemTime: time.Now().UTC(),
		Payload:    &DataSlice{Object: id, Interval: span(t, 8, 15)},
	})
	require.NoError(t, err)
	forged, err := objects.PutBlock(ctx, data)
	require.NoError(t, err)
	require.NoError(t, backend.Put(ctx, "refs/"+c.Name(), []byte(forged.String())))

	err = c.Verify(ctx)
	var corrupt *CorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Contains(t, corrupt.Reason, "sequence gap")
}

func TestChainCoverageMergesSlices(t *testing.T) {
	ctx := context.Background()
	c, objects, _ := testChain(t)
	appendSlice(t, c, objects, "first", 1, 10)
	appendSlice(t, c, objects, "second", 10, 20)

	coverage, err := c.Coverage(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, coverage.Len())
	assert.Equal(t, []interval.Interval{span(t, 1, 20)}, coverage.Intervals())
}

func TestChainExport(t *testing.T) {
	ctx := context.Background()
	c, objects, _ := testChain(t)
	appendSlice(t, c, objects, "week one", 1, 8)

	var buf bytes.Buffer
	require.NoError(t, c.Export(ctx, &buf))

	head, err := c.Head(ctx)
	require.NoError(t, err)

	reader, err := carv2.NewBlockReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, reader.Roots, 1)
	assert.True(t, reader.Roots[0].Equals(head))
}

func TestBlockCodecRoundTrip(t *testing.T) {
	id, err := object.Sum([]byte("slice data"))
	require.NoError(t, err)

	blocks := []*Block{
		{SystemTime: time.Now().UTC(), Payload: testDefinition()},
		{Prev: id, Sequence: 3, SystemTime: time.Now().UTC(), Payload: &DataSlice{
			Object: id, Interval: span(t, 1, 8), NumBytes: 10, NumRecords: 2,
		}},
		{Prev: id, Sequence: 4, SystemTime: time.Now().UTC(), Payload: &Checkpoint{Token: `etag:"abc"`}},
	}
	for _, block := range blocks {
		data, err := Encode(block)
		require.NoError(t, err)
		decoded, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, block.Sequence, decoded.Sequence)
		assert.True(t, block.Prev.Equals(decoded.Prev))
		assert.Equal(t, block.Payload, decoded.Payload)
		assert.True(t, block.SystemTime.Equal(decoded.SystemTime))
	}
}
