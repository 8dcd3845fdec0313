package fetch

import (
	"context"
	"io"
)

// streamDepth is the number of in-flight chunks between the transfer
// goroutine and the consumer.
const streamDepth = 4

// boundedReader moves bytes from a transport stream to the consumer through
// a bounded channel of chunks, so staging can begin before the transfer
// completes and a slow consumer backpressures the transfer instead of
// buffering it in memory.
type boundedReader struct {
	chunks chan []byte
	errc   chan error
	cancel context.CancelFunc
	cur    []byte
	err    error
}

func newBoundedReader(ctx context.Context, r io.ReadCloser, chunkSize int) io.ReadCloser {
	ctx, cancel := context.WithCancel(ctx)
	b := &boundedReader{
		chunks: make(chan []byte, streamDepth),
		errc:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		defer r.Close()
		defer close(b.chunks)
		for {
			buf := make([]byte, chunkSize)
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case b.chunks <- buf[:n]:
				case <-ctx.Done():
					b.errc <- ctx.Err()
					return
				}
			}
			if err != nil {
				b.errc <- err
				return
			}
		}
	}()
	return b
}

func (b *boundedReader) Read(p []byte) (int, error) {
	for len(b.cur) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		chunk, ok := <-b.chunks
		if !ok {
			b.err = <-b.errc
			if b.err == nil {
				b.err = io.EOF
			}
			return 0, b.err
		}
		b.cur = chunk
	}
	n := copy(p, b.cur)
	b.cur = b.cur[n:]
	return n, nil
}

// Close stops the transfer goroutine. Partial bytes are discarded.
func (b *boundedReader) Close() error {
	b.cancel()
	return nil
}
