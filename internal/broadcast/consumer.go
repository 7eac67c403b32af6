package broadcast

import (
	"context"
	"io"
)

// Consumer is one reader of a Buffer with its own position in the stream.
// A Consumer must not be read from more than one goroutine at a time.
type Consumer struct {
	b *Buffer

	// Guarded by b.mu.
	offset     int64
	wake       chan struct{}
	closed     bool
	detachable bool
	lagged     bool
}

// Read implements io.Reader. It blocks until data is available, the stream
// ends (io.EOF), or the buffer is aborted.
func (c *Consumer) Read(p []byte) (int, error) {
	return c.ReadContext(context.Background(), p)
}

// ReadContext is Read with cancellation. A zero-length read returns
// immediately without blocking or moving the consumer's position.
func (c *Consumer) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b := c.b
	for {
		b.mu.Lock()
		if c.lagged {
			b.mu.Unlock()
			return 0, ErrLagged
		}
		if c.closed {
			b.mu.Unlock()
			return 0, ErrConsumerClosed
		}
		if b.err != nil {
			b.mu.Unlock()
			return 0, b.err
		}
		if c.offset < b.ring.end() {
			n := b.ring.copyAt(p, c.offset)
			c.offset += int64(n)
			b.mu.Unlock()
			return n, nil
		}
		if b.closed {
			b.mu.Unlock()
			return 0, io.EOF
		}

		w := make(chan struct{})
		c.wake = w
		b.mu.Unlock()

		select {
		case <-w:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Offset returns the absolute stream position of the next byte c will read.
func (c *Consumer) Offset() int64 {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	return c.offset
}

// Close unregisters c so it no longer holds back trimming. A blocked read
// returns ErrConsumerClosed.
func (c *Consumer) Close() error {
	c.b.unregister(c)
	return nil
}
