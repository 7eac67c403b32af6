// Package broadcast implements a byte queue with one producer and any number
// of independently paced consumers.
//
// Every consumer sees the full stream written after it registered, in order,
// with no gaps or duplicates. The buffer keeps only the bytes that the
// slowest registered consumer has not read yet: each Write trims everything
// below the minimum consumer offset. A consumer that finds nothing to read
// parks on a channel that the next Write closes after the lock is released.
package broadcast

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrEmptyWrite is returned by Write when given no bytes.
	ErrEmptyWrite = errors.New("broadcast: empty write")

	// ErrBufferFull is returned by Write when accepting the bytes would make
	// the buffer retain more than its limit.
	ErrBufferFull = errors.New("broadcast: buffer limit exceeded")

	// ErrWriteClosed is returned by Write after CloseWrite.
	ErrWriteClosed = errors.New("broadcast: write after close")

	// ErrConsumerClosed is returned when reading from a closed Consumer.
	ErrConsumerClosed = errors.New("broadcast: consumer closed")

	// ErrLagged is returned when reading from a detachable Consumer that
	// was dropped for falling more than the limit behind.
	ErrLagged = errors.New("broadcast: consumer fell behind and was detached")
)

// Buffer is a shared byte queue. Its zero value is not usable; use New.
type Buffer struct {
	mu        sync.Mutex
	ring      ring
	consumers map[*Consumer]struct{}
	limit     int
	closed    bool
	err       error
}

// New returns an empty Buffer. If limit is positive, Write fails with
// ErrBufferFull rather than retain more than limit bytes.
func New(limit int) *Buffer {
	return &Buffer{
		consumers: make(map[*Consumer]struct{}),
		limit:     limit,
	}
}

// Register adds a consumer that starts at the current write position. It
// observes only bytes written after this call.
func (b *Buffer) Register() *Consumer {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &Consumer{b: b, offset: b.ring.end()}
	b.consumers[c] = struct{}{}
	return c
}

// RegisterDetachable is like Register, but a Write that would exceed the
// limit because of this consumer drops it instead of failing. Its reads then
// return ErrLagged.
func (b *Buffer) RegisterDetachable() *Consumer {
	c := b.Register()
	c.detachable = true
	return c
}

// Write appends p for every registered consumer. It never blocks on slow
// consumers; memory is bounded only by the limit given to New.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, ErrEmptyWrite
	}

	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return 0, b.err
	}
	if b.closed {
		b.mu.Unlock()
		return 0, ErrWriteClosed
	}

	end := b.ring.end() + int64(len(p))
	trim := b.trimPoint(end)
	var dropped []chan struct{}
	if b.limit > 0 && end-trim > int64(b.limit) {
		dropped = b.detachBelow(end - int64(b.limit))
		trim = b.trimPoint(end)
	}
	if b.limit > 0 && end-trim > int64(b.limit) {
		b.mu.Unlock()
		wake(dropped)
		return 0, fmt.Errorf("%w: %d bytes retained, limit %d", ErrBufferFull, end-trim, b.limit)
	}

	b.ring.append(p)
	wakers := append(dropped, b.takeWakers()...)
	b.ring.trimTo(trim)
	b.mu.Unlock()

	wake(wakers)
	return len(p), nil
}

// CloseWrite marks the end of the stream. Consumers drain what is buffered
// and then read io.EOF.
func (b *Buffer) CloseWrite() {
	b.mu.Lock()
	b.closed = true
	wakers := b.takeWakers()
	b.mu.Unlock()

	wake(wakers)
}

// Abort fails the buffer: pending and future reads and writes return err
// without draining what is buffered.
func (b *Buffer) Abort(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	wakers := b.takeWakers()
	b.mu.Unlock()

	wake(wakers)
}

// Len returns the number of bytes currently retained.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.size
}

// Written returns the absolute write position: the total bytes accepted.
func (b *Buffer) Written() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.end()
}

// Trimmed returns the absolute position below which bytes were discarded.
func (b *Buffer) Trimmed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.start
}

// Consumers returns the number of registered consumers.
func (b *Buffer) Consumers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.consumers)
}

// trimPoint is the lowest offset any consumer still needs, or end when there
// are no consumers. Must hold b.mu.
func (b *Buffer) trimPoint(end int64) int64 {
	pos := end
	for c := range b.consumers {
		pos = min(pos, c.offset)
	}
	return pos
}

// detachBelow drops every detachable consumer whose offset is below pos and
// returns the channels of those that were parked. Must hold b.mu.
func (b *Buffer) detachBelow(pos int64) []chan struct{} {
	var wakers []chan struct{}
	for c := range b.consumers {
		if !c.detachable || c.offset >= pos {
			continue
		}
		delete(b.consumers, c)
		c.closed = true
		c.lagged = true
		if c.wake != nil {
			wakers = append(wakers, c.wake)
			c.wake = nil
		}
	}
	return wakers
}

// takeWakers collects and clears every parked consumer's channel. Must hold
// b.mu.
func (b *Buffer) takeWakers() []chan struct{} {
	var wakers []chan struct{}
	for c := range b.consumers {
		if c.wake != nil {
			wakers = append(wakers, c.wake)
			c.wake = nil
		}
	}
	return wakers
}

func (b *Buffer) unregister(c *Consumer) {
	b.mu.Lock()
	delete(b.consumers, c)
	c.closed = true
	w := c.wake
	c.wake = nil
	b.mu.Unlock()

	if w != nil {
		close(w)
	}
}

func wake(wakers []chan struct{}) {
	for _, w := range wakers {
		close(w)
	}
}
