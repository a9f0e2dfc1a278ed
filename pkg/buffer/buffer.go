// Package buffer provides a generic, thread-safe ring buffer with overflow policies.
//
// The runtime uses it wherever a bounded queue must never block its
// producer: the diagnostics collector keeps the most recent messages, the
// UDP demuxer queues datagrams between its socket reader and the MPEG-TS
// parser, and the watch hub queues reports per WebSocket client.
package buffer

import (
	"context"

	"github.com/c360/avflow/errors"
)

// ErrClosed is returned by writes to a closed buffer.
var ErrClosed = errors.New("buffer closed")

// Buffer is a bounded FIFO of T.
type Buffer[T any] interface {
	// Write adds an item. Behavior when full depends on the overflow policy.
	Write(item T) error

	// WriteContext is Write, but a Block policy wait is abandoned when ctx ends.
	WriteContext(ctx context.Context, item T) error

	// Read removes and returns the oldest item.
	Read() (T, bool)

	// ReadBatch removes up to max items, oldest first.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	// Snapshot copies the current contents, oldest first, without removing them.
	Snapshot() []T

	Size() int
	Capacity() int
	IsFull() bool
	IsEmpty() bool

	// Clear removes all items, reporting each to the drop callback.
	Clear()

	Stats() *Statistics

	// Close wakes blocked writers; later writes fail with ErrClosed.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write operations to block until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped by the overflow policy or Clear.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring buffer with the given capacity.
// Statistics are always collected; Prometheus export is enabled with WithMetrics.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := newSettings(options)
	return newRing(capacity, opts)
}
