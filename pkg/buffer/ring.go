package buffer

import (
	"context"
	"sync"

	"github.com/c360/avflow/errors"
)

// ring is a thread-safe circular buffer with configurable overflow policies.
type ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *settings[T]

	notFull *sync.Cond
	closed  bool
}

func newRing[T any](capacity int, opts *settings[T]) (*ring[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.registry != nil {
		var err error
		metrics, err = newBufferMetrics(opts.registry, opts.label)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newRing", "metrics registration")
		}
	}

	r := &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}
	r.notFull = sync.NewCond(&r.mu)
	return r, nil
}

func (r *ring[T]) Write(item T) error {
	return r.WriteContext(context.Background(), item)
}

func (r *ring[T]) WriteContext(ctx context.Context, item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(ErrClosed, "Buffer", "Write", "buffer closed")
	}

	var dropped []T
	if r.size == r.capacity {
		switch r.opts.policy {
		case DropOldest:
			dropped = append(dropped, r.popLocked())
			r.recordDropLocked()

		case DropNewest:
			r.recordDropLocked()
			r.mu.Unlock()
			r.notifyDropped([]T{item})
			return nil

		case Block:
			if err := r.waitForSpaceLocked(ctx); err != nil {
				r.mu.Unlock()
				return err
			}
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++

	r.stats.Write()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordWrite(r.size, r.capacity)
	}
	r.mu.Unlock()

	r.notifyDropped(dropped)
	return nil
}

// waitForSpaceLocked blocks on notFull until there is room, the buffer is
// closed, or ctx ends. r.mu must be held.
func (r *ring[T]) waitForSpaceLocked(ctx context.Context) error {
	if ctx.Done() != nil {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				r.mu.Lock()
				r.notFull.Broadcast()
				r.mu.Unlock()
			case <-done:
			}
		}()
	}

	for r.size == r.capacity && !r.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.notFull.Wait()
	}

	if r.closed {
		return errors.WrapInvalid(ErrClosed, "Buffer", "Write", "buffer closed during blocking wait")
	}
	return ctx.Err()
}

func (r *ring[T]) popLocked() T {
	var zero T
	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	return item
}

func (r *ring[T]) recordDropLocked() {
	r.stats.Drop()
	if r.metrics != nil {
		r.metrics.recordDrop()
	}
}

// notifyDropped runs the drop callback outside the lock.
func (r *ring[T]) notifyDropped(items []T) {
	if r.opts.onDrop == nil {
		return
	}
	for _, item := range items {
		r.opts.onDrop(item)
	}
}

func (r *ring[T]) Read() (T, bool) {
	items := r.ReadBatch(1)
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[0], true
}

func (r *ring[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}

	n := min(max, r.size)
	result := make([]T, n)
	for i := range result {
		result[i] = r.popLocked()
		r.stats.Read()
	}

	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordRead(n, r.size, r.capacity)
	}
	r.notFull.Broadcast()

	return result
}

func (r *ring[T]) Peek() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		var zero T
		return zero, false
	}
	r.stats.Peek()
	return r.items[r.tail], true
}

func (r *ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.size)
	for i := range out {
		out[i] = r.items[(r.tail+i)%r.capacity]
	}
	return out
}

func (r *ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity is immutable.
func (r *ring[T]) Capacity() int {
	return r.capacity
}

func (r *ring[T]) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == r.capacity
}

func (r *ring[T]) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == 0
}

func (r *ring[T]) Clear() {
	r.mu.Lock()

	var dropped []T
	for r.size > 0 {
		dropped = append(dropped, r.popLocked())
	}
	r.head = 0
	r.tail = 0

	r.stats.UpdateSize(0)
	if r.metrics != nil {
		r.metrics.updateSize(0, r.capacity)
	}
	r.notFull.Broadcast()
	r.mu.Unlock()

	r.notifyDropped(dropped)
}

func (r *ring[T]) Stats() *Statistics {
	return r.stats
}

func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.notFull.Broadcast()
	return nil
}
