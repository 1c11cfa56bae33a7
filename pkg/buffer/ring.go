package buffer

import (
	"sync"

	"github.com/filimon-danopoulos/pi-tx/errors"
)

// ring is a thread-safe circular buffer.
type ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	opts     *options[T]
	closed   bool
}

func newRing[T any](capacity int, opts *options[T]) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		opts:     opts,
	}
}

// Write adds an item according to the overflow policy.
func (r *ring[T]) Write(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.Wrap(errors.ErrPortClosed, "Buffer", "Write", "writing to closed buffer")
	}

	var dropped T
	var didDrop bool

	if r.size == r.capacity {
		r.stats.Drop()
		switch r.opts.overflowPolicy {
		case DropOldest:
			dropped = r.items[r.tail]
			didDrop = true
			r.tail = (r.tail + 1) % r.capacity
			r.size--
		case DropNewest:
			r.mu.Unlock()
			if r.opts.dropCallback != nil {
				r.opts.dropCallback(item)
			}
			return nil
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Write()
	r.stats.UpdateSize(r.size)
	r.mu.Unlock()

	// Callback runs outside the lock so it may touch the buffer.
	if didDrop && r.opts.dropCallback != nil {
		r.opts.dropCallback(dropped)
	}
	return nil
}

// Read retrieves and removes one item.
func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.tail]
	r.items[r.tail] = zero // release reference
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.Read()
	r.stats.UpdateSize(r.size)
	return item, true
}

// ReadBatch retrieves and removes up to max items.
func (r *ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max <= 0 || r.size == 0 {
		return nil
	}
	n := max
	if n > r.size {
		n = r.size
	}
	var zero T
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.items[r.tail])
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.stats.Read()
	}
	r.stats.UpdateSize(r.size)
	return out
}

// Size returns the current number of buffered items.
func (r *ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the buffer capacity.
func (r *ring[T]) Capacity() int {
	return r.capacity
}

// Clear removes all items.
func (r *ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.tail, r.size = 0, 0, 0
	r.stats.UpdateSize(0)
}

// Stats returns the buffer statistics.
func (r *ring[T]) Stats() *Statistics {
	return r.stats
}

// Close shuts the buffer down. Buffered items remain readable.
func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
