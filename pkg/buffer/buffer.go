// Package buffer provides a generic, thread-safe ring buffer used to decouple
// input-capture producers from the channel store consumer. The buffer is
// bounded; under overflow it either drops the oldest sample (keeping the
// stream fresh, the default for real-time input) or the newest one.
// Statistics are always collected.
package buffer

// Buffer is a bounded FIFO parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item. When the buffer is full the overflow policy
	// decides which item is dropped; Write itself never blocks.
	Write(item T) error

	// Read retrieves and removes one item.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items.
	ReadBatch(max int) []T

	// Size returns the current number of buffered items.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// Clear removes all items.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close shuts the buffer down; subsequent writes fail.
	Close() error
}

// OverflowPolicy defines what a full buffer drops on Write.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming item when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is invoked with each item dropped due to overflow.
type DropCallback[T any] func(item T)

// Option configures buffer behavior using the functional options pattern.
type Option[T any] func(*options[T])

type options[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]
}

// WithOverflowPolicy sets the overflow behavior. Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.overflowPolicy = policy
	}
}

// WithDropCallback sets a callback invoked for every dropped item.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.dropCallback = callback
	}
}

// NewRing creates a ring buffer with the given capacity.
func NewRing[T any](capacity int, opts ...Option[T]) Buffer[T] {
	o := &options[T]{overflowPolicy: DropOldest}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return newRing(capacity, o)
}
