package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity for observability.
type Statistics struct {
	writes int64
	reads  int64
	drops  int64

	mu          sync.Mutex
	startTime   time.Time
	currentSize int
	maxSize     int
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Write records a buffer write operation.
func (s *Statistics) Write() { atomic.AddInt64(&s.writes, 1) }

// Read records a buffer read operation.
func (s *Statistics) Read() { atomic.AddInt64(&s.reads, 1) }

// Drop records an item drop due to overflow policy.
func (s *Statistics) Drop() { atomic.AddInt64(&s.drops, 1) }

// UpdateSize updates the current buffer size and the observed maximum.
func (s *Statistics) UpdateSize(size int) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Writes returns the total number of write operations.
func (s *Statistics) Writes() int64 { return atomic.LoadInt64(&s.writes) }

// Reads returns the total number of read operations.
func (s *Statistics) Reads() int64 { return atomic.LoadInt64(&s.reads) }

// Drops returns the total number of dropped items.
func (s *Statistics) Drops() int64 { return atomic.LoadInt64(&s.drops) }

// MaxSize returns the highest buffer fill level observed.
func (s *Statistics) MaxSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSize
}

// Uptime returns the time since the statistics tracker was created.
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.startTime)
}
