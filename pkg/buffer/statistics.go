package buffer

import (
	"fmt"
	"sync/atomic"
)

// Statistics counts ring activity. All methods are safe for concurrent use.
type Statistics struct {
	writes atomic.Int64
	reads  atomic.Int64
	peeks  atomic.Int64
	drops  atomic.Int64
	size   atomic.Int64
	high   atomic.Int64
}

// NewStatistics returns zeroed statistics.
func NewStatistics() *Statistics { return &Statistics{} }

// Write counts one accepted item.
func (s *Statistics) Write() { s.writes.Add(1) }

// Read counts one consumed item.
func (s *Statistics) Read() { s.reads.Add(1) }

// Peek counts one inspection.
func (s *Statistics) Peek() { s.peeks.Add(1) }

// Drop counts one item discarded by the overflow policy.
func (s *Statistics) Drop() { s.drops.Add(1) }

// UpdateSize records the current fill level and raises the high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.size.Store(size)
	for {
		high := s.high.Load()
		if size <= high || s.high.CompareAndSwap(high, size) {
			return
		}
	}
}

func (s *Statistics) Writes() int64      { return s.writes.Load() }
func (s *Statistics) Reads() int64       { return s.reads.Load() }
func (s *Statistics) Peeks() int64       { return s.peeks.Load() }
func (s *Statistics) Drops() int64       { return s.drops.Load() }
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// MaxSize is the most items the ring has held at once.
func (s *Statistics) MaxSize() int64 { return s.high.Load() }

// DropRate is drops over writes, 0 before the first write.
func (s *Statistics) DropRate() float64 {
	writes := s.Writes()
	if writes == 0 {
		return 0
	}
	return float64(s.Drops()) / float64(writes)
}

// String formats the counters for log lines.
func (s *Statistics) String() string {
	return fmt.Sprintf("writes=%d reads=%d drops=%d size=%d high=%d",
		s.Writes(), s.Reads(), s.Drops(), s.CurrentSize(), s.MaxSize())
}
