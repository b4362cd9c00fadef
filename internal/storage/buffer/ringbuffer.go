// Package buffer holds rows between sampling and the next storage write.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/xtxerr/plclogger/internal/storage/types"
)

// RingBuffer is a bounded FIFO of log rows. When full, pushing drops the
// oldest row, so a long storage outage keeps the most recent history.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []types.LogRow
	head     int // Next write position
	tail     int // Oldest row position
	count    int
	capacity int

	// Statistics
	pushCount atomic.Int64
	dropCount atomic.Int64
}

// New creates a RingBuffer holding at most capacity rows.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer{
		data:     make([]types.LogRow, capacity),
		capacity: capacity,
	}
}

// Push appends rows, overwriting the oldest when full. It returns the
// number of rows dropped.
func (rb *RingBuffer) Push(rows ...types.LogRow) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	dropped := 0
	for _, r := range rows {
		if rb.count >= rb.capacity {
			rb.data[rb.tail] = types.LogRow{}
			rb.tail = (rb.tail + 1) % rb.capacity
			rb.count--
			dropped++
		}
		rb.data[rb.head] = r
		rb.head = (rb.head + 1) % rb.capacity
		rb.count++
	}

	rb.pushCount.Add(int64(len(rows)))
	rb.dropCount.Add(int64(dropped))
	return dropped
}

// Rows returns a copy of the buffered rows, oldest first.
func (rb *RingBuffer) Rows() []types.LogRow {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]types.LogRow, rb.count)
	for i := range out {
		out[i] = rb.data[(rb.tail+i)%rb.capacity]
	}
	return out
}

// Replace empties the buffer and pushes rows. It returns the number of
// rows that did not fit.
func (rb *RingBuffer) Replace(rows []types.LogRow) int {
	rb.Clear()
	return rb.Push(rows...)
}

// Len returns the number of buffered rows.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return rb.capacity
}

// UsageRatio returns the current usage as a ratio (0.0 - 1.0).
func (rb *RingBuffer) UsageRatio() float64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return float64(rb.count) / float64(rb.capacity)
}

// Clear removes all rows.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	clear(rb.data)
	rb.head = 0
	rb.tail = 0
	rb.count = 0
}

// Stats returns buffer statistics.
func (rb *RingBuffer) Stats() BufferStats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return BufferStats{
		Capacity:   rb.capacity,
		Count:      rb.count,
		UsageRatio: float64(rb.count) / float64(rb.capacity),
		PushCount:  rb.pushCount.Load(),
		DropCount:  rb.dropCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	DropCount  int64
}
