// Package buffer keeps the most recent snapshots in memory.
//
// The live view reads from here whether or not snapshots are also
// persisted, and in live-only mode it is the only history there is.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/storage/types"
	"github.com/xtxerr/aura/internal/validation"
)

// RingBuffer is a thread-safe circular buffer for snapshots.
// When full, a push overwrites the oldest snapshot.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []types.Snapshot
	head     int64 // Next write position
	tail     int64 // Oldest data position
	count    int64 // Current number of elements
	capacity int64

	// Statistics
	pushCount  atomic.Int64
	dropCount  atomic.Int64
	evictCount atomic.Int64
}

// New creates a new RingBuffer with the given capacity.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingBuffer{
		data:     make([]types.Snapshot, capacity),
		capacity: int64(capacity),
	}
}

// Push adds a snapshot to the buffer, overwriting the oldest if full.
func (rb *RingBuffer) Push(s types.Snapshot) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count >= rb.capacity {
		// Overwrite oldest
		rb.tail++
		rb.count--
		rb.dropCount.Add(1)
	}

	idx := rb.head % rb.capacity
	rb.data[idx] = s
	rb.head++
	rb.count++
	rb.pushCount.Add(1)
}

// at returns the i-th oldest snapshot. Caller holds the lock.
func (rb *RingBuffer) at(i int64) types.Snapshot {
	return rb.data[(rb.tail+i)%rb.capacity]
}

// Newest returns the newest snapshot without removing it.
// Returns false if the buffer is empty.
func (rb *RingBuffer) Newest() (types.Snapshot, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return types.Snapshot{}, false
	}
	return rb.at(rb.count - 1), true
}

// Latest returns up to limit of the newest snapshots in chronological order.
func (rb *RingBuffer) Latest(limit int) ([]types.Snapshot, error) {
	if err := validation.PositiveInt("limit", limit); err != nil {
		return nil, err
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := min(int64(limit), rb.count)
	out := make([]types.Snapshot, n)
	for i := int64(0); i < n; i++ {
		out[i] = rb.at(rb.count - n + i)
	}
	return out, nil
}

// Between returns snapshots with start <= timestamp <= end, oldest first.
// Nil bounds are open. Between satisfies downsample.RangeSource.
func (rb *RingBuffer) Between(start, end *float64) ([]types.Snapshot, error) {
	if err := validation.TimeRange(start, end); err != nil {
		return nil, err
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := []types.Snapshot{}
	for i := int64(0); i < rb.count; i++ {
		s := rb.at(i)
		if start != nil && s.Timestamp() < *start {
			continue
		}
		if end != nil && s.Timestamp() > *end {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// All returns a copy of the buffer contents, oldest first.
func (rb *RingBuffer) All() []types.Snapshot {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]types.Snapshot, rb.count)
	for i := range out {
		out[i] = rb.at(int64(i))
	}
	return out
}

// Len returns the current number of snapshots in the buffer.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.count)
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return int(rb.capacity)
}

// Clear removes all snapshots from the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	clear(rb.data)
	rb.head = 0
	rb.tail = 0
	rb.count = 0
}

// EvictOlderThan removes snapshots with timestamp < cutoff from the old
// end. Returns the number of snapshots evicted.
func (rb *RingBuffer) EvictOlderThan(cutoff float64) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	evicted := 0
	for rb.count > 0 {
		idx := rb.tail % rb.capacity
		if rb.data[idx].Timestamp() >= cutoff {
			break
		}
		rb.data[idx] = types.Snapshot{}
		rb.tail++
		rb.count--
		evicted++
	}

	rb.evictCount.Add(int64(evicted))
	return evicted
}

// TimeRange returns the timestamps of the oldest and newest snapshots.
// Returns errors.ErrNotFound if the buffer is empty.
func (rb *RingBuffer) TimeRange() (oldest, newest float64, err error) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.count == 0 {
		return 0, 0, errors.ErrNotFound
	}
	return rb.at(0).Timestamp(), rb.at(rb.count - 1).Timestamp(), nil
}

// Duration returns the time covered by snapshots in the buffer.
func (rb *RingBuffer) Duration() time.Duration {
	oldest, newest, err := rb.TimeRange()
	if err != nil {
		return 0
	}
	return time.Duration((newest - oldest) * float64(time.Second))
}

// Stats returns buffer statistics.
func (rb *RingBuffer) Stats() BufferStats {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return BufferStats{
		Capacity:   int(rb.capacity),
		Count:      int(rb.count),
		UsageRatio: float64(rb.count) / float64(rb.capacity),
		PushCount:  rb.pushCount.Load(),
		DropCount:  rb.dropCount.Load(),
		EvictCount: rb.evictCount.Load(),
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	DropCount  int64 // overwritten while full
	EvictCount int64 // removed by EvictOlderThan
}
