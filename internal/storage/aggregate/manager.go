package aggregate

import (
	"math"
	"sync"
	"time"

	"github.com/xtxerr/aura/internal/storage/types"
)

// Bucket is the summary of one aligned time bucket.
type Bucket struct {
	// Bucket bounds, Unix seconds. Start is inclusive, End exclusive.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	types.Summary
}

// Manager rolls a live snapshot stream into aligned buckets.
// It handles bucket transitions and holds completed buckets until flushed.
type Manager struct {
	mu sync.RWMutex

	// Configuration
	bucketSize  time.Duration
	percentiles bool
	accuracy    float64

	// Active bucket (nil until the first snapshot)
	active      *Window
	activeStart float64

	// Completed buckets waiting to be flushed
	completed []Bucket

	// Statistics
	stats ManagerStats
}

// ManagerStats holds statistics for the manager.
type ManagerStats struct {
	SnapshotsProcessed int64
	SnapshotsLate      int64
	BucketsCompleted   int64
	FlushesPerformed   int64
	CompletedPending   int64
}

// NewManager creates a new bucket manager.
func NewManager(bucketSize time.Duration, percentiles bool) *Manager {
	return &Manager{
		bucketSize:  bucketSize,
		percentiles: percentiles,
		accuracy:    DefaultAccuracy,
	}
}

// NewManagerWithAccuracy creates a manager with custom percentile accuracy.
func NewManagerWithAccuracy(bucketSize time.Duration, accuracy float64) *Manager {
	return &Manager{
		bucketSize:  bucketSize,
		percentiles: true,
		accuracy:    accuracy,
	}
}

// Process adds a snapshot to its bucket.
// A snapshot in a later bucket completes the active one. Snapshots older
// than the active bucket are counted as late and dropped.
func (m *Manager) Process(s types.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.bucketStart(s.Timestamp())

	switch {
	case m.active == nil:
		m.active = NewWithAccuracy(m.accuracy, m.percentiles)
		m.activeStart = start
	case start > m.activeStart:
		m.completeActive()
		m.active.Reset()
		m.activeStart = start
	case start < m.activeStart:
		m.stats.SnapshotsLate++
		return
	}

	m.active.Add(s)
	m.stats.SnapshotsProcessed++
}

// FlushCompleted returns and clears all completed buckets.
func (m *Manager) FlushCompleted() []Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.completed) == 0 {
		return nil
	}

	result := m.completed
	m.completed = nil
	m.stats.FlushesPerformed++
	return result
}

// FlushAll completes the active bucket and returns every pending bucket.
// This is typically called during shutdown.
func (m *Manager) FlushAll() []Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.completeActive()
	m.active = nil

	result := m.completed
	m.completed = nil
	m.stats.FlushesPerformed++
	return result
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	stats.CompletedPending = int64(len(m.completed))
	return stats
}

// BucketSize returns the configured bucket size.
func (m *Manager) BucketSize() time.Duration {
	return m.bucketSize
}

func (m *Manager) completeActive() {
	if m.active == nil || m.active.Count() == 0 {
		return
	}
	m.completed = append(m.completed, Bucket{
		Start:   m.activeStart,
		End:     m.activeStart + m.bucketSize.Seconds(),
		Summary: m.active.Result(),
	})
	m.stats.BucketsCompleted++
}

func (m *Manager) bucketStart(ts float64) float64 {
	return AlignBucket(ts, m.bucketSize)
}

// AlignBucket returns the start of the bucket of the given size holding ts.
func AlignBucket(ts float64, size time.Duration) float64 {
	width := size.Seconds()
	return math.Floor(ts/width) * width
}

// Bucketize splits a chronological series into aligned buckets of the given
// size and summarizes each one. Empty buckets are omitted.
func Bucketize(series []types.Snapshot, size time.Duration, percentiles bool) []Bucket {
	if size <= 0 {
		return nil
	}
	m := NewManager(size, percentiles)
	for _, s := range series {
		m.Process(s)
	}
	return m.FlushAll()
}
