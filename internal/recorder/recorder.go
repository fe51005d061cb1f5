// Package recorder is the sink between the sampler and storage.
//
// Every snapshot lands in a bounded in-memory ring for live views and, while
// persistence is healthy, in the retention store. The first store write
// failure disables persistence for the rest of the session: the store is
// closed, one warning is emitted, and recording continues live-only.
package recorder

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/aura/config"
	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/logging"
	"github.com/xtxerr/aura/internal/storage/aggregate"
	"github.com/xtxerr/aura/internal/storage/buffer"
	"github.com/xtxerr/aura/internal/storage/types"
)

var log = logging.Component("recorder")

// Store is the persistent side of a Recorder. *store.Store satisfies it.
type Store interface {
	Append(types.Snapshot) error
	Latest(limit int) ([]types.Snapshot, error)
	Between(start, end *float64) ([]types.Snapshot, error)
	Close() error
}

// Options configures a Recorder.
type Options struct {
	// Store receives every snapshot. Nil starts the recorder live-only.
	Store Store

	// LiveBuffer is the ring capacity. Zero means config.DefaultLiveBufferSize.
	LiveBuffer int

	// RetentionSeconds bounds the ring by age while live-only, mirroring the
	// store's horizon. Zero disables age eviction.
	RetentionSeconds float64

	// Limit stops the run after this many recorded snapshots. Zero is unbounded.
	Limit int

	// BucketSize, when > 0, rolls snapshots up into summaries of this width.
	// Completed buckets are handed to OnBucket.
	BucketSize time.Duration
	OnBucket   func(aggregate.Bucket)

	// OnRecord is called after each snapshot has been recorded.
	OnRecord func(types.Snapshot)

	// OnDisable receives the write error that disabled persistence. Called at
	// most once. When nil the error is logged at warn level.
	OnDisable func(error)

	// Clock supplies "now" for live-only eviction. Nil means the wall clock.
	Clock types.Clock
}

// Stats counts recorder activity.
type Stats struct {
	Recorded      atomic.Int64
	Persisted     atomic.Int64
	WriteFailures atomic.Int64
}

// Recorder fans snapshots out to the live ring and the store.
//
// Recorder is safe for concurrent use.
type Recorder struct {
	mu         sync.Mutex
	store      Store
	persistErr error

	ring      *buffer.RingBuffer
	rollup    *aggregate.Manager
	retention float64
	limit     int64
	now       types.Clock

	onRecord  func(types.Snapshot)
	onBucket  func(aggregate.Bucket)
	onDisable func(error)

	stats Stats
}

// New creates a Recorder.
func New(opts Options) (*Recorder, error) {
	if opts.LiveBuffer < 0 {
		return nil, errors.NewInvalidConfig("live_buffer", "must be >= 0")
	}
	if opts.Limit < 0 {
		return nil, errors.NewInvalidArgument("limit", "must be >= 0")
	}
	if opts.RetentionSeconds < 0 {
		return nil, errors.NewInvalidConfig("retention_seconds", "must be >= 0")
	}
	size := opts.LiveBuffer
	if size == 0 {
		size = config.DefaultLiveBufferSize
	}

	r := &Recorder{
		store:     opts.Store,
		ring:      buffer.New(size),
		retention: opts.RetentionSeconds,
		limit:     int64(opts.Limit),
		now:       opts.Clock.OrWall(),
		onRecord:  opts.OnRecord,
		onBucket:  opts.OnBucket,
		onDisable: opts.OnDisable,
	}
	if opts.Store == nil {
		r.persistErr = errors.ErrPersistenceDisabled
	}
	if opts.BucketSize > 0 {
		r.rollup = aggregate.NewManager(opts.BucketSize, true)
	}
	return r, nil
}

// =============================================================================
// Recording
// =============================================================================

// Record stores one snapshot. A store failure never fails Record; it switches
// the recorder to live-only mode instead.
func (r *Recorder) Record(s types.Snapshot) error {
	r.mu.Lock()
	r.ring.Push(s)
	if r.store != nil {
		if err := r.store.Append(s); err != nil {
			r.disableLocked(err)
		} else {
			r.stats.Persisted.Add(1)
		}
	}
	if r.store == nil && r.retention > 0 {
		r.ring.EvictOlderThan(r.now() - r.retention)
	}
	var buckets []aggregate.Bucket
	if r.rollup != nil {
		r.rollup.Process(s)
		buckets = r.rollup.FlushCompleted()
	}
	r.mu.Unlock()

	r.stats.Recorded.Add(1)
	if r.onRecord != nil {
		r.onRecord(s)
	}
	if r.onBucket != nil {
		for _, b := range buckets {
			r.onBucket(b)
		}
	}
	return nil
}

// Sink adapts Record to scheduler.SinkFunc.
func (r *Recorder) Sink() func(types.Snapshot) error {
	return r.Record
}

// Done reports whether Limit snapshots have been recorded. Suitable as
// scheduler.Options.ShouldStop.
func (r *Recorder) Done() bool {
	return r.limit > 0 && r.stats.Recorded.Load() >= r.limit
}

func (r *Recorder) disableLocked(err error) {
	r.stats.WriteFailures.Add(1)
	r.persistErr = fmt.Errorf("%w: %w", errors.ErrPersistenceDisabled, err)
	if cerr := r.store.Close(); cerr != nil {
		log.Debug("close after write failure", "error", cerr)
	}
	r.store = nil

	if r.onDisable != nil {
		r.onDisable(err)
		return
	}
	log.Warn("persistence disabled", "error", err)
}

// Flush returns the partially filled rollup bucket, if any, and hands it to
// OnBucket. Call once when the run ends.
func (r *Recorder) Flush() []aggregate.Bucket {
	if r.rollup == nil {
		return nil
	}
	r.mu.Lock()
	buckets := r.rollup.FlushAll()
	r.mu.Unlock()
	if r.onBucket != nil {
		for _, b := range buckets {
			r.onBucket(b)
		}
	}
	return buckets
}

// =============================================================================
// Reads
// =============================================================================

// Persisting reports whether snapshots still reach the store.
func (r *Recorder) Persisting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store != nil
}

// PersistErr returns why persistence is off, or nil while it is on.
func (r *Recorder) PersistErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		return nil
	}
	return r.persistErr
}

// Latest returns up to limit of the newest snapshots, oldest first, from the
// store while persisting and from the live ring otherwise. A store closed
// underneath the call falls back to the ring.
func (r *Recorder) Latest(limit int) ([]types.Snapshot, error) {
	r.mu.Lock()
	st := r.store
	r.mu.Unlock()
	if st != nil {
		out, err := st.Latest(limit)
		if !errors.Is(err, errors.ErrStoreClosed) {
			return out, err
		}
	}
	return r.ring.Latest(limit)
}

// Between returns snapshots in the inclusive range, oldest first. It
// satisfies downsample.RangeSource.
func (r *Recorder) Between(start, end *float64) ([]types.Snapshot, error) {
	r.mu.Lock()
	st := r.store
	r.mu.Unlock()
	if st != nil {
		out, err := st.Between(start, end)
		if !errors.Is(err, errors.ErrStoreClosed) {
			return out, err
		}
	}
	return r.ring.Between(start, end)
}

// Live returns the in-memory ring.
func (r *Recorder) Live() *buffer.RingBuffer {
	return r.ring
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() *Stats {
	return &r.stats
}

// Close closes the store if persistence is still on. Safe to call more than
// once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	if r.persistErr == nil {
		r.persistErr = errors.ErrPersistenceDisabled
	}
	return err
}
