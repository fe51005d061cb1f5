package recorder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/scheduler"
	"github.com/xtxerr/aura/internal/storage/aggregate"
	"github.com/xtxerr/aura/internal/storage/types"
	"github.com/xtxerr/aura/internal/store"
	testutil "github.com/xtxerr/aura/internal/testing"
)

// failingStore accepts okWrites appends and fails every later one.
type failingStore struct {
	okWrites int
	appended []types.Snapshot
	closed   int
}

func (f *failingStore) Append(s types.Snapshot) error {
	if len(f.appended) >= f.okWrites {
		return errors.NewIO("append", fmt.Errorf("disk I/O error"))
	}
	f.appended = append(f.appended, s)
	return nil
}

func (f *failingStore) Latest(limit int) ([]types.Snapshot, error) {
	if f.closed > 0 {
		return nil, errors.ErrStoreClosed
	}
	return f.appended, nil
}

func (f *failingStore) Between(start, end *float64) ([]types.Snapshot, error) {
	if f.closed > 0 {
		return nil, errors.ErrStoreClosed
	}
	return f.appended, nil
}

func (f *failingStore) Close() error {
	f.closed++
	return nil
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"negative buffer", Options{LiveBuffer: -1}},
		{"negative limit", Options{Limit: -1}},
		{"negative retention", Options{RetentionSeconds: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestRecordPersists(t *testing.T) {
	clock := testutil.NewFakeClock(1000)
	st, err := store.Open(store.MemoryLocation, 3600, clock.Seconds)
	if err != nil {
		t.Fatal(err)
	}

	rec, err := New(Options{Store: st, LiveBuffer: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()

	for _, s := range testutil.Ramp(t, 6, 990) {
		if err := rec.Record(s); err != nil {
			t.Fatal(err)
		}
	}

	if !rec.Persisting() || rec.PersistErr() != nil {
		t.Fatal("persistence should be on")
	}
	if n, _ := st.Count(); n != 6 {
		t.Errorf("store count = %d, want 6", n)
	}
	if got := rec.Live().Len(); got != 4 {
		t.Errorf("ring len = %d, want 4", got)
	}

	// Reads come from the store, which holds more than the ring.
	got, err := rec.Latest(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 6 {
		t.Errorf("Latest() len = %d, want 6", len(got))
	}
	if rec.Stats().Persisted.Load() != 6 {
		t.Errorf("persisted = %d", rec.Stats().Persisted.Load())
	}
}

func TestWriteFailureDegradesOnce(t *testing.T) {
	fs := &failingStore{okWrites: 2}
	var warnings []error
	rec, err := New(Options{
		Store:     fs,
		OnDisable: func(err error) { warnings = append(warnings, err) },
	})
	if err != nil {
		t.Fatal(err)
	}

	series := testutil.Ramp(t, 5, 0)
	for _, s := range series {
		if err := rec.Record(s); err != nil {
			t.Fatalf("Record() error = %v, want nil after failure", err)
		}
	}

	if len(warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(warnings))
	}
	if !errors.IsIO(warnings[0]) {
		t.Errorf("warning error = %v, want I/O error", warnings[0])
	}
	if fs.closed != 1 {
		t.Errorf("store closed %d times, want 1", fs.closed)
	}
	if len(fs.appended) != 2 {
		t.Errorf("store got %d snapshots, want 2", len(fs.appended))
	}
	if rec.Persisting() {
		t.Error("persistence should be off")
	}
	if err := rec.PersistErr(); !errors.Is(err, errors.ErrPersistenceDisabled) {
		t.Errorf("PersistErr() = %v", err)
	}

	// The live ring kept everything.
	got, err := rec.Latest(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Errorf("Latest() len = %d, want 5", len(got))
	}
	if rec.Stats().WriteFailures.Load() != 1 || rec.Stats().Recorded.Load() != 5 {
		t.Errorf("stats = %d failures, %d recorded",
			rec.Stats().WriteFailures.Load(), rec.Stats().Recorded.Load())
	}
	if err := rec.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestLiveOnlyEvictsByAge(t *testing.T) {
	clock := testutil.NewFakeClock(100)
	rec, err := New(Options{RetentionSeconds: 10, Clock: clock.Seconds})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Persisting() {
		t.Fatal("nil store should start live-only")
	}

	for _, s := range testutil.Ramp(t, 20, 81) {
		clock.Set(s.Timestamp())
		rec.Record(s)
	}

	got := rec.Live().All()
	if len(got) != 11 {
		t.Fatalf("ring len = %d, want 11", len(got))
	}
	if got[0].Timestamp() != 90 || got[10].Timestamp() != 100 {
		t.Errorf("ring spans %v..%v, want 90..100", got[0].Timestamp(), got[10].Timestamp())
	}

	start, end := 95.0, 97.0
	between, err := rec.Between(&start, &end)
	if err != nil {
		t.Fatal(err)
	}
	if len(between) != 3 {
		t.Errorf("Between() len = %d, want 3", len(between))
	}
}

func TestLimitStopsScheduler(t *testing.T) {
	clock := testutil.NewFakeClock(0)
	var seen []float64
	rec, err := New(Options{
		Limit:    3,
		OnRecord: func(s types.Snapshot) { seen = append(seen, s.Timestamp()) },
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := scheduler.Run(context.Background(), scheduler.Options{
		Interval: time.Second,
		Collect: func(context.Context) (types.Snapshot, error) {
			return types.NewSnapshot(clock.Seconds(), 10, 20)
		},
		Sink:       rec.Sink(),
		ShouldStop: rec.Done,
		Clock:      clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || len(seen) != 3 {
		t.Errorf("emitted %d, recorded %d, want 3", n, len(seen))
	}
	if !rec.Done() {
		t.Error("Done() = false after limit")
	}
}

func TestRollups(t *testing.T) {
	var buckets []aggregate.Bucket
	rec, err := New(Options{
		BucketSize: time.Minute,
		OnBucket:   func(b aggregate.Bucket) { buckets = append(buckets, b) },
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, s := range testutil.Flat(t, 150, 0, 30, 60) {
		rec.Record(s)
	}
	if len(buckets) != 2 {
		t.Fatalf("completed buckets = %d, want 2", len(buckets))
	}
	if buckets[0].Start != 0 || buckets[0].Count != 60 {
		t.Errorf("first bucket = %+v", buckets[0])
	}

	rest := rec.Flush()
	if len(rest) != 1 || rest[0].Count != 30 || len(buckets) != 3 {
		t.Errorf("Flush() = %d buckets, total %d", len(rest), len(buckets))
	}
}

func TestRecorderConcurrentUse(t *testing.T) {
	st, err := store.Open(store.MemoryLocation, 3600, types.Fixed(1000))
	if err != nil {
		t.Fatal(err)
	}
	rec, err := New(Options{Store: st, LiveBuffer: 500})
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()

	series := testutil.Ramp(t, 200, 500)
	runner := testutil.NewParallelRunner(t)
	for w := 0; w < 4; w++ {
		part := series[w*50 : (w+1)*50]
		runner.Add(fmt.Sprintf("writer-%d", w), func() error {
			for _, s := range part {
				if err := rec.Record(s); err != nil {
					return err
				}
			}
			return nil
		})
	}
	runner.Add("reader", func() error {
		for i := 0; i < 50; i++ {
			if _, err := rec.Latest(10); err != nil {
				return testutil.AssertNoError(err, "Latest")
			}
			// Validation still holds while writers hold the store.
			_, err := rec.Latest(0)
			if err := testutil.AssertError(err, "Latest(0)"); err != nil {
				return err
			}
		}
		return nil
	})
	runner.Run()

	if err := testutil.AssertEqual(rec.Stats().Persisted.Load(), int64(200), "persisted"); err != nil {
		t.Error(err)
	}
	all, err := rec.Between(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := testutil.AssertEqual(len(all), 200, "stored snapshots"); err != nil {
		t.Error(err)
	}
	if err := testutil.AssertEqual(rec.Live().Len(), 200, "live snapshots"); err != nil {
		t.Error(err)
	}
}
