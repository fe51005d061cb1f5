package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/aura/internal/storage"
	"github.com/xtxerr/aura/internal/storage/aggregate"
	"github.com/xtxerr/aura/internal/storage/config"
	"github.com/xtxerr/aura/internal/storage/downsample"
	"github.com/xtxerr/aura/internal/store"
	testutil "github.com/xtxerr/aura/internal/testing"
)

const hour0 = 200 * 3600

// TestIntegration_FullPipeline covers store → archive → pruning → query →
// downsample: history that has left the retention window stays reachable.
func TestIntegration_FullPipeline(t *testing.T) {
	dir := t.TempDir()
	clock := testutil.NewFakeClock(hour0)
	// The store prunes against its own clock so the export can run first.
	storeClock := testutil.NewFakeClock(hour0 + 3600)

	st, err := store.Open(filepath.Join(dir, "telemetry.sqlite"), 3600, storeClock.Seconds)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Archive.Enabled = true
	cfg.Archive.BucketSize = 10 * time.Minute

	svc, err := storage.New(cfg, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Stop(context.Background())
	svc.SetClock(clock.Now)

	// Two hours at 1 Hz with a spike early in the first hour.
	series := testutil.WithSpike(t, testutil.Flat(t, 7200, hour0, 12, 40), 1000, 97)
	for _, s := range series {
		if err := st.Append(s); err != nil {
			t.Fatal(err)
		}
	}

	clock.Set(hour0 + 7200)
	res, err := svc.Export(context.Background())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Snapshots != 7200 || res.Buckets != 12 {
		t.Errorf("export = %+v", res)
	}

	// An hour later the store only holds the last hour.
	storeClock.Set(hour0 + 7200)
	n, err := st.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3600 {
		t.Fatalf("store count = %d, want 3600 after pruning", n)
	}

	full, err := svc.Query().Between(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(full) != 7200 {
		t.Fatalf("archive+store = %d snapshots, want 7200", len(full))
	}

	timeline, err := downsample.QueryRange(svc.Query(), nil, nil, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(timeline) != 100 {
		t.Fatalf("timeline len = %d", len(timeline))
	}
	spike := false
	for _, s := range timeline {
		spike = spike || s.CPUPercent() == 97
	}
	if !spike {
		t.Error("spike from the archived hour missing from the timeline")
	}

	sum, err := svc.Query().Summary(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	live := aggregate.Summarize(series)
	if sum.Count != live.Count || sum.CPU.Max != live.CPU.Max || sum.FirstTs != live.FirstTs {
		t.Errorf("archive summary %+v differs from in-memory %+v", sum, live)
	}

	buckets, err := svc.Query().Buckets(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 12 || buckets[1].CPU.Max != 97 {
		t.Errorf("buckets = %d, second max = %v", len(buckets), buckets[1].CPU.Max)
	}
}
