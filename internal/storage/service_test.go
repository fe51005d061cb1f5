package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/storage/config"
	"github.com/xtxerr/aura/internal/storage/parquet"
	"github.com/xtxerr/aura/internal/storage/types"
	"github.com/xtxerr/aura/internal/store"
	testutil "github.com/xtxerr/aura/internal/testing"
)

// hour0 is an hour-aligned Unix time used as the start of test series.
const hour0 = 100 * 3600

func setupService(t *testing.T, bucket time.Duration) (*Service, *store.Store, *testutil.FakeClock, *config.Config) {
	t.Helper()

	clock := testutil.NewFakeClock(hour0)
	st, err := store.Open(store.MemoryLocation, 7*24*3600, clock.Seconds)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Archive.Enabled = true
	cfg.Archive.BucketSize = bucket

	svc, err := New(cfg, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.SetClock(clock.Now)
	t.Cleanup(func() { svc.Stop(context.Background()) })

	return svc, st, clock, cfg
}

func appendAll(t *testing.T, st *store.Store, series []types.Snapshot) {
	t.Helper()
	for _, s := range series {
		if err := st.Append(s); err != nil {
			t.Fatal(err)
		}
	}
}

func TestService_New(t *testing.T) {
	svc, _, _, _ := setupService(t, time.Hour)

	if svc.IsRunning() {
		t.Error("service should not be running before Start()")
	}
	if _, ok := svc.Watermark(); ok {
		t.Error("empty archive should have no watermark")
	}

	if _, err := New(config.DefaultConfig(), nil); !errors.IsInvalidArgument(err) {
		t.Errorf("nil source error = %v", err)
	}

	bad := config.DefaultConfig()
	bad.Archive.Enabled = true
	if _, err := New(bad, &fakeSource{}); !errors.IsConfig(err) {
		t.Errorf("invalid config error = %v", err)
	}
}

func TestService_ExportWithRollups(t *testing.T) {
	svc, st, clock, _ := setupService(t, time.Hour)

	// 90 minutes of data; only the first complete hour is exported.
	appendAll(t, st, testutil.Ramp(t, 5400, hour0))
	clock.Set(hour0 + 5400)

	res, err := svc.Export(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Snapshots != 3600 || res.Buckets != 1 {
		t.Errorf("export = %+v, want 3600 snapshots in 1 bucket", res)
	}
	if res.Watermark != hour0+3599 {
		t.Errorf("watermark = %v", res.Watermark)
	}

	r, err := parquet.NewSnapshotReader(res.SnapshotsFile)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.NumRows() != 3600 {
		t.Errorf("file rows = %d", r.NumRows())
	}

	// Nothing new before the next bucket closes.
	again, err := svc.Export(context.Background())
	if err != nil || again.Snapshots != 0 {
		t.Errorf("repeat export = %+v, %v", again, err)
	}

	// Next hour closes; the remaining 30 minutes plus new data go out.
	appendAll(t, st, testutil.Flat(t, 1800, hour0+5400, 1, 1))
	clock.Set(hour0 + 7300)

	next, err := svc.Export(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if next.Snapshots != 3600 || next.Watermark != hour0+7199 {
		t.Errorf("second export = %+v", next)
	}

	buckets, err := svc.Query().Buckets(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 2 || buckets[0].Count != 3600 || buckets[1].Start != hour0+3600 {
		t.Errorf("archived buckets = %+v", buckets)
	}

	stats := svc.Stats()
	if stats.Export.Exports != 2 || stats.Export.SnapshotsExported != 7200 || stats.Export.BucketsExported != 2 {
		t.Errorf("stats = %+v", stats.Export)
	}
}

func TestService_ExportWithoutRollups(t *testing.T) {
	svc, st, clock, _ := setupService(t, 0)

	appendAll(t, st, testutil.Ramp(t, 100, hour0))
	clock.Set(hour0 + 100)

	res, err := svc.Export(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Snapshots != 100 || res.BucketsFile != "" {
		t.Errorf("export = %+v", res)
	}
}

func TestService_ResumesWatermark(t *testing.T) {
	svc, st, clock, cfg := setupService(t, 0)

	appendAll(t, st, testutil.Ramp(t, 50, hour0))
	clock.Set(hour0 + 50)
	if _, err := svc.Export(context.Background()); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(cfg, st)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Stop(context.Background())
	reopened.SetClock(clock.Now)

	if wm, ok := reopened.Watermark(); !ok || wm != hour0+49 {
		t.Errorf("watermark = %v, %v", wm, ok)
	}

	res, err := reopened.Export(context.Background())
	if err != nil || res.Snapshots != 0 {
		t.Errorf("export after reopen = %+v, %v", res, err)
	}
}

type fakeSource struct {
	err error
}

func (f *fakeSource) Between(start, end *float64) ([]types.Snapshot, error) {
	return nil, f.err
}

func TestService_ExportErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	src := &fakeSource{err: fmt.Errorf("disk on fire")}
	svc, err := New(cfg, src)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Stop(context.Background())

	if _, err := svc.Export(context.Background()); err == nil {
		t.Error("source error should fail the export")
	}
	if svc.Stats().Export.Errors != 1 {
		t.Errorf("errors = %d", svc.Stats().Export.Errors)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Export(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled export error = %v", err)
	}
}

func TestService_StartStop(t *testing.T) {
	svc, _, _, _ := setupService(t, time.Hour)

	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !svc.IsRunning() {
		t.Error("service should be running")
	}
	if err := svc.Start(); err == nil {
		t.Error("second Start should fail")
	}

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if svc.IsRunning() {
		t.Error("service should be stopped")
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	disabled, err := New(cfg, &fakeSource{})
	if err != nil {
		t.Fatal(err)
	}
	defer disabled.Stop(context.Background())
	if err := disabled.Start(); !errors.IsConfig(err) {
		t.Errorf("Start with archive disabled error = %v", err)
	}
}

func TestService_Compact(t *testing.T) {
	svc, st, clock, cfg := setupService(t, time.Hour)

	appendAll(t, st, testutil.Ramp(t, 5400, hour0))
	clock.Set(hour0 + 5400)
	if _, err := svc.Export(context.Background()); err != nil {
		t.Fatal(err)
	}
	appendAll(t, st, testutil.Flat(t, 1800, hour0+5400, 1, 1))
	clock.Set(hour0 + 7300)
	if _, err := svc.Export(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Both exports happened on the same UTC day; move to the next one.
	clock.Set(hour0 + 24*3600)
	results := svc.Compact(context.Background())
	if len(results) != 2 {
		t.Fatalf("compaction results = %+v", results)
	}
	for _, r := range results {
		if r.Err != nil || r.SourceFiles != 2 {
			t.Errorf("%s: %+v", r.Kind, r)
		}
	}

	entries, err := os.ReadDir(cfg.ArchiveDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("archive holds %d files, want 2", len(entries))
	}

	buckets, err := svc.Query().Buckets(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 2 || buckets[0].Start != hour0 {
		t.Errorf("buckets after compaction = %+v", buckets)
	}
	if got := svc.Stats().Compaction.DaysCompacted; got != 2 {
		t.Errorf("DaysCompacted = %d, want 2", got)
	}
}
