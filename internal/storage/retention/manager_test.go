package retention

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/aura/internal/storage/config"
	"github.com/xtxerr/aura/internal/storage/parquet"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func setupManager(t *testing.T, retention time.Duration) (*Manager, string) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Archive.Retention = retention
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	m := New(cfg)
	m.SetClock(func() time.Time { return now })
	return m, cfg.ArchiveDir()
}

func touch(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestManager_RunCleanup(t *testing.T) {
	m, dir := setupManager(t, 24*time.Hour)

	files := []struct {
		name string
		keep bool
	}{
		{parquet.FileName(parquet.KindSnapshots, now.Add(-48*time.Hour)), false},
		{parquet.FileName(parquet.KindSnapshots, now.Add(-25*time.Hour)), false},
		{parquet.FileName(parquet.KindSnapshots, now.Add(-23*time.Hour)), true},
		{parquet.FileName(parquet.KindBuckets, now.Add(-30*24*time.Hour)), false},
		{parquet.FileName(parquet.KindBuckets, now), true},
		{"snapshots_garbage.parquet", true},
		{"notes.txt", true},
		{parquet.FileName(parquet.KindSnapshots, now.Add(-48*time.Hour)) + ".tmp", true},
	}
	for _, f := range files {
		touch(t, dir, f.name, 100)
	}

	results := m.RunCleanup()
	if len(results) != 2 {
		t.Fatalf("expected one result per kind, got %d", len(results))
	}

	snap, buckets := results[0], results[1]
	if snap.Kind != parquet.KindSnapshots || snap.FilesDeleted != 2 || snap.FilesSkipped != 2 {
		t.Errorf("snapshots result = %+v", snap)
	}
	if buckets.FilesDeleted != 1 || buckets.BytesFreed != 100 {
		t.Errorf("buckets result = %+v", buckets)
	}

	for _, f := range files {
		_, err := os.Stat(filepath.Join(dir, f.name))
		if exists := err == nil; exists != f.keep {
			t.Errorf("%s exists=%v, want %v", f.name, exists, f.keep)
		}
	}

	stats := m.Stats()
	if stats.FilesDeleted != 3 || stats.BytesFreed != 300 || !stats.LastRunTime.Equal(now) {
		t.Errorf("stats = %+v", stats)
	}
}

func TestManager_DryRun(t *testing.T) {
	m, dir := setupManager(t, time.Hour)

	old := parquet.FileName(parquet.KindSnapshots, now.Add(-2*time.Hour))
	touch(t, dir, old, 10)

	results := m.DryRun()
	if results[0].FilesDeleted != 1 {
		t.Errorf("expected 1 file would be deleted, got %d", results[0].FilesDeleted)
	}

	if _, err := os.Stat(filepath.Join(dir, old)); err != nil {
		t.Error("file should still exist after dry run")
	}
	if m.Stats().FilesDeleted != 0 {
		t.Error("dry run should not count deletions")
	}
}

func TestManager_MissingDirectory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "never-created")

	results := New(cfg).RunCleanup()
	for _, r := range results {
		if len(r.Errors) != 0 || r.FilesDeleted != 0 {
			t.Errorf("missing directory should be a no-op: %+v", r)
		}
	}
}

func TestManager_DiskUsage(t *testing.T) {
	m, dir := setupManager(t, time.Hour)

	touch(t, dir, parquet.FileName(parquet.KindSnapshots, now), 1500)
	touch(t, dir, parquet.FileName(parquet.KindSnapshots, now.Add(time.Second)), 500)
	touch(t, dir, parquet.FileName(parquet.KindBuckets, now), 300)

	usage := m.GetDiskUsage()
	if u := usage[parquet.KindSnapshots]; u.FileCount != 2 || u.TotalSize != 2000 {
		t.Errorf("snapshots usage = %+v", u)
	}
	if u := usage[parquet.KindBuckets]; u.FileCount != 1 || u.TotalSize != 300 {
		t.Errorf("buckets usage = %+v", u)
	}

	out := m.FormatDiskUsage()
	for _, want := range []string{"snapshots: 2 files, 2.0 kB", "Total: 3 files, 2.3 kB"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatDiskUsage() missing %q:\n%s", want, out)
		}
	}
}
