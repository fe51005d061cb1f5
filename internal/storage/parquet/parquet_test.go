package parquet

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/storage/aggregate"
	"github.com/xtxerr/aura/internal/storage/types"
	testutil "github.com/xtxerr/aura/internal/testing"
)

func writeSnapshots(t *testing.T, path string, opts Options, series []types.Snapshot) {
	t.Helper()

	w, err := NewSnapshotWriter(path, opts)
	if err != nil {
		t.Fatalf("NewSnapshotWriter: %v", err)
	}
	if err := w.Write(series); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSnapshotWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshots.parquet")
	series := []types.Snapshot{
		testutil.Snap(t, 1700000000.25, 12.5, 40),
		testutil.Snap(t, 1700000001.25, 0, 100),
		testutil.Snap(t, 1700000002.25, 99.9, 0.1),
	}

	writeSnapshots(t, path, DefaultOptions(), series)

	r, err := NewSnapshotReader(path)
	if err != nil {
		t.Fatalf("NewSnapshotReader: %v", err)
	}
	defer r.Close()

	if r.NumRows() != 3 {
		t.Errorf("expected 3 rows, got %d", r.NumRows())
	}

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(series) {
		t.Fatalf("expected %d snapshots, got %d", len(series), len(got))
	}
	for i := range series {
		if got[i] != series[i] {
			t.Errorf("snapshot %d = %v, want %v", i, got[i], series[i])
		}
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ct   CompressionType
	}{
		{"none", CompressionNone},
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"gzip", CompressionGzip},
	}

	series := testutil.Ramp(t, 500, 1000)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "s.parquet")
			opts := DefaultOptions()
			opts.Compression = tt.ct
			opts.RowGroupSize = 64

			writeSnapshots(t, path, opts, series)

			r, err := NewSnapshotReader(path)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			got, err := r.ReadAll()
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(series) || got[499] != series[499] {
				t.Errorf("round trip lost data: %d rows", len(got))
			}
		})
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		in   string
		want CompressionType
	}{
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"gzip", CompressionGzip},
		{"none", CompressionNone},
		{"", CompressionNone},
		{"brotli", CompressionZstd},
	}

	for _, tt := range tests {
		if got := ParseCompressionType(tt.in); got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSnapshotReaderBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.parquet")
	writeSnapshots(t, path, DefaultOptions(), testutil.Ramp(t, 10, 0))

	r, err := NewSnapshotReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	total := 0
	for {
		batch, err := r.Read(4)
		total += len(batch)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if len(batch) == 0 {
			t.Fatal("empty batch without EOF")
		}
	}
	if total != 10 {
		t.Errorf("read %d snapshots in batches, want 10", total)
	}
}

func TestWriterStagesUntilClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.parquet")

	w, err := NewSnapshotWriter(path, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(testutil.Ramp(t, 3, 0)); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("final file visible before Close")
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("final file missing after Close: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("staging file left behind")
	}
	if w.RowCount() != 3 {
		t.Errorf("RowCount() = %d, want 3", w.RowCount())
	}
}

func TestWriterAbort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.parquet")

	w, err := NewSnapshotWriter(path, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	w.Write(testutil.Ramp(t, 3, 0))

	if err := w.Abort(); err != nil {
		t.Fatal(err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("abort left %d files", len(entries))
	}
}

func TestWriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.parquet")

	w, err := NewSnapshotWriter(path, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	w.Close()

	err = w.Write(testutil.Ramp(t, 1, 0))
	if !errors.Is(err, ErrWriterClosed) || !errors.IsIO(err) {
		t.Errorf("Write after Close error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
}

func TestCorruptRowRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.parquet")

	w, err := newRowWriter[SnapshotRow](path, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.writeRows([]SnapshotRow{{Timestamp: 1, CPUPercent: 150, MemoryPercent: 1}}); err != nil {
		t.Fatal(err)
	}
	w.Close()

	r, err := NewSnapshotReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	_, err = r.ReadAll()
	if !errors.IsIO(err) || errors.IsInvalidArgument(err) {
		t.Errorf("ReadAll() error = %v, want i/o error only", err)
	}
}

func TestBucketWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.parquet")

	series := testutil.Ramp(t, 180, 0)
	buckets := aggregate.Bucketize(series, time.Minute, true)
	plain := aggregate.Bucketize(series, time.Hour, false)
	buckets = append(buckets, plain...)

	w, err := NewBucketWriter(path, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(buckets); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewBucketReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 buckets, got %d", len(got))
	}

	first := got[0]
	if first.Start != 0 || first.End != 60 || first.Count != 60 {
		t.Errorf("first bucket = %+v", first)
	}
	if !first.CPU.HasPercentiles() || *first.CPU.P50 != *buckets[0].CPU.P50 {
		t.Error("percentiles lost")
	}
	if got[3].CPU.HasPercentiles() {
		t.Error("absent percentiles should stay absent")
	}
}

func TestGetFileInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.parquet")
	writeSnapshots(t, path, DefaultOptions(), testutil.Ramp(t, 25, 0))

	info, err := GetFileInfo(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.NumRows != 25 || info.NumCols != 3 || info.Size == 0 {
		t.Errorf("info = %+v", info)
	}

	if _, err := GetFileInfo(filepath.Join(t.TempDir(), "missing.parquet")); !errors.IsIO(err) {
		t.Errorf("missing file error = %v", err)
	}
}

func TestFileNames(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	name := FileName(KindSnapshots, at)
	if name != "snapshots_2026-03-04_05-06-07.parquet" {
		t.Errorf("FileName() = %s", name)
	}

	kind, ts, ok := ParseFileTime(filepath.Join("/archive", name))
	if !ok || kind != KindSnapshots || !ts.Equal(at) {
		t.Errorf("ParseFileTime() = %s, %v, %v", kind, ts, ok)
	}

	for _, bad := range []string{"notes.txt", "snapshots.parquet", "snapshots_yesterday.parquet", name + ".tmp"} {
		if _, _, ok := ParseFileTime(bad); ok {
			t.Errorf("ParseFileTime(%q) should fail", bad)
		}
	}

	if g := Glob("/a", KindBuckets); g != filepath.Join("/a", "buckets_*.parquet") {
		t.Errorf("Glob() = %s", g)
	}
}
