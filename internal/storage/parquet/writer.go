package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/storage/aggregate"
	"github.com/xtxerr/aura/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// RowGroupSize is the maximum number of rows per row group
	RowGroupSize int

	// PageSize is the target page buffer size in bytes
	PageSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:  CompressionZstd,
		RowGroupSize: 100000,
		PageSize:     1024 * 1024, // 1MB
	}
}

// ParseCompressionType parses a compression type string.
// Unknown names fall back to zstd; config validation rejects them earlier.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// =============================================================================
// Rows
// =============================================================================

// SnapshotRow represents a snapshot in Parquet format.
// Column names match the sqlite snapshots table.
type SnapshotRow struct {
	Timestamp     float64 `parquet:"timestamp"`
	CPUPercent    float64 `parquet:"cpu_percent"`
	MemoryPercent float64 `parquet:"memory_percent"`
}

// BucketRow represents a bucket summary in Parquet format.
type BucketRow struct {
	BucketStart float64 `parquet:"bucket_start"`
	BucketEnd   float64 `parquet:"bucket_end"`
	Count       int64   `parquet:"count"`
	FirstTs     float64 `parquet:"first_ts"`
	LastTs      float64 `parquet:"last_ts"`

	CPUMin float64  `parquet:"cpu_min"`
	CPUMax float64  `parquet:"cpu_max"`
	CPUAvg float64  `parquet:"cpu_avg"`
	CPUP50 *float64 `parquet:"cpu_p50,optional"`
	CPUP90 *float64 `parquet:"cpu_p90,optional"`
	CPUP95 *float64 `parquet:"cpu_p95,optional"`
	CPUP99 *float64 `parquet:"cpu_p99,optional"`

	MemoryMin float64  `parquet:"memory_min"`
	MemoryMax float64  `parquet:"memory_max"`
	MemoryAvg float64  `parquet:"memory_avg"`
	MemoryP50 *float64 `parquet:"memory_p50,optional"`
	MemoryP90 *float64 `parquet:"memory_p90,optional"`
	MemoryP95 *float64 `parquet:"memory_p95,optional"`
	MemoryP99 *float64 `parquet:"memory_p99,optional"`
}

// SnapshotToRow converts a Snapshot to a SnapshotRow.
func SnapshotToRow(s types.Snapshot) SnapshotRow {
	return SnapshotRow{
		Timestamp:     s.Timestamp(),
		CPUPercent:    s.CPUPercent(),
		MemoryPercent: s.MemoryPercent(),
	}
}

// RowToSnapshot converts a SnapshotRow to a Snapshot.
// Rows that violate the snapshot invariants are rejected.
func RowToSnapshot(r SnapshotRow) (types.Snapshot, error) {
	return types.NewSnapshot(r.Timestamp, r.CPUPercent, r.MemoryPercent)
}

// BucketToRow converts a Bucket to a BucketRow.
func BucketToRow(b *aggregate.Bucket) BucketRow {
	return BucketRow{
		BucketStart: b.Start,
		BucketEnd:   b.End,
		Count:       b.Count,
		FirstTs:     b.FirstTs,
		LastTs:      b.LastTs,

		CPUMin: b.CPU.Min,
		CPUMax: b.CPU.Max,
		CPUAvg: b.CPU.Avg,
		CPUP50: b.CPU.P50,
		CPUP90: b.CPU.P90,
		CPUP95: b.CPU.P95,
		CPUP99: b.CPU.P99,

		MemoryMin: b.Memory.Min,
		MemoryMax: b.Memory.Max,
		MemoryAvg: b.Memory.Avg,
		MemoryP50: b.Memory.P50,
		MemoryP90: b.Memory.P90,
		MemoryP95: b.Memory.P95,
		MemoryP99: b.Memory.P99,
	}
}

// RowToBucket converts a BucketRow to a Bucket.
func RowToBucket(r *BucketRow) aggregate.Bucket {
	return aggregate.Bucket{
		Start: r.BucketStart,
		End:   r.BucketEnd,
		Summary: types.Summary{
			Count:   r.Count,
			FirstTs: r.FirstTs,
			LastTs:  r.LastTs,
			CPU: types.SeriesStats{
				Min: r.CPUMin, Max: r.CPUMax, Avg: r.CPUAvg,
				P50: r.CPUP50, P90: r.CPUP90, P95: r.CPUP95, P99: r.CPUP99,
			},
			Memory: types.SeriesStats{
				Min: r.MemoryMin, Max: r.MemoryMax, Avg: r.MemoryAvg,
				P50: r.MemoryP50, P90: r.MemoryP90, P95: r.MemoryP95, P99: r.MemoryP99,
			},
		},
	}
}

// =============================================================================
// Writers
// =============================================================================

// rowWriter writes rows of one type to a staged Parquet file.
type rowWriter[R any] struct {
	mu       sync.Mutex
	path     string
	tmpPath  string
	file     *os.File
	writer   *parquet.GenericWriter[R]
	rowCount int64
	closed   bool
}

func newRowWriter[R any](path string, opts Options) (*rowWriter[R], error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewIO("create directory", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, errors.NewIO("create file", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}
	if opts.RowGroupSize > 0 {
		writerOpts = append(writerOpts, parquet.MaxRowsPerRowGroup(int64(opts.RowGroupSize)))
	}
	if opts.PageSize > 0 {
		writerOpts = append(writerOpts, parquet.PageBufferSize(opts.PageSize))
	}

	return &rowWriter[R]{
		path:    path,
		tmpPath: tmpPath,
		file:    f,
		writer:  parquet.NewGenericWriter[R](f, writerOpts...),
	}, nil
}

func (w *rowWriter[R]) writeRows(rows []R) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return errors.NewIO("write rows", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes the file and moves it into place.
func (w *rowWriter[R]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return errors.NewIO("close writer", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return errors.NewIO("close file", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		os.Remove(w.tmpPath)
		return errors.NewIO("rename file", err)
	}
	return nil
}

// Abort discards the staged file. The final path is never created.
func (w *rowWriter[R]) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	w.writer.Close()
	w.file.Close()
	return os.Remove(w.tmpPath)
}

// RowCount returns the number of rows written.
func (w *rowWriter[R]) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the final file path.
func (w *rowWriter[R]) Path() string {
	return w.path
}

// SnapshotWriter writes snapshots to a Parquet file.
type SnapshotWriter struct {
	*rowWriter[SnapshotRow]
}

// NewSnapshotWriter creates a new snapshot Parquet writer.
func NewSnapshotWriter(path string, opts Options) (*SnapshotWriter, error) {
	w, err := newRowWriter[SnapshotRow](path, opts)
	if err != nil {
		return nil, err
	}
	return &SnapshotWriter{w}, nil
}

// Write writes snapshots to the Parquet file.
func (w *SnapshotWriter) Write(snapshots []types.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	rows := make([]SnapshotRow, len(snapshots))
	for i, s := range snapshots {
		rows[i] = SnapshotToRow(s)
	}
	return w.writeRows(rows)
}

// BucketWriter writes bucket summaries to a Parquet file.
type BucketWriter struct {
	*rowWriter[BucketRow]
}

// NewBucketWriter creates a new bucket Parquet writer.
func NewBucketWriter(path string, opts Options) (*BucketWriter, error) {
	w, err := newRowWriter[BucketRow](path, opts)
	if err != nil {
		return nil, err
	}
	return &BucketWriter{w}, nil
}

// Write writes buckets to the Parquet file.
func (w *BucketWriter) Write(buckets []aggregate.Bucket) error {
	if len(buckets) == 0 {
		return nil
	}

	rows := make([]BucketRow, len(buckets))
	for i := range buckets {
		rows[i] = BucketToRow(&buckets[i])
	}
	return w.writeRows(rows)
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed: %w", errors.ErrIO)

// WriteSnapshotFile writes series to a new file at path. Nothing appears at
// path unless the whole file was written.
func WriteSnapshotFile(path string, opts Options, series []types.Snapshot) error {
	w, err := NewSnapshotWriter(path, opts)
	if err != nil {
		return err
	}
	if err := w.Write(series); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

// WriteBucketFile writes buckets to a new file at path.
func WriteBucketFile(path string, opts Options, buckets []aggregate.Bucket) error {
	w, err := NewBucketWriter(path, opts)
	if err != nil {
		return err
	}
	if err := w.Write(buckets); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}
