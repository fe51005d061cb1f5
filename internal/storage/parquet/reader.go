package parquet

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/storage/aggregate"
	"github.com/xtxerr/aura/internal/storage/types"
)

// rowReader reads rows of one type from a Parquet file.
type rowReader[R any] struct {
	file   *os.File
	reader *parquet.GenericReader[R]
	path   string
}

func newRowReader[R any](path string) (*rowReader[R], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open file", err)
	}

	return &rowReader[R]{
		file:   f,
		reader: parquet.NewGenericReader[R](f),
		path:   path,
	}, nil
}

// readRows reads up to n rows. It returns io.EOF once the file is exhausted.
func (r *rowReader[R]) readRows(n int) ([]R, error) {
	rows := make([]R, n)
	count, err := r.reader.Read(rows)
	if err == io.EOF && count > 0 {
		err = nil
	}
	return rows[:count], err
}

func (r *rowReader[R]) readAll() ([]R, error) {
	rows := make([]R, 0, r.reader.NumRows())
	for {
		batch, err := r.readRows(4096)
		rows = append(rows, batch...)
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, errors.NewIO("read rows", err)
		}
	}
}

// NumRows returns the total number of rows in the file.
func (r *rowReader[R]) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *rowReader[R]) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *rowReader[R]) Path() string {
	return r.path
}

// SnapshotReader reads snapshots from a Parquet file.
type SnapshotReader struct {
	*rowReader[SnapshotRow]
}

// NewSnapshotReader creates a new snapshot Parquet reader.
func NewSnapshotReader(path string) (*SnapshotReader, error) {
	r, err := newRowReader[SnapshotRow](path)
	if err != nil {
		return nil, err
	}
	return &SnapshotReader{r}, nil
}

// Read reads up to n snapshots from the file. It returns io.EOF when no
// rows remain.
func (r *SnapshotReader) Read(n int) ([]types.Snapshot, error) {
	rows, err := r.readRows(n)
	if err != nil {
		return nil, err
	}
	return toSnapshots(r.path, rows)
}

// ReadAll reads all snapshots from the file.
func (r *SnapshotReader) ReadAll() ([]types.Snapshot, error) {
	rows, err := r.readAll()
	if err != nil {
		return nil, err
	}
	return toSnapshots(r.path, rows)
}

func toSnapshots(path string, rows []SnapshotRow) ([]types.Snapshot, error) {
	out := make([]types.Snapshot, len(rows))
	for i, row := range rows {
		s, err := RowToSnapshot(row)
		if err != nil {
			return nil, errors.NewIO("read "+path, fmt.Errorf("corrupt row %d: %v", i, err))
		}
		out[i] = s
	}
	return out, nil
}

// BucketReader reads bucket summaries from a Parquet file.
type BucketReader struct {
	*rowReader[BucketRow]
}

// NewBucketReader creates a new bucket Parquet reader.
func NewBucketReader(path string) (*BucketReader, error) {
	r, err := newRowReader[BucketRow](path)
	if err != nil {
		return nil, err
	}
	return &BucketReader{r}, nil
}

// ReadAll reads all buckets from the file.
func (r *BucketReader) ReadAll() ([]aggregate.Bucket, error) {
	rows, err := r.readAll()
	if err != nil {
		return nil, err
	}

	out := make([]aggregate.Bucket, len(rows))
	for i := range rows {
		out[i] = RowToBucket(&rows[i])
	}
	return out, nil
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
	NumCols int
}

// GetFileInfo returns information about a Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open file", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.NewIO("stat file", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, errors.NewIO("read footer", err)
	}

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: pf.NumRows(),
		NumCols: len(pf.Schema().Fields()),
	}, nil
}
