// Package compaction merges the per-export archive files of each completed
// UTC day into one file per kind, so the archive holds one snapshots file
// and one buckets file per day instead of one per export.
package compaction

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/logging"
	"github.com/xtxerr/aura/internal/storage/aggregate"
	"github.com/xtxerr/aura/internal/storage/config"
	"github.com/xtxerr/aura/internal/storage/parquet"
	"github.com/xtxerr/aura/internal/storage/types"
)

var log = logging.Component("compaction")

// Engine compacts archive files.
type Engine struct {
	mu sync.Mutex

	config *config.Config
	now    func() time.Time

	// Statistics
	stats Stats
}

// Stats holds compaction statistics.
type Stats struct {
	Runs          atomic.Int64
	DaysCompacted atomic.Int64
	FilesRead     atomic.Int64
	FilesRemoved  atomic.Int64
	RowsWritten   atomic.Int64
	Errors        atomic.Int64
}

// Result describes the compaction of one kind on one day.
type Result struct {
	Kind        string
	Day         time.Time
	SourceFiles int
	Rows        int
	OutputFile  string
	Err         error
}

// New creates a compaction engine.
func New(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Engine{config: cfg, now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// =============================================================================
// Run
// =============================================================================

// Run compacts every completed day that has more than one file of a kind.
// The current UTC day is never touched; exports still write into it.
func (e *Engine) Run(ctx context.Context) []Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Runs.Add(1)
	today := dayOf(e.now())

	var results []Result
	for _, kind := range []string{parquet.KindSnapshots, parquet.KindBuckets} {
		days, err := e.findFiles(kind)
		if err != nil {
			if !os.IsNotExist(err) {
				e.stats.Errors.Add(1)
				results = append(results, Result{Kind: kind, Err: errors.NewIO("list archive", err)})
			}
			continue
		}

		for _, day := range sortedDays(days) {
			files := days[day]
			if !day.Before(today) || len(files) < 2 {
				continue
			}
			if err := ctx.Err(); err != nil {
				return results
			}

			res := e.runJob(kind, day, files)
			if res.Err != nil {
				e.stats.Errors.Add(1)
				log.Warn("compaction failed", "kind", kind, "day", day.Format(time.DateOnly), "error", res.Err)
			} else {
				e.stats.DaysCompacted.Add(1)
				log.Info("archive day compacted",
					"kind", kind,
					"day", day.Format(time.DateOnly),
					"files", res.SourceFiles,
					"rows", res.Rows)
			}
			results = append(results, res)
		}
	}
	return results
}

// runJob merges files into the day's output file and removes the sources.
// The output is staged and renamed into place before any source is removed,
// so a failure leaves the source files untouched.
func (e *Engine) runJob(kind string, day time.Time, files []string) Result {
	res := Result{Kind: kind, Day: day, SourceFiles: len(files), OutputFile: e.outputPath(kind, day)}

	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(e.config.Features.Compression.Algorithm)
	opts.RowGroupSize = e.config.Archive.RowGroupSize

	switch kind {
	case parquet.KindSnapshots:
		series, err := readSnapshots(files)
		if err != nil {
			res.Err = err
			return res
		}
		e.stats.FilesRead.Add(int64(len(files)))
		if err := parquet.WriteSnapshotFile(res.OutputFile, opts, series); err != nil {
			res.Err = err
			return res
		}
		res.Rows = len(series)
	case parquet.KindBuckets:
		buckets, err := readBuckets(files)
		if err != nil {
			res.Err = err
			return res
		}
		e.stats.FilesRead.Add(int64(len(files)))
		if err := parquet.WriteBucketFile(res.OutputFile, opts, buckets); err != nil {
			res.Err = err
			return res
		}
		res.Rows = len(buckets)
	}
	e.stats.RowsWritten.Add(int64(res.Rows))

	for _, f := range files {
		if f == res.OutputFile {
			continue
		}
		if err := os.Remove(f); err != nil {
			res.Err = errors.NewIO("remove "+f, err)
			continue
		}
		e.stats.FilesRemoved.Add(1)
	}
	return res
}

// findFiles groups the archive files of kind by UTC day.
func (e *Engine) findFiles(kind string) (map[time.Time][]string, error) {
	dir := e.config.ArchiveDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	days := make(map[time.Time][]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".parquet" || !strings.HasPrefix(name, kind+"_") {
			continue
		}
		fileKind, t, ok := parquet.ParseFileTime(name)
		if !ok || fileKind != kind {
			continue
		}
		day := dayOf(t)
		days[day] = append(days[day], filepath.Join(dir, name))
	}
	for _, files := range days {
		sort.Strings(files)
	}
	return days, nil
}

// outputPath names the compacted file after the start of its day, which
// keeps it inside the day for retention and for later runs.
func (e *Engine) outputPath(kind string, day time.Time) string {
	return filepath.Join(e.config.ArchiveDir(), parquet.FileName(kind, day))
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sortedDays(days map[time.Time][]string) []time.Time {
	out := make([]time.Time, 0, len(days))
	for d := range days {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// =============================================================================
// File I/O
// =============================================================================

func readSnapshots(files []string) ([]types.Snapshot, error) {
	var series []types.Snapshot
	for _, f := range files {
		r, err := parquet.NewSnapshotReader(f)
		if err != nil {
			return nil, err
		}
		rows, err := r.ReadAll()
		r.Close()
		if err != nil {
			return nil, err
		}
		series = append(series, rows...)
	}
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Timestamp() < series[j].Timestamp()
	})
	return series, nil
}

func readBuckets(files []string) ([]aggregate.Bucket, error) {
	var buckets []aggregate.Bucket
	for _, f := range files {
		r, err := parquet.NewBucketReader(f)
		if err != nil {
			return nil, err
		}
		rows, err := r.ReadAll()
		r.Close()
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, rows...)
	}
	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].Start < buckets[j].Start
	})
	return buckets, nil
}

// EngineStats is a point-in-time copy of Stats.
type EngineStats struct {
	Runs          int64
	DaysCompacted int64
	FilesRead     int64
	FilesRemoved  int64
	RowsWritten   int64
	Errors        int64
}

// Stats returns current statistics.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Runs:          e.stats.Runs.Load(),
		DaysCompacted: e.stats.DaysCompacted.Load(),
		FilesRead:     e.stats.FilesRead.Load(),
		FilesRemoved:  e.stats.FilesRemoved.Load(),
		RowsWritten:   e.stats.RowsWritten.Load(),
		Errors:        e.stats.Errors.Load(),
	}
}
