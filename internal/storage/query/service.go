// Package query serves snapshot history from the Parquet archive.
//
// DuckDB reads the archive files in place. A hot source, normally the
// retention store, can be attached so that recent snapshots that have not
// been exported yet are merged into range results.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/logging"
	"github.com/xtxerr/aura/internal/storage/aggregate"
	"github.com/xtxerr/aura/internal/storage/config"
	"github.com/xtxerr/aura/internal/storage/downsample"
	"github.com/xtxerr/aura/internal/storage/parquet"
	"github.com/xtxerr/aura/internal/storage/types"
	"github.com/xtxerr/aura/internal/validation"
)

var log = logging.Component("query")

// Service provides query capabilities over archived data.
type Service struct {
	mu sync.RWMutex

	config *config.Config
	db     *sql.DB
	hot    downsample.RangeSource
	closed bool

	// Statistics
	stats ServiceStats
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// New creates a new query service. hot may be nil.
func New(cfg *config.Config, hot downsample.RangeSource) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if cfg.ArchiveDir() == "" {
		return nil, errors.NewMissingField("data_dir")
	}

	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.NewIO("open duckdb", err)
	}

	// Configure DuckDB
	if cfg.Query.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.Query.MemoryLimit))
		if err != nil {
			db.Close()
			return nil, errors.NewIO("set memory limit", err)
		}
	}

	return &Service{
		config: cfg,
		db:     db,
		hot:    hot,
	}, nil
}

// Close closes the query service. Safe to call more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Between returns snapshots with start <= timestamp <= end in chronological
// order, merged from the archive and the hot source. Nil bounds are open.
// Between satisfies downsample.RangeSource.
func (s *Service) Between(start, end *float64) ([]types.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Query.Timeout)
	defer cancel()
	return s.BetweenContext(ctx, start, end)
}

// BetweenContext is Between bounded by ctx.
func (s *Service) BetweenContext(ctx context.Context, start, end *float64) ([]types.Snapshot, error) {
	if err := validation.TimeRange(start, end); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	var hot []types.Snapshot
	if s.hot != nil {
		var err error
		if hot, err = s.hot.Between(start, end); err != nil {
			s.stats.Errors++
			return nil, err
		}
	}

	// Archived rows at or after the first hot row are already in hot.
	archiveEnd := end
	exclusive := false
	if len(hot) > 0 {
		cutoff := hot[0].Timestamp()
		archiveEnd = &cutoff
		exclusive = true
	}

	archived, err := s.queryArchive(ctx, start, archiveEnd, exclusive)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}

	out := append(archived, hot...)
	if len(out) > s.config.Query.MaxRows {
		s.stats.Errors++
		return nil, errors.NewInvalidArgument("range",
			fmt.Sprintf("matches %d rows, more than query.max_rows (%d)", len(out), s.config.Query.MaxRows))
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(out))
	return out, nil
}

func (s *Service) queryArchive(ctx context.Context, start, end *float64, endExclusive bool) ([]types.Snapshot, error) {
	source, ok := s.source(parquet.KindSnapshots)
	if !ok {
		return []types.Snapshot{}, nil
	}

	var where []string
	var args []any
	if start != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *start)
	}
	if end != nil {
		if endExclusive {
			where = append(where, "timestamp < ?")
		} else {
			where = append(where, "timestamp <= ?")
		}
		args = append(args, *end)
	}

	query := "SELECT timestamp, cpu_percent, memory_percent FROM " + source
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp LIMIT ?"
	args = append(args, s.config.Query.MaxRows+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewIO("query archive", err)
	}
	defer rows.Close()

	out := []types.Snapshot{}
	for rows.Next() {
		var ts, cpu, mem float64
		if err := rows.Scan(&ts, &cpu, &mem); err != nil {
			return nil, errors.NewIO("scan row", err)
		}
		snap, err := types.NewSnapshot(ts, cpu, mem)
		if err != nil {
			return nil, errors.NewIO("query archive", fmt.Errorf("corrupt row at timestamp %v: %v", ts, err))
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewIO("query archive", err)
	}
	return out, nil
}

// Summary computes exact statistics over archived snapshots in the range.
// An empty archive yields an empty Summary.
func (s *Service) Summary(ctx context.Context, start, end *float64) (types.Summary, error) {
	if err := validation.TimeRange(start, end); err != nil {
		return types.Summary{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.Summary{}, errors.ErrStoreClosed
	}

	source, ok := s.source(parquet.KindSnapshots)
	if !ok {
		return types.Summary{}, nil
	}

	var where []string
	var args []any
	if start != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *start)
	}
	if end != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, *end)
	}

	query := `
		SELECT
			count(*), min(timestamp), max(timestamp),
			min(cpu_percent), max(cpu_percent), avg(cpu_percent),
			quantile_cont(cpu_percent, 0.50), quantile_cont(cpu_percent, 0.90),
			quantile_cont(cpu_percent, 0.95), quantile_cont(cpu_percent, 0.99),
			min(memory_percent), max(memory_percent), avg(memory_percent),
			quantile_cont(memory_percent, 0.50), quantile_cont(memory_percent, 0.90),
			quantile_cont(memory_percent, 0.95), quantile_cont(memory_percent, 0.99)
		FROM ` + source
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var count int64
	var first, last sql.NullFloat64
	var cpu, mem [7]sql.NullFloat64

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&count, &first, &last,
		&cpu[0], &cpu[1], &cpu[2], &cpu[3], &cpu[4], &cpu[5], &cpu[6],
		&mem[0], &mem[1], &mem[2], &mem[3], &mem[4], &mem[5], &mem[6],
	)
	if err != nil {
		s.stats.Errors++
		return types.Summary{}, errors.NewIO("summarize archive", err)
	}
	s.stats.QueriesExecuted++

	out := types.Summary{Count: count}
	if count == 0 {
		return out, nil
	}
	out.FirstTs = first.Float64
	out.LastTs = last.Float64
	out.CPU = toStats(cpu)
	out.Memory = toStats(mem)
	return out, nil
}

func toStats(v [7]sql.NullFloat64) types.SeriesStats {
	st := types.SeriesStats{Min: v[0].Float64, Max: v[1].Float64, Avg: v[2].Float64}
	if v[3].Valid {
		st.SetPercentiles(v[3].Float64, v[4].Float64, v[5].Float64, v[6].Float64)
	}
	return st
}

// Buckets returns archived rollup buckets fully inside the range.
func (s *Service) Buckets(ctx context.Context, start, end *float64) ([]aggregate.Bucket, error) {
	if err := validation.TimeRange(start, end); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	source, ok := s.source(parquet.KindBuckets)
	if !ok {
		return []aggregate.Bucket{}, nil
	}

	var where []string
	var args []any
	if start != nil {
		where = append(where, "bucket_start >= ?")
		args = append(args, *start)
	}
	if end != nil {
		where = append(where, "bucket_end <= ?")
		args = append(args, *end)
	}

	query := `
		SELECT
			bucket_start, bucket_end, count, first_ts, last_ts,
			cpu_min, cpu_max, cpu_avg, cpu_p50, cpu_p90, cpu_p95, cpu_p99,
			memory_min, memory_max, memory_avg, memory_p50, memory_p90, memory_p95, memory_p99
		FROM ` + source
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY bucket_start"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.stats.Errors++
		return nil, errors.NewIO("query buckets", err)
	}
	defer rows.Close()

	out := []aggregate.Bucket{}
	for rows.Next() {
		var b aggregate.Bucket
		var cpu, mem [7]sql.NullFloat64
		err := rows.Scan(
			&b.Start, &b.End, &b.Count, &b.FirstTs, &b.LastTs,
			&cpu[0], &cpu[1], &cpu[2], &cpu[3], &cpu[4], &cpu[5], &cpu[6],
			&mem[0], &mem[1], &mem[2], &mem[3], &mem[4], &mem[5], &mem[6],
		)
		if err != nil {
			return nil, errors.NewIO("scan row", err)
		}
		b.CPU = toStats(cpu)
		b.Memory = toStats(mem)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewIO("query buckets", err)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(out))
	return out, nil
}

// source returns the read_parquet expression for kind, or false when the
// archive holds no files of that kind.
func (s *Service) source(kind string) (string, bool) {
	pattern := parquet.Glob(s.config.ArchiveDir(), kind)
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		log.Debug("no archive files", "kind", kind, "pattern", pattern)
		return "", false
	}
	return "read_parquet(" + quote(pattern) + ")", true
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// ExecuteSQL executes a raw SQL query using DuckDB.
// The archive is exposed as the views snapshots and buckets when files exist.
// This is useful for ad-hoc queries and debugging.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]string, [][]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, errors.ErrStoreClosed
	}

	for _, kind := range []string{parquet.KindSnapshots, parquet.KindBuckets} {
		stmt := "DROP VIEW IF EXISTS " + kind
		if source, ok := s.source(kind); ok {
			stmt = "CREATE OR REPLACE VIEW " + kind + " AS SELECT * FROM " + source
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return nil, nil, errors.NewIO("prepare views", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, nil, errors.Wrap(err, "execute sql")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var results [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, nil, err
		}
		results = append(results, values)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return columns, results, rows.Err()
}
