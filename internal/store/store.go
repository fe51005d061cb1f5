// Package store provides the retention store for aura snapshots.
//
// The store is an append-only SQLite table with eager pruning: every append
// and every read first deletes rows older than the retention horizon, so no
// caller ever observes an expired snapshot. One store-wide mutex serializes
// all operations, which gives one writer plus any number of readers without
// interleaving inside an insert/prune/count sequence.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xtxerr/aura/config"
	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/logging"
	"github.com/xtxerr/aura/internal/storage/types"
	"github.com/xtxerr/aura/internal/validation"
)

var log = logging.Component("store")

// MemoryLocation opens a non-durable store that lives only as long as the
// Store value. Used by tests and by sessions that must not touch disk.
const MemoryLocation = ":memory:"

// =============================================================================
// Store Configuration
// =============================================================================

// Config holds store configuration options.
type Config struct {
	// Location is a file path or MemoryLocation.
	Location string

	// RetentionSeconds is the retention horizon. Must be finite and > 0.
	RetentionSeconds float64

	// Clock supplies "now" for pruning. Nil means the wall clock.
	Clock types.Clock

	// BusyTimeout is how long SQLite waits on a locked file.
	BusyTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Location:         MemoryLocation,
		RetentionSeconds: config.DefaultRetentionSeconds,
		BusyTimeout:      config.DefaultBusyTimeout,
	}
}

// Validate checks construction parameters. It never touches the backing file.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Location) == "" {
		return errors.NewMissingField("location")
	}
	if err := validation.PositiveFinite("retention_seconds", c.RetentionSeconds); err != nil {
		return errors.NewInvalidConfig("retention_seconds", err.Error())
	}
	if c.BusyTimeout < 0 {
		return errors.NewInvalidConfig("busy_timeout", "must be >= 0")
	}
	return nil
}

// =============================================================================
// Store
// =============================================================================

// Store is a durable, retention-bounded append log of snapshots.
//
// Store is safe for concurrent use.
type Store struct {
	db        *sql.DB
	location  string
	retention float64
	now       types.Clock

	mu     sync.Mutex
	closed bool
}

// Open opens or creates the store at location. A nil clock means the wall
// clock. Open resolves the persisted schema (creating or migrating it) and
// runs one prune pass before returning.
func Open(location string, retentionSeconds float64, clock types.Clock) (*Store, error) {
	cfg := DefaultConfig()
	cfg.Location = location
	cfg.RetentionSeconds = retentionSeconds
	cfg.Clock = clock
	return New(cfg)
}

// New creates a Store with the given configuration.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Location != MemoryLocation {
		if err := os.MkdirAll(filepath.Dir(cfg.Location), 0o755); err != nil {
			return nil, errors.NewIO("create store directory", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Location)
	if err != nil {
		return nil, errors.NewIO("open database", err)
	}

	// One connection: SQLite serializes writers anyway, and an in-memory
	// database exists only on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:        db,
		location:  cfg.Location,
		retention: cfg.RetentionSeconds,
		now:       cfg.Clock.OrWall(),
	}

	if err := s.init(cfg); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("store opened",
		"location", cfg.Location,
		"retention_seconds", cfg.RetentionSeconds)

	return s, nil
}

func (s *Store) init(cfg Config) error {
	ctx := context.Background()

	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewIO("ping database", err)
	}

	if cfg.Location != MemoryLocation {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds())); err != nil {
			return errors.NewIO("set busy_timeout", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transaction(resolveSchema); err != nil {
		if errors.IsSchema(err) {
			return err
		}
		return errors.NewIO("resolve schema", err)
	}

	return errors.NewIO("prune", s.transaction(s.pruneLocked))
}

// Location returns the backing location the store was opened with.
func (s *Store) Location() string {
	return s.location
}

// RetentionSeconds returns the retention horizon.
func (s *Store) RetentionSeconds() float64 {
	return s.retention
}

// Close releases the database. It is idempotent and safe after failed
// operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return errors.NewIO("close database", err)
	}
	return nil
}

// With opens a store, passes it to fn and closes it on every exit path,
// including a panic in fn. An error from fn takes precedence over a close
// error.
func With(location string, retentionSeconds float64, clock types.Clock, fn func(*Store) error) (err error) {
	s, err := Open(location, retentionSeconds, clock)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

// =============================================================================
// Writes
// =============================================================================

// Append inserts snap with a fresh surrogate key, then prunes expired rows.
// Duplicate timestamps are kept as distinct rows.
func (s *Store) Append(snap types.Snapshot) error {
	return s.locked("append", func(tx *sql.Tx) error {
		if err := insertLocked(tx, snap); err != nil {
			return err
		}
		return s.pruneLocked(tx)
	})
}

// AppendAndCount is Append followed by Count as one atomic operation.
func (s *Store) AppendAndCount(snap types.Snapshot) (int, error) {
	var n int
	err := s.locked("append", func(tx *sql.Tx) error {
		if err := insertLocked(tx, snap); err != nil {
			return err
		}
		if err := s.pruneLocked(tx); err != nil {
			return err
		}
		var err error
		n, err = countLocked(tx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// =============================================================================
// Reads
// =============================================================================

// Latest returns up to limit of the most recent snapshots in chronological
// order. Ties on timestamp are broken by insertion order.
func (s *Store) Latest(limit int) ([]types.Snapshot, error) {
	if err := validation.PositiveInt("limit", limit); err != nil {
		return nil, err
	}

	var out []types.Snapshot
	err := s.locked("latest", func(tx *sql.Tx) error {
		if err := s.pruneLocked(tx); err != nil {
			return err
		}
		rows, err := tx.Query(`
			SELECT timestamp, cpu_percent, memory_percent
			FROM snapshots
			ORDER BY timestamp DESC, id DESC
			LIMIT ?`, limit)
		if err != nil {
			return err
		}
		out, err = scanSnapshots(rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Between returns every snapshot with start <= timestamp <= end, ordered by
// timestamp then insertion order. A nil bound is unbounded on that side.
func (s *Store) Between(start, end *float64) ([]types.Snapshot, error) {
	if err := validation.TimeRange(start, end); err != nil {
		return nil, err
	}

	var (
		filters []string
		args    []any
	)
	if start != nil {
		filters = append(filters, "timestamp >= ?")
		args = append(args, *start)
	}
	if end != nil {
		filters = append(filters, "timestamp <= ?")
		args = append(args, *end)
	}
	where := ""
	if len(filters) > 0 {
		where = "WHERE " + strings.Join(filters, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT timestamp, cpu_percent, memory_percent
		FROM snapshots
		%s
		ORDER BY timestamp ASC, id ASC`, where)

	var out []types.Snapshot
	err := s.locked("between", func(tx *sql.Tx) error {
		if err := s.pruneLocked(tx); err != nil {
			return err
		}
		rows, err := tx.Query(query, args...)
		if err != nil {
			return err
		}
		out, err = scanSnapshots(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of retained snapshots.
func (s *Store) Count() (int, error) {
	var n int
	err := s.locked("count", func(tx *sql.Tx) error {
		if err := s.pruneLocked(tx); err != nil {
			return err
		}
		var err error
		n, err = countLocked(tx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// =============================================================================
// Transaction Support
// =============================================================================

// locked runs fn in a transaction while holding the store mutex. Any failure
// is reported as an I/O error tagged with op.
func (s *Store) locked(op string, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrStoreClosed
	}
	return errors.NewIO(op, s.transaction(fn))
}

// transaction executes fn within a database transaction.
//
// If fn returns an error or panics, the transaction is rolled back.
// If fn returns nil, the transaction is committed.
func (s *Store) transaction(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// =============================================================================
// Statement Helpers
// =============================================================================

func insertLocked(tx *sql.Tx, snap types.Snapshot) error {
	_, err := tx.Exec(`
		INSERT INTO snapshots (timestamp, cpu_percent, memory_percent)
		VALUES (?, ?, ?)`,
		snap.Timestamp(), snap.CPUPercent(), snap.MemoryPercent())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *Store) pruneLocked(tx *sql.Tx) error {
	cutoff := s.now() - s.retention
	res, err := tx.Exec(`DELETE FROM snapshots WHERE timestamp < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Debug("pruned expired snapshots", "rows", n, "cutoff", cutoff)
	}
	return nil
}

func countLocked(tx *sql.Tx) (int, error) {
	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// scanSnapshots drains rows into validated snapshots and closes rows.
func scanSnapshots(rows *sql.Rows) ([]types.Snapshot, error) {
	defer rows.Close()

	out := make([]types.Snapshot, 0)
	for rows.Next() {
		var ts, cpu, mem float64
		if err := rows.Scan(&ts, &cpu, &mem); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap, err := types.NewSnapshot(ts, cpu, mem)
		if err != nil {
			// Legacy tables carry no range constraints.
			return nil, fmt.Errorf("corrupt row at timestamp %v: %v", ts, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}
