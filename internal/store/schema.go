package store

import (
	"database/sql"
	"fmt"

	"github.com/xtxerr/aura/internal/errors"
)

// =============================================================================
// Schema Variants
// =============================================================================

// schemaVariant tags each recognized layout of the snapshots table.
type schemaVariant int

const (
	// schemaAbsent: no snapshots table yet.
	schemaAbsent schemaVariant = iota

	// schemaLegacy: timestamp is the primary key, no surrogate id.
	schemaLegacy

	// schemaCurrent: integer primary key id plus the telemetry columns.
	schemaCurrent

	// schemaUnknown: anything else. Never migrated.
	schemaUnknown
)

func (v schemaVariant) String() string {
	switch v {
	case schemaAbsent:
		return "absent"
	case schemaLegacy:
		return "legacy"
	case schemaCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// migrations brings each known variant to schemaCurrent.
var migrations = map[schemaVariant]func(*sql.Tx) error{
	schemaAbsent:  createSnapshotsTable,
	schemaLegacy:  migrateLegacy,
	schemaCurrent: func(*sql.Tx) error { return nil },
}

const createSnapshotsSQL = `
	CREATE TABLE snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp REAL NOT NULL,
		cpu_percent REAL NOT NULL,
		memory_percent REAL NOT NULL
	)`

const createTimestampIndexSQL = `
	CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots (timestamp)`

// column is one row of PRAGMA table_info.
type column struct {
	name string
	pk   int
}

// =============================================================================
// Detection
// =============================================================================

// resolveSchema detects the persisted layout, migrates it to the current one
// and ensures the timestamp index. It runs inside the caller's transaction,
// so a failed migration leaves the file untouched.
func resolveSchema(tx *sql.Tx) error {
	cols, err := tableInfo(tx, "snapshots")
	if err != nil {
		return err
	}

	variant := classify(cols)
	migrate, ok := migrations[variant]
	if !ok {
		return errors.NewSchema("unsupported snapshots table schema: expected either the legacy " +
			"schema or an id-backed schema with primary key id and telemetry columns")
	}

	if err := migrate(tx); err != nil {
		return fmt.Errorf("migrate %s schema: %w", variant, err)
	}
	if variant != schemaCurrent {
		log.Info("snapshots schema initialized", "from", variant.String())
	}

	if _, err := tx.Exec(createTimestampIndexSQL); err != nil {
		return fmt.Errorf("create timestamp index: %w", err)
	}
	return nil
}

func tableInfo(tx *sql.Tx, table string) ([]column, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		cols = append(cols, column{name: name, pk: pk})
	}
	return cols, rows.Err()
}

// classify maps table_info output onto a schema variant.
func classify(cols []column) schemaVariant {
	if len(cols) == 0 {
		return schemaAbsent
	}

	byName := make(map[string]column, len(cols))
	for _, c := range cols {
		byName[c.name] = c
	}

	telemetry := []string{"timestamp", "cpu_percent", "memory_percent"}
	for _, name := range telemetry {
		if _, ok := byName[name]; !ok {
			return schemaUnknown
		}
	}

	if id, ok := byName["id"]; ok {
		if id.pk == 1 {
			return schemaCurrent
		}
		return schemaUnknown
	}

	if len(byName) == len(telemetry) && byName["timestamp"].pk == 1 {
		return schemaLegacy
	}
	return schemaUnknown
}

// =============================================================================
// Migrations
// =============================================================================

func createSnapshotsTable(tx *sql.Tx) error {
	_, err := tx.Exec(createSnapshotsSQL)
	return err
}

// migrateLegacy rebuilds a timestamp-keyed table with a surrogate key,
// copying rows in timestamp order so ids follow chronology.
func migrateLegacy(tx *sql.Tx) error {
	if _, err := tx.Exec(`ALTER TABLE snapshots RENAME TO snapshots_legacy`); err != nil {
		return fmt.Errorf("rename legacy table: %w", err)
	}
	if err := createSnapshotsTable(tx); err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}
	res, err := tx.Exec(`
		INSERT INTO snapshots (timestamp, cpu_percent, memory_percent)
		SELECT timestamp, cpu_percent, memory_percent
		FROM snapshots_legacy
		ORDER BY timestamp ASC`)
	if err != nil {
		return fmt.Errorf("copy legacy rows: %w", err)
	}
	if _, err := tx.Exec(`DROP TABLE snapshots_legacy`); err != nil {
		return fmt.Errorf("drop legacy table: %w", err)
	}

	n, _ := res.RowsAffected()
	log.Info("migrated legacy snapshots table", "rows", n)
	return nil
}
