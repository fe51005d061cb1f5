// Package config provides configuration defaults and utilities
// for the aura telemetry engine.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via aura.yaml or environment variables.
package config

import "time"

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultRetentionSeconds is how long snapshots stay in the retention store.
	// Override via config: store.retention, env: AURA_RETENTION_SECONDS
	DefaultRetentionSeconds = 24 * 60 * 60

	// DefaultDBFileName is the file created under the platform data directory.
	// Override via config: store.path, env: AURA_DB_PATH
	DefaultDBFileName = "telemetry.sqlite"

	// DefaultAppDirName is the per-user directory holding aura data.
	DefaultAppDirName = "Aura"

	// DefaultBusyTimeout is how long sqlite waits on a locked database file
	// before failing the statement.
	// Override via config: store.busy_timeout
	DefaultBusyTimeout = 5 * time.Second

	// DefaultLatestLimit is the number of snapshots returned by -latest when
	// no explicit value is given.
	DefaultLatestLimit = 10
)

// =============================================================================
// Sampler Defaults
// =============================================================================

const (
	// DefaultSampleInterval is the target cadence of the sampling loop.
	// Override via config: sampler.interval
	DefaultSampleInterval = time.Second

	// DefaultLiveBufferSize is the number of recent snapshots kept in memory
	// for live views, persisted or not.
	// Override via config: sampler.live_buffer
	DefaultLiveBufferSize = 3600

	// DefaultCPUPrimeInterval is the gap between the two CPU-times samples the
	// host probe takes on its first collection.
	// Override via config: probe.prime_interval
	DefaultCPUPrimeInterval = 100 * time.Millisecond
)

// =============================================================================
// Timeline Defaults
// =============================================================================

const (
	// DefaultTimelineResolution is the number of points a timeline view is
	// reduced to. Must be >= 2.
	// Override via config: timeline.resolution
	DefaultTimelineResolution = 500

	// MinTimelineResolution is the smallest resolution the downsampler accepts.
	MinTimelineResolution = 2
)

// =============================================================================
// SNMP Probe Defaults
// =============================================================================

const (
	// DefaultSNMPPort is the UDP port of the SNMP agent.
	// Override via config: probe.snmp.port
	DefaultSNMPPort = 161

	// DefaultSNMPTimeoutMs is the timeout for a single SNMP request.
	// Override via config: probe.snmp.timeout_ms
	DefaultSNMPTimeoutMs = 5000

	// DefaultSNMPRetries is the number of retry attempts after timeout.
	// Override via config: probe.snmp.retries
	DefaultSNMPRetries = 2
)

// =============================================================================
// Archive Defaults
// =============================================================================

const (
	// DefaultArchiveSchedule is the cron expression for Parquet exports.
	// Override via config: storage.archive.schedule
	DefaultArchiveSchedule = "@hourly"

	// DefaultArchiveRetention is how long exported Parquet files are kept.
	// Override via config: storage.archive.retention
	DefaultArchiveRetention = 90 * 24 * time.Hour

	// DefaultArchiveRowGroupSize is the Parquet row group size.
	// Override via config: storage.archive.row_group_size
	DefaultArchiveRowGroupSize = 100000
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryMemoryLimit caps DuckDB memory for archive queries.
	// Override via config: storage.query.memory_limit
	DefaultQueryMemoryLimit = "512MB"

	// DefaultQueryTimeout bounds a single archive query.
	// Override via config: storage.query.timeout
	DefaultQueryTimeout = 30 * time.Second

	// DefaultQueryMaxRows limits rows returned by one archive query.
	// Override via config: storage.query.max_rows
	DefaultQueryMaxRows = 1000000
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout is how long the daemon waits for the sampler and
	// archive service to stop after a signal.
	DefaultDrainTimeout = 10 * time.Second
)
