// Package loader - Configuration Types
//
// Defines the YAML configuration structure for aura and aurad.
//
// ARCHITECTURE:
//
//   ┌─────────────────────────────────────────────────────────────────────┐
//   │                           aura.yaml                                 │
//   ├─────────────────────────────────────────────────────────────────────┤
//   │                                                                     │
//   │  logging:     Level and output format                               │
//   │  sampler:     Cadence, error policy, live buffer, rollups           │
//   │  probe:       host (gopsutil) or snmp (HOST-RESOURCES-MIB)          │
//   │  timeline:    Default downsampling resolution                       │
//   │                                                                     │
//   │  ┌─────────────────────┐    ┌─────────────────────────────────┐    │
//   │  │       store:        │    │          storage:               │    │
//   │  │      (SQLite)       │    │   (Parquet + DuckDB queries)    │    │
//   │  ├─────────────────────┤    ├─────────────────────────────────┤    │
//   │  │ • Recent snapshots  │    │ • Exported snapshots            │    │
//   │  │ • Retention horizon │───▶│ • Rollup buckets (DDSketch)     │    │
//   │  │ • Eager pruning     │    │ • Archive retention             │    │
//   │  │                     │    │                                 │    │
//   │  │ Access: append +    │    │ Access: scheduled export,       │    │
//   │  │ small range reads   │    │ range + SQL queries             │    │
//   │  └─────────────────────┘    └─────────────────────────────────┘    │
//   │                                                                     │
//   └─────────────────────────────────────────────────────────────────────┘

package loader

import (
	"time"

	defaults "github.com/xtxerr/aura/config"
	"github.com/xtxerr/aura/internal/probe"
	storageconfig "github.com/xtxerr/aura/internal/storage/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure of aura.yaml.
type Config struct {
	// Logging configures log level and format.
	Logging LoggingConfig `yaml:"logging"`

	// Store configures the retention store.
	//
	// Stores: the most recent snapshots, pruned to the retention horizon.
	// Technology: SQLite (single file, or in-memory when persistence is off).
	Store StoreConfig `yaml:"store"`

	// Sampler configures the collection loop.
	Sampler SamplerConfig `yaml:"sampler"`

	// Probe selects where snapshots come from.
	Probe probe.Config `yaml:"probe"`

	// Timeline configures history views.
	Timeline TimelineConfig `yaml:"timeline"`

	// Storage configures the Parquet archive and its query service.
	Storage *storageconfig.Config `yaml:"storage"`
}

// =============================================================================
// Sections
// =============================================================================

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "text" or "json".
	// Default: "text"
	Format string `yaml:"format"`
}

// StoreConfig configures the retention store.
type StoreConfig struct {
	// Path is the database file. Empty means the platform default.
	// Overridden by -db and AURA_DB_PATH.
	Path string `yaml:"path"`

	// Retention is the retention horizon. Accepts "24h" or plain seconds.
	// Overridden by -retention and AURA_RETENTION_SECONDS.
	// Default: 24h
	Retention Duration `yaml:"retention"`

	// BusyTimeout is how long SQLite waits on a locked file.
	// Default: 5s
	BusyTimeout Duration `yaml:"busy_timeout"`
}

// SamplerConfig configures the collection loop.
type SamplerConfig struct {
	// Interval is the target cadence.
	// Default: 1s
	Interval Duration `yaml:"interval"`

	// ContinueOnError keeps sampling after a failed cycle.
	// Default: true
	ContinueOnError bool `yaml:"continue_on_error"`

	// LiveBuffer is the number of snapshots held in memory for live views.
	// Default: 3600
	LiveBuffer int `yaml:"live_buffer"`

	// Rollup, when set, logs a summary of every completed window of this
	// width.
	// Default: 0 (off)
	Rollup Duration `yaml:"rollup"`
}

// TimelineConfig configures history views.
type TimelineConfig struct {
	// Resolution is the default number of points a timeline is reduced to.
	// Default: 500
	Resolution int `yaml:"resolution"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Retention:   Duration(defaults.DefaultRetentionSeconds * time.Second),
			BusyTimeout: Duration(defaults.DefaultBusyTimeout),
		},
		Sampler: SamplerConfig{
			Interval:        Duration(defaults.DefaultSampleInterval),
			ContinueOnError: true,
			LiveBuffer:      defaults.DefaultLiveBufferSize,
		},
		Probe: probe.DefaultConfig(),
		Timeline: TimelineConfig{
			Resolution: defaults.DefaultTimelineResolution,
		},
		Storage: storageconfig.DefaultConfig(),
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
// Accepts Go duration strings ("90s", "24h") or a plain number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		if dur, err := time.ParseDuration(s); err == nil {
			*d = Duration(dur)
			return nil
		}
	}
	// Try as number (seconds)
	var f float64
	if err := unmarshal(&f); err != nil {
		return err
	}
	*d = Duration(f * float64(time.Second))
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Seconds returns the duration as floating-point seconds.
func (d Duration) Seconds() float64 {
	return time.Duration(d).Seconds()
}
