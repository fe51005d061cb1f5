// Package config holds the YAML configuration of the archive side of
// storage: Parquet export, archive retention and archive queries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/aura/config"
	"github.com/xtxerr/aura/internal/errors"
)

// Config represents the complete storage configuration.
type Config struct {
	// DataDir is the root directory for archive files.
	// Empty means the directory of the snapshot database.
	DataDir string `yaml:"data_dir"`

	// Features configures optional features.
	Features FeaturesConfig `yaml:"features"`

	// Archive configures Parquet export of the retention store.
	Archive ArchiveConfig `yaml:"archive"`

	// Query configures the archive query service.
	Query QueryConfig `yaml:"query"`
}

// FeaturesConfig configures optional features.
type FeaturesConfig struct {
	// Percentile configures DDSketch percentile calculation.
	Percentile PercentileConfig `yaml:"percentile"`

	// Compression configures Parquet compression.
	Compression CompressionConfig `yaml:"compression"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// CompressionConfig configures Parquet compression.
type CompressionConfig struct {
	// Algorithm is the compression algorithm: snappy, zstd, lz4, gzip, none.
	Algorithm string `yaml:"algorithm"`
}

// ArchiveConfig configures the Parquet archive.
type ArchiveConfig struct {
	// Enabled turns on scheduled exports.
	Enabled bool `yaml:"enabled"`

	// Dir overrides the archive directory. Defaults to {DataDir}/archive.
	Dir string `yaml:"dir"`

	// Schedule is the cron expression for exports.
	// Format: "@hourly", "*/15 * * * *"
	Schedule string `yaml:"schedule"`

	// Retention is how long archive files are kept.
	// Format: "720h", "2160h"
	Retention time.Duration `yaml:"retention"`

	// BucketSize is the width of the rollup buckets written with each export.
	// Zero disables rollups.
	BucketSize time.Duration `yaml:"bucket_size"`

	// RowGroupSize is the Parquet row group size.
	RowGroupSize int `yaml:"row_group_size"`

	// Compact merges the export files of each completed day into one file
	// per kind.
	Compact bool `yaml:"compact"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read config file", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %v: %w", err, errors.ErrInvalidConfig)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Features: FeaturesConfig{
			Percentile: PercentileConfig{
				Enabled:  true,
				Accuracy: 0.01,
			},
			Compression: CompressionConfig{
				Algorithm: "zstd",
			},
		},
		Archive: ArchiveConfig{
			Enabled:      false,
			Schedule:     defaults.DefaultArchiveSchedule,
			Retention:    defaults.DefaultArchiveRetention,
			BucketSize:   time.Hour,
			RowGroupSize: defaults.DefaultArchiveRowGroupSize,
			Compact:      true,
		},
		Query: QueryConfig{
			MemoryLimit: defaults.DefaultQueryMemoryLimit,
			Timeout:     defaults.DefaultQueryTimeout,
			MaxRows:     defaults.DefaultQueryMaxRows,
		},
	}
}

// ArchiveDir returns the archive directory path.
func (c *Config) ArchiveDir() string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "archive")
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dir := c.ArchiveDir()
	if dir == "" {
		return errors.NewMissingField("data_dir")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIO("create directory "+dir, err)
	}
	return nil
}
