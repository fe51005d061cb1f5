package config

import (
	"regexp"

	"github.com/robfig/cron/v3"

	"github.com/xtxerr/aura/internal/errors"
)

var memoryLimitPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?\s*(B|KB|MB|GB|TB|KiB|MiB|GiB|TiB)$`)

// Validate checks the configuration for errors.
// All problems are reported together.
func (c *Config) Validate() error {
	errs := errors.NewValidationErrors()

	c.Features.validate(errs)
	c.Archive.validate(errs)
	c.Query.validate(errs)

	if c.Archive.Enabled && c.ArchiveDir() == "" {
		errs.AddField("archive.dir", "required when archive is enabled and data_dir is empty")
	}

	return errs.Err()
}

func (c *FeaturesConfig) validate(errs *errors.ValidationErrors) {
	if c.Percentile.Enabled {
		if c.Percentile.Accuracy <= 0 || c.Percentile.Accuracy >= 1 {
			errs.AddField("features.percentile.accuracy", "must be between 0 and 1")
		}
	}

	switch c.Compression.Algorithm {
	case "snappy", "zstd", "lz4", "gzip", "none", "":
	default:
		errs.AddField("features.compression.algorithm", "must be one of: snappy, zstd, lz4, gzip, none")
	}
}

func (c *ArchiveConfig) validate(errs *errors.ValidationErrors) {
	if !c.Enabled {
		return
	}

	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		errs.AddField("archive.schedule", err.Error())
	}
	if c.Retention <= 0 {
		errs.AddField("archive.retention", "must be positive")
	}
	if c.BucketSize < 0 {
		errs.AddField("archive.bucket_size", "must be non-negative")
	}
	if c.RowGroupSize <= 0 {
		errs.AddField("archive.row_group_size", "must be positive")
	}
}

func (c *QueryConfig) validate(errs *errors.ValidationErrors) {
	if c.MemoryLimit != "" && !memoryLimitPattern.MatchString(c.MemoryLimit) {
		errs.AddField("query.memory_limit", "must look like 512MB or 2GB")
	}
	if c.Timeout <= 0 {
		errs.AddField("query.timeout", "must be positive")
	}
	if c.MaxRows <= 0 {
		errs.AddField("query.max_rows", "must be positive")
	}
}
