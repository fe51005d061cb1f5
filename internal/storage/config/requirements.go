package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Requirements represents estimated resource usage for one sampler.
type Requirements struct {
	// Throughput
	SnapshotsPerDay int64

	// Memory
	LiveBufferBytes int64
	QueryCacheBytes int64

	// Storage
	StoreBytes   int64
	ArchiveBytes int64
	TotalBytes   int64

	// ArchiveFiles is the number of archive files kept at steady state.
	ArchiveFiles int64
}

// Constants for calculations
const (
	// Bytes per snapshot in memory
	bytesPerSnapshot = 24

	// Bytes per sqlite row including the rowid and timestamp index
	bytesPerStoreRow = 64

	// Bytes per snapshot row in Parquet (compressed)
	bytesPerArchiveRow = 12

	// Files per export: snapshots plus optional rollups
	filesPerExport = 2
)

// Plan describes the sampler side of the deployment.
type Plan struct {
	Interval       time.Duration
	StoreRetention time.Duration
	LiveBuffer     int
	ExportEvery    time.Duration
}

// CalculateRequirements computes resource requirements for plan.
func (c *Config) CalculateRequirements(p Plan) Requirements {
	r := Requirements{}
	if p.Interval <= 0 {
		return r
	}

	r.SnapshotsPerDay = int64(24 * time.Hour / p.Interval)
	perSecond := float64(time.Second) / float64(p.Interval)

	r.LiveBufferBytes = int64(p.LiveBuffer) * bytesPerSnapshot
	r.QueryCacheBytes = parseMemoryLimit(c.Query.MemoryLimit)

	r.StoreBytes = int64(perSecond * p.StoreRetention.Seconds() * bytesPerStoreRow)

	if c.Archive.Enabled {
		r.ArchiveBytes = int64(perSecond * c.Archive.Retention.Seconds() * bytesPerArchiveRow)
		if p.ExportEvery > 0 {
			files := int64(c.Archive.Retention / p.ExportEvery)
			if c.Archive.BucketSize > 0 {
				files *= filesPerExport
			}
			r.ArchiveFiles = files
		}
	}

	r.TotalBytes = r.StoreBytes + r.ArchiveBytes
	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r Requirements) FormatRequirements() string {
	return fmt.Sprintf(`Resource Requirements
=====================

Throughput:
  Snapshots/day:     %s

Memory:
  Live Buffer:       %s
  Query Cache:       %s

Storage:
  Retention Store:   %s
  Archive:           %s (%s files)
  Total Storage:     %s
`,
		humanize.Comma(r.SnapshotsPerDay),
		humanize.Bytes(uint64(r.LiveBufferBytes)),
		humanize.Bytes(uint64(r.QueryCacheBytes)),
		humanize.Bytes(uint64(r.StoreBytes)),
		humanize.Bytes(uint64(r.ArchiveBytes)),
		humanize.Comma(r.ArchiveFiles),
		humanize.Bytes(uint64(r.TotalBytes)),
	)
}

// parseMemoryLimit parses a memory limit string like "2GB" into bytes.
// Unparseable values count as zero.
func parseMemoryLimit(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}
	return int64(n)
}
