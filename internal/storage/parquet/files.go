package parquet

import (
	"path/filepath"
	"strings"
	"time"
)

// File kinds in the archive directory.
const (
	KindSnapshots = "snapshots"
	KindBuckets   = "buckets"
)

// fileTimeLayout keeps names sortable and free of ':' for Windows.
const fileTimeLayout = "2006-01-02_15-04-05"

// FileName returns the archive file name for kind created at t (UTC).
func FileName(kind string, t time.Time) string {
	return kind + "_" + t.UTC().Format(fileTimeLayout) + ".parquet"
}

// Glob returns the glob pattern matching every archive file of kind in dir.
func Glob(dir, kind string) string {
	return filepath.Join(dir, kind+"_*.parquet")
}

// ParseFileTime extracts the creation time from an archive file name.
func ParseFileTime(name string) (kind string, t time.Time, ok bool) {
	base := strings.TrimSuffix(filepath.Base(name), ".parquet")
	kind, stamp, found := strings.Cut(base, "_")
	if !found {
		return "", time.Time{}, false
	}
	t, err := time.Parse(fileTimeLayout, stamp)
	if err != nil {
		return "", time.Time{}, false
	}
	return kind, t, true
}
