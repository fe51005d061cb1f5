// Package retention deletes archive files that have outlived the archive
// retention. The retention store prunes its own rows; this package only
// handles exported Parquet files.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/logging"
	"github.com/xtxerr/aura/internal/storage/config"
	"github.com/xtxerr/aura/internal/storage/parquet"
)

var log = logging.Component("retention")

// kinds lists the archive file kinds in display order.
var kinds = []string{parquet.KindSnapshots, parquet.KindBuckets}

// Manager handles automatic cleanup of expired archive files.
type Manager struct {
	mu     sync.RWMutex
	config *config.Config
	now    func() time.Time
	stats  ManagerStats
}

// ManagerStats holds manager statistics.
type ManagerStats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// CleanupResult holds the result of a cleanup operation for one kind.
type CleanupResult struct {
	Kind         string
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// New creates a new retention manager.
func New(cfg *config.Config) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	return &Manager{
		config: cfg,
		now:    time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// RunCleanup deletes expired files of every kind.
func (m *Manager) RunCleanup() []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = m.now()

	var results []CleanupResult
	for _, kind := range kinds {
		result := m.cleanupKind(kind, false)
		results = append(results, result)

		m.stats.FilesDeleted += int64(result.FilesDeleted)
		m.stats.BytesFreed += result.BytesFreed
		m.stats.FilesSkipped += int64(result.FilesSkipped)
		m.stats.Errors += int64(len(result.Errors))

		if result.FilesDeleted > 0 {
			log.Info("archive files expired",
				"kind", kind,
				"deleted", result.FilesDeleted,
				"freed", humanize.Bytes(uint64(result.BytesFreed)))
		}
		for _, err := range result.Errors {
			log.Warn("archive cleanup failed", "kind", kind, "error", err)
		}
	}

	return results
}

// DryRun simulates cleanup without deleting files.
func (m *Manager) DryRun() []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []CleanupResult
	for _, kind := range kinds {
		results = append(results, m.cleanupKind(kind, true))
	}
	return results
}

// cleanupKind performs cleanup for a single file kind.
func (m *Manager) cleanupKind(kind string, dryRun bool) CleanupResult {
	result := CleanupResult{Kind: kind}

	cutoff := m.now().Add(-m.config.Archive.Retention)

	files, err := m.listFiles(kind)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, errors.NewIO("list files", err))
		}
		return result
	}

	for _, file := range files {
		// Unparseable names are never ours to delete.
		_, fileTime, ok := parquet.ParseFileTime(file.name)
		if !ok || fileTime.After(cutoff) {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			if err := os.Remove(file.path); err != nil {
				result.Errors = append(result.Errors, errors.NewIO("delete "+file.path, err))
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += file.size
	}

	return result
}

// fileInfo holds information about a file.
type fileInfo struct {
	name string
	path string
	size int64
}

// listFiles lists the archive files of kind, oldest first.
func (m *Manager) listFiles(kind string) ([]fileInfo, error) {
	dir := m.config.ArchiveDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) != ".parquet" || !strings.HasPrefix(name, kind+"_") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, fileInfo{
			name: name,
			path: filepath.Join(dir, name),
			size: info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].name < files[j].name
	})

	return files, nil
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// GetDiskUsage returns disk usage for each file kind.
func (m *Manager) GetDiskUsage() map[string]DiskUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usage := make(map[string]DiskUsage)
	for _, kind := range kinds {
		files, err := m.listFiles(kind)
		if err != nil {
			continue
		}

		var totalSize int64
		for _, f := range files {
			totalSize += f.size
		}
		usage[kind] = DiskUsage{FileCount: len(files), TotalSize: totalSize}
	}
	return usage
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() string {
	usage := m.GetDiskUsage()

	var b strings.Builder
	var totalSize int64
	var totalFiles int

	b.WriteString("Archive Usage:\n")
	for _, kind := range kinds {
		u := usage[kind]
		totalSize += u.TotalSize
		totalFiles += u.FileCount
		fmt.Fprintf(&b, "  %s: %d files, %s\n", kind, u.FileCount, humanize.Bytes(uint64(u.TotalSize)))
	}
	fmt.Fprintf(&b, "  Total: %d files, %s\n", totalFiles, humanize.Bytes(uint64(totalSize)))

	return b.String()
}
