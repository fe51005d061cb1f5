package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/logging"
	"github.com/xtxerr/aura/internal/storage/aggregate"
	"github.com/xtxerr/aura/internal/storage/compaction"
	"github.com/xtxerr/aura/internal/storage/config"
	"github.com/xtxerr/aura/internal/storage/downsample"
	"github.com/xtxerr/aura/internal/storage/parquet"
	"github.com/xtxerr/aura/internal/storage/query"
	"github.com/xtxerr/aura/internal/storage/retention"
	"github.com/xtxerr/aura/internal/storage/types"
)

var log = logging.Component("archive")

// Maintenance schedules: expired archive files are deleted daily at 05:00,
// and completed days are compacted half an hour later.
const (
	RetentionSchedule  = "0 5 * * *"
	CompactionSchedule = "30 5 * * *"
)

// Service exports the retention store into the Parquet archive on a cron
// schedule and keeps the archive within its retention.
type Service struct {
	// mu serializes exports and guards the watermark.
	mu sync.Mutex

	config *config.Config
	source downsample.RangeSource

	// Components
	query      *query.Service
	retention  *retention.Manager
	compaction *compaction.Engine
	cron       *cron.Cron

	now func() time.Time

	// watermark is the newest archived timestamp.
	watermark    float64
	hasWatermark bool

	// State
	running   atomic.Bool
	startTime time.Time

	// Statistics
	stats ExportStats
}

// ExportStats holds export statistics.
type ExportStats struct {
	Exports           int64
	SnapshotsExported int64
	BucketsExported   int64
	Errors            int64
	LastExport        time.Time
}

// ExportResult describes one export.
type ExportResult struct {
	SnapshotsFile string
	BucketsFile   string
	Snapshots     int
	Buckets       int
	Watermark     float64
}

// New creates an archive service reading from source, normally the
// retention store. The watermark resumes from the newest archived snapshot.
func New(cfg *config.Config, source downsample.RangeSource) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if source == nil {
		return nil, errors.NewInvalidArgument("source", "must not be nil")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	qry, err := query.New(cfg, source)
	if err != nil {
		return nil, fmt.Errorf("create query: %w", err)
	}

	s := &Service{
		config:     cfg,
		source:     source,
		query:      qry,
		retention:  retention.New(cfg),
		compaction: compaction.New(cfg),
		now:        time.Now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Query.Timeout)
	defer cancel()
	sum, err := qry.Summary(ctx, nil, nil)
	if err != nil {
		qry.Close()
		return nil, fmt.Errorf("read archive watermark: %w", err)
	}
	if !sum.IsEmpty() {
		s.watermark = sum.LastTs
		s.hasWatermark = true
	}

	log.Info("archive opened",
		"dir", cfg.ArchiveDir(),
		"archived", sum.Count,
		"watermark", s.watermark)

	return s, nil
}

// SetClock replaces the time source of exports and cleanup. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.retention.SetClock(now)
	s.compaction.SetClock(now)
}

// Start schedules exports and archive cleanup.
func (s *Service) Start() error {
	if !s.config.Archive.Enabled {
		return errors.NewInvalidConfig("archive.enabled", "archive is disabled")
	}
	if s.running.Swap(true) {
		return fmt.Errorf("archive service already running")
	}

	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := s.cron.AddFunc(s.config.Archive.Schedule, s.exportJob); err != nil {
		s.running.Store(false)
		return errors.NewInvalidConfig("archive.schedule", err.Error())
	}
	if _, err := s.cron.AddFunc(RetentionSchedule, func() { s.retention.RunCleanup() }); err != nil {
		s.running.Store(false)
		return errors.NewInvalidConfig("retention schedule", err.Error())
	}
	if s.config.Archive.Compact {
		if _, err := s.cron.AddFunc(CompactionSchedule, func() { s.Compact(context.Background()) }); err != nil {
			s.running.Store(false)
			return errors.NewInvalidConfig("compaction schedule", err.Error())
		}
	}

	s.startTime = time.Now()
	s.cron.Start()

	log.Info("archive service started", "schedule", s.config.Archive.Schedule)
	return nil
}

// Stop stops the scheduler, waits for a running job until ctx is done, and
// closes the query service.
func (s *Service) Stop(ctx context.Context) error {
	if s.running.Swap(false) {
		done := s.cron.Stop().Done()
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn("archive job still running at shutdown")
		}
	}
	return s.query.Close()
}

func (s *Service) exportJob() {
	if _, err := s.Export(context.Background()); err != nil {
		log.Warn("archive export failed", "error", err)
	}
}

// Export writes snapshots newer than the watermark into a new archive file.
//
// When rollups are enabled only snapshots before the start of the current
// bucket are exported, so every rollup bucket is written exactly once.
func (s *Service) Export(ctx context.Context) (ExportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ExportResult{}, err
	}

	now := s.now()
	cutoff := types.Seconds(now)
	bucketSize := s.config.Archive.BucketSize
	if bucketSize > 0 {
		cutoff = aggregate.AlignBucket(cutoff, bucketSize)
	}

	res := ExportResult{Watermark: s.watermark}
	if s.hasWatermark && s.watermark >= cutoff {
		return res, nil
	}

	var start *float64
	if s.hasWatermark {
		start = &s.watermark
	}
	rows, err := s.source.Between(start, &cutoff)
	if err != nil {
		s.stats.Errors++
		return res, fmt.Errorf("read source: %w", err)
	}

	var pending []types.Snapshot
	for _, r := range rows {
		if s.hasWatermark && r.Timestamp() <= s.watermark {
			continue
		}
		if r.Timestamp() >= cutoff {
			continue
		}
		pending = append(pending, r)
	}
	if len(pending) == 0 {
		log.Debug("nothing to archive", "watermark", s.watermark)
		return res, nil
	}

	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(s.config.Features.Compression.Algorithm)
	opts.RowGroupSize = s.config.Archive.RowGroupSize

	dir := s.config.ArchiveDir()
	res.SnapshotsFile = filepath.Join(dir, parquet.FileName(parquet.KindSnapshots, now))
	if err := parquet.WriteSnapshotFile(res.SnapshotsFile, opts, pending); err != nil {
		s.stats.Errors++
		return ExportResult{Watermark: s.watermark}, err
	}
	res.Snapshots = len(pending)

	if bucketSize > 0 {
		buckets := s.rollup(pending, bucketSize)
		res.BucketsFile = filepath.Join(dir, parquet.FileName(parquet.KindBuckets, now))
		if err := parquet.WriteBucketFile(res.BucketsFile, opts, buckets); err != nil {
			s.stats.Errors++
			// Without the rollups the watermark stays put; drop the
			// snapshot file so the retry does not duplicate it.
			os.Remove(res.SnapshotsFile)
			return ExportResult{Watermark: s.watermark}, err
		}
		res.Buckets = len(buckets)
	}

	s.watermark = pending[len(pending)-1].Timestamp()
	s.hasWatermark = true
	res.Watermark = s.watermark

	s.stats.Exports++
	s.stats.SnapshotsExported += int64(res.Snapshots)
	s.stats.BucketsExported += int64(res.Buckets)
	s.stats.LastExport = now

	log.Info("archive exported",
		"snapshots", res.Snapshots,
		"buckets", res.Buckets,
		"file", filepath.Base(res.SnapshotsFile),
		"watermark", res.Watermark)

	return res, nil
}

func (s *Service) rollup(series []types.Snapshot, size time.Duration) []aggregate.Bucket {
	m := aggregate.NewManager(size, false)
	if p := s.config.Features.Percentile; p.Enabled {
		m = aggregate.NewManagerWithAccuracy(size, p.Accuracy)
	}
	for _, snap := range series {
		m.Process(snap)
	}
	return m.FlushAll()
}

// Query returns the archive query service.
func (s *Service) Query() *query.Service {
	return s.query
}

// RunRetention manually triggers archive cleanup.
func (s *Service) RunRetention() []retention.CleanupResult {
	return s.retention.RunCleanup()
}

// Compact merges the export files of completed days. Exports are held off
// while it runs.
func (s *Service) Compact(ctx context.Context) []compaction.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compaction.Run(ctx)
}

// DryRunRetention simulates archive cleanup.
func (s *Service) DryRunRetention() []retention.CleanupResult {
	return s.retention.DryRun()
}

// FormatDiskUsage returns archive disk usage per file kind.
func (s *Service) FormatDiskUsage() string {
	return s.retention.FormatDiskUsage()
}

// Watermark returns the newest archived timestamp, if any.
func (s *Service) Watermark() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark, s.hasWatermark
}

// IsRunning returns whether the scheduler is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var uptime time.Duration
	if !s.startTime.IsZero() && s.running.Load() {
		uptime = time.Since(s.startTime)
	}

	return ServiceStats{
		Running:    s.running.Load(),
		Uptime:     uptime,
		Export:     s.stats,
		Query:      s.query.Stats(),
		Retention:  s.retention.Stats(),
		Compaction: s.compaction.Stats(),
	}
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running   bool
	Uptime    time.Duration
	Export    ExportStats
	Query     query.ServiceStats
	Retention retention.ManagerStats

	Compaction compaction.EngineStats
}

// cronLogger routes cron's own logging into the archive component logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error(msg, append(keysAndValues, "error", err)...)
}
