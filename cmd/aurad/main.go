// aurad is the aura sampling daemon. It samples at a fixed cadence into the
// retention store and, when enabled, exports the store into the Parquet
// archive on a schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/aura/config"
	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/loader"
	"github.com/xtxerr/aura/internal/logging"
	"github.com/xtxerr/aura/internal/probe"
	"github.com/xtxerr/aura/internal/recorder"
	"github.com/xtxerr/aura/internal/scheduler"
	"github.com/xtxerr/aura/internal/storage"
	"github.com/xtxerr/aura/internal/storage/aggregate"
	storageconfig "github.com/xtxerr/aura/internal/storage/config"
	"github.com/xtxerr/aura/internal/store"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("aurad")

func main() {
	// CLI flags
	cfgPath := flag.String("config", "", "aura.yaml path")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	requirements := flag.Bool("requirements", false, "print estimated resource usage and exit")
	flag.Parse()

	cfg, err := loader.LoadOptional(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aurad: load config: %v\n", err)
		os.Exit(errors.ExitCode(err))
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aurad: %v\n", err)
		os.Exit(errors.ExitFailure)
	}
	logging.Init(level, cfg.Logging.Format == "json")

	rt, err := loader.Resolve(cfg, loader.Overrides{DBPath: *dbPath}, loader.Environment{})
	if err != nil {
		log.Error("resolve runtime", "error", err)
		os.Exit(errors.ExitCode(err))
	}

	if *requirements {
		fmt.Print(plan(cfg, rt).FormatRequirements())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithRunID(ctx, fmt.Sprintf("%d-%d", os.Getpid(), time.Now().Unix()))
	ctx = logging.ContextWithStore(ctx, rt.DBPath)

	if err := run(ctx, cfg, rt); err != nil {
		log.Error("aurad failed", "error", err)
		os.Exit(errors.ExitCode(err))
	}
}

func run(ctx context.Context, cfg *loader.Config, rt loader.Runtime) error {
	log := logging.WithContext(ctx, log)
	log.Info("aurad starting", "version", Version, "db", rt.DBPath, "source", rt.DBSource,
		"retention_seconds", rt.RetentionSeconds)

	// =========================================================================
	// Retention store (sqlite)
	// =========================================================================

	var st recorder.Store
	s, err := store.New(cfg.StoreConfig(rt))
	switch {
	case err == nil:
		st = s
	case rt.Explicit():
		return fmt.Errorf("open store: %w", err)
	default:
		log.Warn("persistence disabled, sampling live only", "path", rt.DBPath, "error", err)
	}

	// =========================================================================
	// Recorder and probe
	// =========================================================================

	rec, err := recorder.New(recorder.Options{
		Store:            st,
		LiveBuffer:       cfg.Sampler.LiveBuffer,
		RetentionSeconds: rt.RetentionSeconds,
		BucketSize:       cfg.Sampler.Rollup.Duration(),
		OnBucket:         logBucket,
	})
	if err != nil {
		return err
	}
	defer rec.Close()

	p, err := probe.New(cfg.Probe, nil)
	if err != nil {
		return err
	}

	// =========================================================================
	// Archive (Parquet + DuckDB)
	// =========================================================================

	var archive *storage.Service
	if st != nil && cfg.Storage != nil && cfg.Storage.Archive.Enabled {
		archive, err = storage.New(cfg.StorageConfig(rt), rec)
		if err != nil {
			return fmt.Errorf("create archive: %w", err)
		}
		if err := archive.Start(); err != nil {
			archive.Stop(context.Background())
			return fmt.Errorf("start archive: %w", err)
		}
	} else {
		log.Info("archive disabled")
	}

	log.Debug("resource plan\n" + plan(cfg, rt).FormatRequirements())

	// =========================================================================
	// Sampling loop
	// =========================================================================

	stats := &scheduler.Stats{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := scheduler.Run(gctx, scheduler.Options{
			Interval: cfg.Sampler.Interval.Duration(),
			Collect:  p.Collect,
			Sink:     rec.Sink(),
			Policy:   scheduler.ErrorPolicy{ContinueOnError: cfg.Sampler.ContinueOnError},
			Stats:    stats,
		})
		return err
	})

	log.Info("aurad running", "probe", p.Name(), "interval", cfg.Sampler.Interval.Duration())

	err = g.Wait()

	// =========================================================================
	// Shutdown
	// =========================================================================

	log.Info("shutting down...")
	for _, b := range rec.Flush() {
		logBucket(b)
	}
	if archive != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), config.DefaultDrainTimeout)
		defer cancel()
		if _, xerr := archive.Export(drainCtx); xerr != nil {
			log.Warn("final export failed", "error", xerr)
		}
		if serr := archive.Stop(drainCtx); serr != nil {
			log.Warn("stop archive", "error", serr)
		}
	}

	rs := rec.Stats()
	log.Info("aurad stopped",
		"cycles", stats.Cycles.Load(),
		"recorded", rs.Recorded.Load(),
		"persisted", rs.Persisted.Load(),
		"errors", stats.Errors.Load(),
		"overruns", stats.Overruns.Load())

	if errors.IsInterrupted(err) {
		return nil
	}
	return err
}

func logBucket(b aggregate.Bucket) {
	log.Info("rollup",
		"start", time.Unix(int64(b.Start), 0).UTC().Format(time.RFC3339),
		"count", b.Count,
		"cpu_avg", b.CPU.Avg,
		"cpu_max", b.CPU.Max,
		"mem_avg", b.Memory.Avg,
		"mem_max", b.Memory.Max)
}

// plan describes the configured deployment for resource estimates.
func plan(cfg *loader.Config, rt loader.Runtime) storageconfig.Requirements {
	sc := cfg.StorageConfig(rt)
	return sc.CalculateRequirements(storageconfig.Plan{
		Interval:       cfg.Sampler.Interval.Duration(),
		StoreRetention: time.Duration(rt.RetentionSeconds * float64(time.Second)),
		LiveBuffer:     cfg.Sampler.LiveBuffer,
		ExportEvery:    schedulePeriod(sc.Archive.Schedule),
	})
}

// schedulePeriod returns the gap between two consecutive runs of a cron
// schedule, or zero when the expression does not parse.
func schedulePeriod(expr string) time.Duration {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return 0
	}
	first := sched.Next(time.Now())
	return sched.Next(first).Sub(first)
}
