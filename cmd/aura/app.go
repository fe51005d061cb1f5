package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/loader"
	"github.com/xtxerr/aura/internal/logging"
	"github.com/xtxerr/aura/internal/probe"
	"github.com/xtxerr/aura/internal/recorder"
	"github.com/xtxerr/aura/internal/scheduler"
	"github.com/xtxerr/aura/internal/shell"
	"github.com/xtxerr/aura/internal/storage"
	"github.com/xtxerr/aura/internal/storage/aggregate"
	"github.com/xtxerr/aura/internal/storage/downsample"
	"github.com/xtxerr/aura/internal/storage/types"
	"github.com/xtxerr/aura/internal/store"
)

var log = logging.Component("cli")

// newProbe builds the collector. Replaced in tests.
var newProbe = probe.New

// errClosedOutput marks a write to stdout that failed because the reader
// went away. The run ends quietly.
var errClosedOutput = errors.New("output closed")

// collectError is a failure of the probe itself.
type collectError struct{ err error }

func (e *collectError) Error() string { return e.err.Error() }
func (e *collectError) Unwrap() error { return e.err }

// app is one invocation: resolved configuration plus the store, if any.
type app struct {
	cfg    *loader.Config
	rt     loader.Runtime
	store  *store.Store
	stderr io.Writer
}

func setup(o *options, stderr io.Writer) (*app, error) {
	cfg, err := loader.LoadOptional(o.cfgPath)
	if err != nil {
		return nil, err
	}

	levelName := o.logLevel
	if levelName == "" {
		levelName = "warn"
		if o.cfgPath != "" {
			levelName = cfg.Logging.Level
		}
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, errors.NewInvalidArgument("log-level", err.Error())
	}
	logging.InitWriter(stderr, level, cfg.Logging.Format == "json")

	ov := loader.Overrides{DBPath: o.dbPath, NoPersist: o.noPersist}
	if o.has("retention") {
		ov.RetentionSeconds = &o.retention
	}
	rt, err := loader.Resolve(cfg, ov, loader.Environment{})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, rt: rt, stderr: stderr}
	if !rt.Persist {
		return a, nil
	}

	st, err := store.New(cfg.StoreConfig(rt))
	if err != nil {
		if rt.Explicit() {
			return nil, fmt.Errorf("open telemetry store %s: %w", rt.DBPath, err)
		}
		fmt.Fprintf(stderr, "DVR persistence disabled: %v\n", err)
		log.Debug("automatic store unavailable", "path", rt.DBPath, "error", err)
		return a, nil
	}
	a.store = st
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn("close store", "error", err)
		}
	}
}

func (a *app) dispatch(ctx context.Context, o *options, stdout io.Writer) error {
	switch {
	case o.shell:
		return a.runShell(ctx)
	case o.watch:
		return a.runWatch(ctx, o, stdout)
	case o.has("latest"):
		return a.runLatest(o, stdout)
	case o.has("timeline"):
		return a.runTimeline(o, stdout)
	case o.summary:
		return a.runSummary(o, stdout)
	case o.has("since") || o.has("until"):
		return a.runRange(o, stdout)
	default:
		return a.runOnce(ctx, o, stdout)
	}
}

// =============================================================================
// History
// =============================================================================

func (a *app) requireStore(flag string) (*store.Store, error) {
	if a.store == nil {
		return nil, fmt.Errorf("Unable to open telemetry store for %s.", flag)
	}
	return a.store, nil
}

func (a *app) runLatest(o *options, stdout io.Writer) error {
	st, err := a.requireStore("-latest")
	if err != nil {
		return err
	}
	series, err := st.Latest(o.latest)
	if err != nil {
		return err
	}
	return writeOut(shell.WriteSnapshots(stdout, series, o.json))
}

func (a *app) runRange(o *options, stdout io.Writer) error {
	st, err := a.requireStore("-since/-until")
	if err != nil {
		return err
	}
	start, end := o.rangeBounds()
	series, err := st.Between(start, end)
	if err != nil {
		return err
	}
	return writeOut(shell.WriteSnapshots(stdout, series, o.json))
}

func (a *app) runTimeline(o *options, stdout io.Writer) error {
	st, err := a.requireStore("-timeline")
	if err != nil {
		return err
	}
	start, end := o.rangeBounds()
	series, err := downsample.QueryRange(st, start, end, o.timeline)
	if err != nil {
		return err
	}
	if o.json {
		return writeOut(shell.WriteSnapshots(stdout, series, true))
	}
	_, err = io.WriteString(stdout, shell.FormatTimeline(series, outputWidth(stdout)))
	return writeOut(err)
}

func (a *app) runSummary(o *options, stdout io.Writer) error {
	st, err := a.requireStore("-summary")
	if err != nil {
		return err
	}
	start, end := o.rangeBounds()
	series, err := st.Between(start, end)
	if err != nil {
		return err
	}
	sum := aggregate.Summarize(series)
	if o.json {
		data, err := json.Marshal(sum)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "%s\n", data)
		return writeOut(err)
	}
	_, err = io.WriteString(stdout, shell.FormatSummary(sum))
	return writeOut(err)
}

// =============================================================================
// Sampling
// =============================================================================

func (a *app) buildProbe() (probe.Probe, error) {
	p, err := newProbe(a.cfg.Probe, nil)
	if err != nil {
		return nil, err
	}
	log.Debug("probe ready", "probe", p.Name())
	return p, nil
}

func (a *app) runOnce(ctx context.Context, o *options, stdout io.Writer) error {
	p, err := a.buildProbe()
	if err != nil {
		return err
	}
	snap, err := p.Collect(ctx)
	if err != nil {
		return &collectError{err}
	}
	if a.store != nil {
		if err := a.store.Append(snap); err != nil {
			fmt.Fprintf(a.stderr, "DVR persistence disabled: %v\n", err)
		}
	}
	if err := writeOut(shell.WriteSnapshot(stdout, snap, o.json)); err != nil {
		return err
	}
	if o.top > 0 {
		top, err := probe.TopProcesses(ctx, o.top)
		if err != nil {
			return &collectError{err}
		}
		return writeOut(writeProcesses(stdout, top, o.json))
	}
	return nil
}

func (a *app) runWatch(ctx context.Context, o *options, stdout io.Writer) error {
	p, err := a.buildProbe()
	if err != nil {
		return err
	}
	interval, err := scheduler.IntervalFromSeconds(o.interval)
	if err != nil {
		return err
	}

	var st recorder.Store
	if a.store != nil {
		st = a.store
		// The recorder owns the store from here and closes it on failure.
		a.store = nil
		ctx = logging.ContextWithStore(ctx, a.rt.DBPath)
	}
	rec, err := recorder.New(recorder.Options{
		Store:            st,
		LiveBuffer:       a.cfg.Sampler.LiveBuffer,
		RetentionSeconds: a.rt.RetentionSeconds,
		Limit:            o.count,
		OnDisable: func(err error) {
			fmt.Fprintf(a.stderr, "DVR persistence disabled: %v\n", err)
		},
	})
	if err != nil {
		return err
	}
	defer rec.Close()

	var (
		stopper  scheduler.Stopper
		writeErr error
	)
	sink := func(s types.Snapshot) error {
		if err := rec.Record(s); err != nil {
			return err
		}
		if err := writeOut(shell.WriteSnapshot(stdout, s, o.json)); err != nil {
			writeErr = err
			stopper.Stop()
		}
		return nil
	}

	// A failed collection ends -watch with exit 2; continue_on_error only
	// governs the shell and the daemon.
	_, err = scheduler.Run(ctx, scheduler.Options{
		Interval: interval,
		Collect: func(ctx context.Context) (types.Snapshot, error) {
			s, err := p.Collect(ctx)
			if err != nil {
				return s, &collectError{err}
			}
			return s, nil
		},
		Sink:       sink,
		ShouldStop: func() bool { return stopper.Stopped() || rec.Done() },
		Policy:     scheduler.ErrorPolicy{OnError: func(error) {}},
	})
	if writeErr != nil {
		return writeErr
	}
	return err
}

// =============================================================================
// Shell
// =============================================================================

// runShell samples in the background while the shell reads the recorded
// history.
func (a *app) runShell(ctx context.Context) error {
	p, err := a.buildProbe()
	if err != nil {
		return err
	}
	var st recorder.Store
	if a.store != nil {
		st = a.store
		a.store = nil
	}
	rec, err := recorder.New(recorder.Options{
		Store:            st,
		LiveBuffer:       a.cfg.Sampler.LiveBuffer,
		RetentionSeconds: a.rt.RetentionSeconds,
		BucketSize:       a.cfg.Sampler.Rollup.Duration(),
	})
	if err != nil {
		return err
	}
	defer rec.Close()

	var archive shell.Archive
	if a.rt.Persist && a.cfg.Storage != nil && a.cfg.Storage.Archive.Enabled {
		svc, err := storage.New(a.cfg.StorageConfig(a.rt), rec)
		if err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			svc.Stop(stopCtx)
		}()
		archive = svc
	}

	sh, err := shell.New(shell.Options{
		Source:     rec,
		Archive:    archive,
		Out:        os.Stdout,
		Width:      shell.TerminalWidth(os.Stdout),
		Resolution: a.cfg.Timeline.Resolution,
		Status:     func() string { return recorderStatus(rec) },
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := scheduler.Run(ctx, scheduler.Options{
			Interval: a.cfg.Sampler.Interval.Duration(),
			Collect:  p.Collect,
			Sink:     rec.Sink(),
			Policy:   scheduler.ErrorPolicy{ContinueOnError: true},
		})
		if err != nil && !errors.IsInterrupted(err) {
			log.Warn("background sampler stopped", "error", err)
		}
	}()

	sh.Run(ctx)
	cancel()
	wg.Wait()
	return nil
}

func recorderStatus(rec *recorder.Recorder) string {
	st := rec.Stats()
	state := "persisting"
	if !rec.Persisting() {
		state = "live-only"
		if err := rec.PersistErr(); err != nil && err != errors.ErrPersistenceDisabled {
			state = fmt.Sprintf("live-only (%v)", err)
		}
	}
	return fmt.Sprintf("%s, %s recorded, %s persisted, %s write failures, %s live",
		state,
		humanize.Comma(st.Recorded.Load()),
		humanize.Comma(st.Persisted.Load()),
		humanize.Comma(st.WriteFailures.Load()),
		humanize.Comma(int64(rec.Live().Len())))
}

// =============================================================================
// Output
// =============================================================================

func writeOut(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrClosed) || isClosedOutput(err) {
		return fmt.Errorf("%w: %w", errClosedOutput, err)
	}
	return err
}

func outputWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		return shell.TerminalWidth(f)
	}
	return shell.DefaultWidth
}

func writeProcesses(w io.Writer, top []probe.ProcessSample, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, p := range top {
			if err := enc.Encode(map[string]any{
				"pid":         p.PID,
				"name":        p.Name,
				"cpu_percent": p.CPUPercent,
				"rss_bytes":   p.RSSBytes,
			}); err != nil {
				return err
			}
		}
		return nil
	}
	rows := make([][]any, len(top))
	for i, p := range top {
		rows[i] = []any{strconv.Itoa(int(p.PID)), p.Name, p.CPUPercent, humanize.IBytes(p.RSSBytes)}
	}
	_, err := io.WriteString(w, shell.FormatTable([]string{"pid", "name", "cpu%", "rss"}, rows))
	return err
}
