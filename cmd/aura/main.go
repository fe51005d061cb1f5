// aura samples host CPU and memory utilization and reads back the recorded
// history.
//
// Usage:
//
//	aura [flags]            one snapshot
//	aura -watch [-count N]  stream snapshots
//	aura -latest N          newest persisted snapshots
//	aura -since T -until T  persisted snapshots in a range
//	aura -timeline R        downsampled sparkline of a range
//	aura -summary           percentiles of a range
//	aura shell              interactive history shell
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/aura/config"
	"github.com/xtxerr/aura/internal/errors"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	signal.Ignore(syscall.SIGPIPE)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// =============================================================================
// Flags
// =============================================================================

type options struct {
	shell bool

	json      bool
	watch     bool
	interval  float64
	count     int
	retention float64
	noPersist bool
	latest    int
	since     float64
	until     float64
	dbPath    string
	cfgPath   string
	timeline  int
	summary   bool
	top       int
	logLevel  string

	set map[string]bool
}

func (o *options) has(name string) bool { return o.set[name] }

// usageError is a command-line mistake. It exits 2 with the usage hint.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	o := &options{set: map[string]bool{}}
	if len(args) > 0 && args[0] == "shell" {
		o.shell = true
		args = args[1:]
	}

	fs := flag.NewFlagSet("aura", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&o.json, "json", false, "print JSON snapshots instead of text")
	fs.BoolVar(&o.watch, "watch", false, "stream snapshots until interrupted")
	fs.Float64Var(&o.interval, "interval", config.DefaultSampleInterval.Seconds(), "sampling interval in seconds for -watch")
	fs.IntVar(&o.count, "count", 0, "snapshots to emit before exiting in -watch mode")
	fs.Float64Var(&o.retention, "retention", 0, "retention horizon in seconds (default AURA_RETENTION_SECONDS or 24h)")
	fs.BoolVar(&o.noPersist, "no-persist", false, "run without opening a local store")
	fs.IntVar(&o.latest, "latest", 0, "emit the latest N persisted snapshots, then exit")
	fs.Float64Var(&o.since, "since", 0, "emit persisted snapshots with timestamp >= this Unix time")
	fs.Float64Var(&o.until, "until", 0, "emit persisted snapshots with timestamp <= this Unix time")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database path (default AURA_DB_PATH or the platform data dir)")
	fs.StringVar(&o.cfgPath, "config", "", "aura.yaml path")
	fs.IntVar(&o.timeline, "timeline", 0, "render the range reduced to R points")
	fs.BoolVar(&o.summary, "summary", false, "summarize the range")
	fs.IntVar(&o.top, "top", 0, "also list the N busiest processes")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return nil, usageError{err.Error()}
	}
	if fs.NArg() > 0 {
		return nil, usageError{fmt.Sprintf("unexpected argument %q", fs.Arg(0))}
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	if err := o.validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *options) validate() error {
	if math.IsNaN(o.interval) || math.IsInf(o.interval, 0) || o.interval <= 0 {
		return usageError{"-interval must be a finite number greater than 0"}
	}
	if o.has("count") && o.count <= 0 {
		return usageError{"-count must be an integer greater than 0"}
	}
	if o.has("latest") && o.latest <= 0 {
		return usageError{"-latest must be an integer greater than 0"}
	}
	if o.has("retention") && (math.IsNaN(o.retention) || math.IsInf(o.retention, 0) || o.retention <= 0) {
		return usageError{"-retention must be a finite number greater than 0"}
	}
	for _, name := range []string{"since", "until"} {
		v := o.since
		if name == "until" {
			v = o.until
		}
		if o.has(name) && (math.IsNaN(v) || math.IsInf(v, 0)) {
			return usageError{"-" + name + " must be a finite number"}
		}
	}
	if o.has("timeline") && o.timeline < config.MinTimelineResolution {
		return usageError{fmt.Sprintf("-timeline must be an integer >= %d", config.MinTimelineResolution)}
	}
	if o.has("top") && o.top <= 0 {
		return usageError{"-top must be an integer greater than 0"}
	}

	hasRange := o.has("since") || o.has("until")
	hasLatest := o.has("latest")
	hasHistory := hasRange || hasLatest || o.has("timeline") || o.summary

	switch {
	case o.shell && (o.watch || hasHistory):
		return usageError{"shell cannot be combined with -watch, -latest, -since/-until, -timeline or -summary"}
	case o.has("count") && !o.watch:
		return usageError{"-count requires -watch"}
	case hasLatest && o.watch:
		return usageError{"-latest cannot be used with -watch"}
	case hasRange && o.watch:
		return usageError{"-since/-until cannot be used with -watch"}
	case hasRange && hasLatest:
		return usageError{"-since/-until cannot be used with -latest"}
	case (o.has("timeline") || o.summary) && (o.watch || hasLatest):
		return usageError{"-timeline/-summary cannot be used with -watch or -latest"}
	case o.has("timeline") && o.summary:
		return usageError{"-timeline cannot be used with -summary"}
	case hasLatest && o.noPersist:
		return usageError{"-latest cannot be used with -no-persist"}
	case hasRange && o.noPersist:
		return usageError{"-since/-until cannot be used with -no-persist"}
	case (o.has("timeline") || o.summary) && o.noPersist:
		return usageError{"-timeline/-summary cannot be used with -no-persist"}
	case o.has("since") && o.has("until") && o.since > o.until:
		return usageError{"-since must be less than or equal to -until"}
	case o.has("top") && (o.watch || hasHistory):
		return usageError{"-top only applies to a one-shot snapshot"}
	}
	return nil
}

func (o *options) rangeBounds() (start, end *float64) {
	if o.has("since") {
		v := o.since
		start = &v
	}
	if o.has("until") {
		v := o.until
		end = &v
	}
	return start, end
}

// =============================================================================
// Run
// =============================================================================

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errors.ExitOK
		}
		fmt.Fprintf(stderr, "aura: error: %v\n", err)
		return errors.ExitFailure
	}

	app, err := setup(o, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return errors.ExitCode(err)
	}
	defer app.close()

	err = app.dispatch(ctx, o, stdout)
	var ce *collectError
	switch {
	case err == nil:
		return errors.ExitOK
	case isClosedOutput(err):
		return errors.ExitOK
	case errors.IsInterrupted(err):
		fmt.Fprintln(stderr, "Interrupted by user.")
		return errors.ExitInterrupted
	case errors.As(err, &ce):
		fmt.Fprintf(stderr, "Failed to collect telemetry snapshot: %v\n", ce.err)
		return errors.ExitFailure
	default:
		fmt.Fprintln(stderr, err)
		return errors.ExitCode(err)
	}
}

func isClosedOutput(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, errClosedOutput)
}
