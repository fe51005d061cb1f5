// Package shell implements the interactive history shell of the aura CLI and
// the text rendering shared with its one-shot commands.
package shell

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"

	"github.com/xtxerr/aura/config"
	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/logging"
	"github.com/xtxerr/aura/internal/storage/aggregate"
	"github.com/xtxerr/aura/internal/storage/downsample"
	"github.com/xtxerr/aura/internal/storage/query"
	"github.com/xtxerr/aura/internal/storage/types"
)

var log = logging.Component("shell")

// Source is the live history the shell reads. *store.Store and
// *recorder.Recorder satisfy it.
type Source interface {
	Latest(limit int) ([]types.Snapshot, error)
	Between(start, end *float64) ([]types.Snapshot, error)
}

// Archive is the exported history. *storage.Service satisfies it.
type Archive interface {
	Query() *query.Service
	FormatDiskUsage() string
}

// Options configures a Shell.
type Options struct {
	Source Source

	// Archive enables the archive commands. Optional.
	Archive Archive

	Out io.Writer

	// Width is the line width for sparklines. Zero means DefaultWidth.
	Width int

	// Resolution is the default timeline resolution.
	Resolution int

	// Status, when set, backs the status command.
	Status func() string

	Clock types.Clock
}

// Shell executes history commands.
type Shell struct {
	opts    Options
	now     types.Clock
	exiting bool
}

// New creates a Shell.
func New(opts Options) (*Shell, error) {
	if opts.Source == nil {
		return nil, errors.NewMissingField("source")
	}
	if opts.Out == nil {
		return nil, errors.NewMissingField("out")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Resolution == 0 {
		opts.Resolution = config.DefaultTimelineResolution
	}
	return &Shell{opts: opts, now: opts.Clock.OrWall()}, nil
}

// =============================================================================
// Commands
// =============================================================================

type command struct {
	name  string
	usage string
	run   func(s *Shell, ctx context.Context, args []string, raw string) error
}

// commands is filled in init because help and Execute read it.
var commands []command

func init() {
	commands = []command{
		{"latest", "latest [N]                 newest N snapshots", (*Shell).cmdLatest},
		{"between", "between START END          snapshots in a Unix-seconds range", (*Shell).cmdBetween},
		{"timeline", "timeline [WINDOW] [POINTS]  sparkline of the last WINDOW (default 1h)", (*Shell).cmdTimeline},
		{"summary", "summary [WINDOW]           min/avg/max and percentiles", (*Shell).cmdSummary},
		{"buckets", "buckets [WINDOW] [SIZE]    per-bucket rollups (default 1h, 5m)", (*Shell).cmdBuckets},
		{"archive", "archive timeline|summary|buckets [WINDOW]  same views over exported history", (*Shell).cmdArchive},
		{"sql", "sql QUERY                  SQL over the archive views snapshots and buckets", (*Shell).cmdSQL},
		{"usage", "usage                      archive disk usage", (*Shell).cmdUsage},
		{"status", "status                     recorder state", (*Shell).cmdStatus},
		{"help", "help                       this list", (*Shell).cmdHelp},
		{"exit", "exit                       leave the shell", (*Shell).cmdExit},
	}
}

// Execute runs one command line. It reports whether the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	if name == "quit" {
		name = "exit"
	}
	raw := strings.TrimSpace(line[len(fields[0]):])

	for _, c := range commands {
		if c.name == name {
			err := c.run(s, ctx, fields[1:], raw)
			return s.exiting, err
		}
	}
	return false, errors.NewInvalidArgument("command", fmt.Sprintf("unknown command %q (try help)", fields[0]))
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.opts.Out, format, args...)
}

func (s *Shell) cmdLatest(_ context.Context, args []string, _ string) error {
	limit := config.DefaultLatestLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.NewInvalidArgument("limit", "must be an integer")
		}
		limit = n
	}
	series, err := s.opts.Source.Latest(limit)
	if err != nil {
		return err
	}
	return WriteSnapshots(s.opts.Out, series, false)
}

func (s *Shell) cmdBetween(_ context.Context, args []string, _ string) error {
	if len(args) != 2 {
		return errors.NewInvalidArgument("between", "needs START and END")
	}
	start, err := parseTimestamp("start", args[0])
	if err != nil {
		return err
	}
	end, err := parseTimestamp("end", args[1])
	if err != nil {
		return err
	}
	series, err := s.opts.Source.Between(&start, &end)
	if err != nil {
		return err
	}
	return WriteSnapshots(s.opts.Out, series, false)
}

func (s *Shell) cmdTimeline(_ context.Context, args []string, _ string) error {
	return s.timeline(s.opts.Source, args)
}

func (s *Shell) timeline(src downsample.RangeSource, args []string) error {
	start, err := s.windowStart(args, 0)
	if err != nil {
		return err
	}
	resolution := s.opts.Resolution
	if len(args) > 1 {
		if resolution, err = strconv.Atoi(args[1]); err != nil {
			return errors.NewInvalidArgument("resolution", "must be an integer")
		}
	}
	// Never draw more points than fit on the line.
	resolution = min(resolution, max(config.MinTimelineResolution, s.opts.Width-20))

	series, err := downsample.QueryRange(src, &start, nil, resolution)
	if err != nil {
		return err
	}
	s.printf("%s", FormatTimeline(series, s.opts.Width))
	return nil
}

func (s *Shell) cmdSummary(_ context.Context, args []string, _ string) error {
	start, err := s.windowStart(args, 0)
	if err != nil {
		return err
	}
	series, err := s.opts.Source.Between(&start, nil)
	if err != nil {
		return err
	}
	s.printf("%s", FormatSummary(aggregate.Summarize(series)))
	return nil
}

func (s *Shell) cmdBuckets(_ context.Context, args []string, _ string) error {
	start, err := s.windowStart(args, 0)
	if err != nil {
		return err
	}
	size := 5 * time.Minute
	if len(args) > 1 {
		if size, err = time.ParseDuration(args[1]); err != nil || size <= 0 {
			return errors.NewInvalidArgument("size", "must be a positive duration like 5m")
		}
	}
	series, err := s.opts.Source.Between(&start, nil)
	if err != nil {
		return err
	}
	s.printf("%s", FormatBuckets(aggregate.Bucketize(series, size, true)))
	return nil
}

func (s *Shell) cmdArchive(ctx context.Context, args []string, _ string) error {
	q, err := s.archiveQuery()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return errors.NewInvalidArgument("archive", "needs timeline, summary or buckets")
	}
	rest := args[1:]
	switch args[0] {
	case "timeline":
		return s.timeline(q, rest)
	case "summary":
		start, err := s.windowStart(rest, 0)
		if err != nil {
			return err
		}
		sum, err := q.Summary(ctx, &start, nil)
		if err != nil {
			return err
		}
		s.printf("%s", FormatSummary(sum))
		return nil
	case "buckets":
		start, err := s.windowStart(rest, 0)
		if err != nil {
			return err
		}
		buckets, err := q.Buckets(ctx, &start, nil)
		if err != nil {
			return err
		}
		s.printf("%s", FormatBuckets(buckets))
		return nil
	default:
		return errors.NewInvalidArgument("archive", fmt.Sprintf("unknown view %q", args[0]))
	}
}

func (s *Shell) cmdSQL(ctx context.Context, _ []string, raw string) error {
	q, err := s.archiveQuery()
	if err != nil {
		return err
	}
	if raw == "" {
		return errors.NewInvalidArgument("sql", "needs a query")
	}
	cols, rows, err := q.ExecuteSQL(ctx, raw)
	if err != nil {
		return err
	}
	s.printf("%s", FormatTable(cols, rows))
	return nil
}

func (s *Shell) cmdUsage(context.Context, []string, string) error {
	if s.opts.Archive == nil {
		return errArchiveOff
	}
	s.printf("%s", s.opts.Archive.FormatDiskUsage())
	return nil
}

func (s *Shell) cmdStatus(context.Context, []string, string) error {
	if s.opts.Status == nil {
		s.printf("no status available\n")
		return nil
	}
	s.printf("%s\n", s.opts.Status())
	return nil
}

func (s *Shell) cmdHelp(context.Context, []string, string) error {
	for _, c := range commands {
		s.printf("  %s\n", c.usage)
	}
	return nil
}

func (s *Shell) cmdExit(context.Context, []string, string) error {
	s.exiting = true
	return nil
}

var errArchiveOff = fmt.Errorf("archive is not enabled: %w", errors.ErrInvalidConfig)

func (s *Shell) archiveQuery() (*query.Service, error) {
	if s.opts.Archive == nil {
		return nil, errArchiveOff
	}
	return s.opts.Archive.Query(), nil
}

// windowStart parses args[i] as a lookback duration (default 1h) and
// returns now minus that window.
func (s *Shell) windowStart(args []string, i int) (float64, error) {
	window := time.Hour
	if len(args) > i {
		d, err := time.ParseDuration(args[i])
		if err != nil || d <= 0 {
			return 0, errors.NewInvalidArgument("window", "must be a positive duration like 15m")
		}
		window = d
	}
	return s.now() - window.Seconds(), nil
}

func parseTimestamp(field, v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.NewInvalidArgument(field, "must be a number of Unix seconds")
	}
	return f, nil
}

// =============================================================================
// Interactive loop
// =============================================================================

// Run reads commands from the terminal until exit, Ctrl-D or ctx is done.
func (s *Shell) Run(ctx context.Context) {
	log.Debug("shell started")
	p := prompt.New(
		func(line string) {
			if _, err := s.Execute(ctx, line); err != nil {
				s.printf("error: %v\n", err)
			}
		},
		s.complete,
		prompt.OptionPrefix("aura> "),
		prompt.OptionTitle("aura"),
		prompt.OptionPrefixTextColor(prompt.Cyan),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			return s.exiting || ctx.Err() != nil
		}),
	)
	p.Run()
	log.Debug("shell stopped")
}

func (s *Shell) complete(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	fields := strings.Fields(before)
	if len(fields) == 1 && strings.HasSuffix(before, " ") && fields[0] == "archive" ||
		len(fields) == 2 && fields[0] == "archive" && !strings.HasSuffix(before, " ") {
		return prompt.FilterHasPrefix([]prompt.Suggest{
			{Text: "timeline", Description: "sparkline over exported history"},
			{Text: "summary", Description: "exact percentiles over exported history"},
			{Text: "buckets", Description: "exported rollups"},
		}, d.GetWordBeforeCursor(), true)
	}
	if strings.Contains(before, " ") {
		return nil
	}
	suggestions := make([]prompt.Suggest, 0, len(commands))
	for _, c := range commands {
		suggestions = append(suggestions, prompt.Suggest{Text: c.name, Description: strings.TrimSpace(c.usage[len(c.name):])})
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}
