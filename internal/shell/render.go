package shell

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/xtxerr/aura/internal/storage/aggregate"
	"github.com/xtxerr/aura/internal/storage/types"
)

// DefaultWidth is used when the output is not a terminal.
const DefaultWidth = 80

var sparkTicks = []rune("▁▂▃▄▅▆▇█")

// TerminalWidth returns the width of f, or DefaultWidth when f is not a
// terminal.
func TerminalWidth(f *os.File) int {
	if f == nil || !term.IsTerminal(int(f.Fd())) {
		return DefaultWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return DefaultWidth
	}
	return w
}

// Sparkline renders percentages in [0, 100] as one block character each.
// Only the last width values are drawn.
func Sparkline(values []float64, width int) string {
	if width > 0 && len(values) > width {
		values = values[len(values)-width:]
	}
	var b strings.Builder
	top := len(sparkTicks) - 1
	for _, v := range values {
		i := int(v / 100 * float64(top))
		i = max(0, min(top, i))
		b.WriteRune(sparkTicks[i])
	}
	return b.String()
}

// WriteSnapshot prints one snapshot as text or as a JSON object per line.
func WriteSnapshot(w io.Writer, s types.Snapshot, asJSON bool) error {
	if asJSON {
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	_, err := fmt.Fprintln(w, s.String())
	return err
}

// WriteSnapshots prints a series, one snapshot per line.
func WriteSnapshots(w io.Writer, series []types.Snapshot, asJSON bool) error {
	for _, s := range series {
		if err := WriteSnapshot(w, s, asJSON); err != nil {
			return err
		}
	}
	return nil
}

// FormatTimeline renders CPU and memory sparklines for a reduced series.
// width is the full line width; labels and ranges take the rest.
func FormatTimeline(series []types.Snapshot, width int) string {
	if len(series) == 0 {
		return "(no snapshots in range)\n"
	}
	cpu := make([]float64, len(series))
	mem := make([]float64, len(series))
	for i, s := range series {
		cpu[i] = s.CPUPercent()
		mem[i] = s.MemoryPercent()
	}

	first, last := series[0].Time(), series[len(series)-1].Time()
	spark := max(8, width-20)

	var b strings.Builder
	fmt.Fprintf(&b, "%s → %s (%d points)\n",
		first.Format(time.DateTime), last.Format(time.DateTime), len(series))
	fmt.Fprintf(&b, "cpu %s %5.1f%%\n", Sparkline(cpu, spark), peak(cpu))
	fmt.Fprintf(&b, "mem %s %5.1f%%\n", Sparkline(mem, spark), peak(mem))
	return b.String()
}

func peak(values []float64) float64 {
	m := 0.0
	for _, v := range values {
		m = max(m, v)
	}
	return m
}

// FormatSummary renders a window summary.
func FormatSummary(s types.Summary) string {
	if s.IsEmpty() {
		return "(no snapshots in range)\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s snapshots over %s (%s)\n",
		humanize.Comma(s.Count), s.Duration().Round(time.Second), humanize.Time(time.Unix(int64(s.LastTs), 0)))

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tmin\tavg\tmax\tp50\tp90\tp95\tp99\t")
	writeStats(tw, "cpu", s.CPU)
	writeStats(tw, "mem", s.Memory)
	tw.Flush()
	return b.String()
}

func writeStats(w io.Writer, label string, st types.SeriesStats) {
	fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f\t%s\t%s\t%s\t%s\t\n", label, st.Min, st.Avg, st.Max,
		pct(st.P50), pct(st.P90), pct(st.P95), pct(st.P99))
}

func pct(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *p)
}

// FormatBuckets renders rollup buckets, one per line.
func FormatBuckets(buckets []aggregate.Bucket) string {
	if len(buckets) == 0 {
		return "(no buckets in range)\n"
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "start\tcount\tcpu avg\tcpu max\tmem avg\tmem max")
	for _, bk := range buckets {
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%.1f\t%.1f\t%.1f\n",
			time.Unix(int64(bk.Start), 0).Format(time.DateTime), humanize.Comma(bk.Count),
			bk.CPU.Avg, bk.CPU.Max, bk.Memory.Avg, bk.Memory.Max)
	}
	tw.Flush()
	return b.String()
}

// FormatTable renders a SQL result set.
func FormatTable(cols []string, rows [][]any) string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()
	fmt.Fprintf(&b, "(%s rows)\n", humanize.Comma(int64(len(rows))))
	return b.String()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return humanize.FtoaWithDigits(x, 3)
	case time.Time:
		return x.Format(time.DateTime)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
