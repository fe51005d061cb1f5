package probe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/xtxerr/aura/internal/validation"
)

// ProcessSample is one process in a top-processes listing.
type ProcessSample struct {
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"memory_rss_bytes"`
}

// TopProcesses returns up to limit processes ordered by CPU, then resident
// memory, then PID. Processes that vanish or deny access mid-scan are
// skipped.
func TopProcesses(ctx context.Context, limit int) ([]ProcessSample, error) {
	if err := validation.PositiveInt("limit", limit); err != nil {
		return nil, err
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	samples := make([]ProcessSample, 0, len(procs))
	for _, p := range procs {
		s, ok := sampleProcess(ctx, p)
		if ok {
			samples = append(samples, s)
		}
	}
	return rankProcesses(samples, limit), nil
}

func sampleProcess(ctx context.Context, p *process.Process) (ProcessSample, bool) {
	if p.Pid <= 0 {
		return ProcessSample{}, false
	}
	name, _ := p.NameWithContext(ctx)
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("pid-%d", p.Pid)
	}

	cpuPct, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return ProcessSample{}, false
	}
	var rss uint64
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		rss = mi.RSS
	}
	if cpuPct < 0 {
		cpuPct = 0
	}
	return ProcessSample{PID: p.Pid, Name: name, CPUPercent: cpuPct, RSSBytes: rss}, true
}

func rankProcesses(samples []ProcessSample, limit int) []ProcessSample {
	sort.Slice(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if a.CPUPercent != b.CPUPercent {
			return a.CPUPercent > b.CPUPercent
		}
		if a.RSSBytes != b.RSSBytes {
			return a.RSSBytes > b.RSSBytes
		}
		return a.PID < b.PID
	})
	if len(samples) > limit {
		samples = samples[:limit]
	}
	return samples
}
