package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/xtxerr/aura/config"
	"github.com/xtxerr/aura/internal/storage/types"
)

// HostProbe reads local CPU and memory utilization.
//
// CPU utilization is a delta between two cumulative CPU-times samples, so
// the probe keeps the previous sample. The first Collect primes it by taking
// two samples PrimeInterval apart; later calls diff against the sample
// retained from the call before.
//
// HostProbe is safe for concurrent use.
type HostProbe struct {
	// TopProcesses, when > 0, logs that many of the heaviest processes at
	// debug level after each collection.
	TopProcesses int

	mu     sync.Mutex
	primed bool
	prev   cpu.TimesStat

	primeInterval time.Duration
	now           types.Clock

	cpuTimes   func(ctx context.Context) (cpu.TimesStat, error)
	memPercent func(ctx context.Context) (float64, error)
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewHostProbe creates a host probe. A zero primeInterval means
// config.DefaultCPUPrimeInterval; a nil clock means the wall clock.
func NewHostProbe(primeInterval time.Duration, clock types.Clock) *HostProbe {
	if primeInterval <= 0 {
		primeInterval = config.DefaultCPUPrimeInterval
	}
	return &HostProbe{
		primeInterval: primeInterval,
		now:           clock.OrWall(),
		cpuTimes:      aggregateCPUTimes,
		memPercent:    virtualMemoryPercent,
		sleep:         sleepContext,
	}
}

// Name implements Probe.
func (h *HostProbe) Name() string { return KindHost }

// Primed reports whether a previous CPU sample is held.
func (h *HostProbe) Primed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.primed
}

// Collect implements Probe.
func (h *HostProbe) Collect(ctx context.Context) (types.Snapshot, error) {
	cpuPercent, err := h.cpuPercent(ctx)
	if err != nil {
		return types.Snapshot{}, err
	}
	memPercent, err := h.memPercent(ctx)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("memory: %w", err)
	}

	snap, err := types.NewSnapshot(h.now(), clampPercent(cpuPercent), clampPercent(memPercent))
	if err != nil {
		return types.Snapshot{}, err
	}

	if h.TopProcesses > 0 {
		h.logTopProcesses(ctx)
	}
	return snap, nil
}

func (h *HostProbe) cpuPercent(ctx context.Context) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.primed {
		first, err := h.cpuTimes(ctx)
		if err != nil {
			return 0, fmt.Errorf("cpu times: %w", err)
		}
		if err := h.sleep(ctx, h.primeInterval); err != nil {
			return 0, err
		}
		h.prev = first
		h.primed = true
		log.Debug("cpu sampling primed", "interval", h.primeInterval)
	}

	cur, err := h.cpuTimes(ctx)
	if err != nil {
		return 0, fmt.Errorf("cpu times: %w", err)
	}
	pct := busyPercent(h.prev, cur)
	h.prev = cur
	return pct, nil
}

func (h *HostProbe) logTopProcesses(ctx context.Context) {
	top, err := TopProcesses(ctx, h.TopProcesses)
	if err != nil {
		log.Debug("top processes unavailable", "error", err)
		return
	}
	for i, p := range top {
		log.Debug("top process", "rank", i+1, "pid", p.PID, "name", p.Name,
			"cpu_percent", p.CPUPercent, "rss_bytes", p.RSSBytes)
	}
}

// busyPercent returns the share of non-idle time between two cumulative
// samples. A counter that did not advance (or went backwards after a
// suspend) reads as 0.
func busyPercent(prev, cur cpu.TimesStat) float64 {
	total := totalTime(cur) - totalTime(prev)
	if total <= 0 {
		return 0
	}
	idle := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	return (total - idle) / total * 100
}

func totalTime(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait +
		t.Irq + t.Softirq + t.Steal
}

func aggregateCPUTimes(ctx context.Context) (cpu.TimesStat, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return cpu.TimesStat{}, err
	}
	if len(times) == 0 {
		return cpu.TimesStat{}, fmt.Errorf("no CPU time data available")
	}
	return times[0], nil
}

func virtualMemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
