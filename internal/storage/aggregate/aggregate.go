// Package aggregate computes window statistics over snapshot series.
//
// Min, max and mean are exact. Percentiles come from a DDSketch with a
// configurable relative accuracy, so memory stays bounded however long the
// window is.
package aggregate

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/aura/internal/storage/types"
)

// DefaultAccuracy is the relative accuracy of percentile estimates (1%).
const DefaultAccuracy = 0.01

// signal keeps running statistics for one series (CPU or memory).
type signal struct {
	count int64
	sum   float64
	min   float64
	max   float64

	// DDSketch for percentiles (nil if disabled)
	sketch *ddsketch.DDSketch
}

func newSignal(accuracy float64, percentiles bool) signal {
	s := signal{min: math.MaxFloat64, max: -math.MaxFloat64}
	if percentiles {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			s.sketch = sketch
		}
	}
	return s
}

func (s *signal) add(v float64) {
	s.count++
	s.sum += v
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	if s.sketch != nil {
		s.sketch.Add(v)
	}
}

func (s *signal) merge(o *signal) {
	s.count += o.count
	s.sum += o.sum
	if o.min < s.min {
		s.min = o.min
	}
	if o.max > s.max {
		s.max = o.max
	}
	if s.sketch != nil && o.sketch != nil {
		s.sketch.MergeWith(o.sketch)
	}
}

func (s *signal) stats() types.SeriesStats {
	var out types.SeriesStats
	if s.count == 0 {
		return out
	}
	out.Min = s.min
	out.Max = s.max
	out.Avg = s.sum / float64(s.count)

	if s.sketch != nil {
		p50, _ := s.sketch.GetValueAtQuantile(0.50)
		p90, _ := s.sketch.GetValueAtQuantile(0.90)
		p95, _ := s.sketch.GetValueAtQuantile(0.95)
		p99, _ := s.sketch.GetValueAtQuantile(0.99)
		// Sketch buckets are relative; clamp back into the observed range.
		out.SetPercentiles(
			clamp(p50, s.min, s.max),
			clamp(p90, s.min, s.max),
			clamp(p95, s.min, s.max),
			clamp(p99, s.min, s.max))
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// =============================================================================
// Window
// =============================================================================

// Window maintains running statistics over a stream of snapshots.
//
// Window is safe for concurrent use.
type Window struct {
	mu sync.Mutex

	accuracy    float64
	percentiles bool

	cpu signal
	mem signal

	firstTs float64
	lastTs  float64
}

// New creates a Window. With percentiles disabled only min/max/avg are kept.
func New(percentiles bool) *Window {
	return NewWithAccuracy(DefaultAccuracy, percentiles)
}

// NewWithAccuracy creates a Window with custom percentile accuracy.
func NewWithAccuracy(accuracy float64, percentiles bool) *Window {
	w := &Window{accuracy: accuracy, percentiles: percentiles}
	w.reset()
	return w
}

func (w *Window) reset() {
	w.cpu = newSignal(w.accuracy, w.percentiles)
	w.mem = newSignal(w.accuracy, w.percentiles)
	w.firstTs = math.Inf(1)
	w.lastTs = math.Inf(-1)
}

// Add adds a snapshot to the window.
func (w *Window) Add(s types.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cpu.add(s.CPUPercent())
	w.mem.add(s.MemoryPercent())

	if ts := s.Timestamp(); ts < w.firstTs {
		w.firstTs = ts
	}
	if ts := s.Timestamp(); ts > w.lastTs {
		w.lastTs = ts
	}
}

// Count returns the number of snapshots added.
func (w *Window) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cpu.count
}

// Result returns the window summary.
func (w *Window) Result() types.Summary {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := types.Summary{
		Count:  w.cpu.count,
		CPU:    w.cpu.stats(),
		Memory: w.mem.stats(),
	}
	if out.Count > 0 {
		out.FirstTs = w.firstTs
		out.LastTs = w.lastTs
	}
	return out
}

// Reset empties the window.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
}

// Merge combines another window into this one.
func (w *Window) Merge(other *Window) {
	if other == nil || other == w {
		return
	}

	w.mu.Lock()
	other.mu.Lock()
	defer w.mu.Unlock()
	defer other.mu.Unlock()

	if other.cpu.count == 0 {
		return
	}

	w.cpu.merge(&other.cpu)
	w.mem.merge(&other.mem)
	w.firstTs = math.Min(w.firstTs, other.firstTs)
	w.lastTs = math.Max(w.lastTs, other.lastTs)
}

// Summarize returns the summary of series with percentiles.
func Summarize(series []types.Snapshot) types.Summary {
	w := New(true)
	for _, s := range series {
		w.Add(s)
	}
	return w.Result()
}
