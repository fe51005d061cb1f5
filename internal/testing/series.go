package testing

import (
	"testing"

	"github.com/xtxerr/aura/internal/storage/types"
)

// =============================================================================
// Snapshot Builders
// =============================================================================

// Snap builds a snapshot or fails the test.
func Snap(t testing.TB, ts, cpu, mem float64) types.Snapshot {
	t.Helper()
	s, err := types.NewSnapshot(ts, cpu, mem)
	if err != nil {
		t.Fatalf("NewSnapshot(%v, %v, %v): %v", ts, cpu, mem, err)
	}
	return s
}

// Flat returns n snapshots one second apart starting at start, all with the
// same cpu and memory values.
func Flat(t testing.TB, n int, start, cpu, mem float64) []types.Snapshot {
	t.Helper()
	out := make([]types.Snapshot, n)
	for i := range out {
		out[i] = Snap(t, start+float64(i), cpu, mem)
	}
	return out
}

// Ramp returns n snapshots one second apart whose cpu climbs linearly from
// 0 to 100 and whose memory falls from 100 to 0.
func Ramp(t testing.TB, n int, start float64) []types.Snapshot {
	t.Helper()
	out := make([]types.Snapshot, n)
	for i := range out {
		frac := 0.0
		if n > 1 {
			frac = float64(i) / float64(n-1)
		}
		out[i] = Snap(t, start+float64(i), 100*frac, 100*(1-frac))
	}
	return out
}

// WithSpike returns a copy of series where index i carries the given cpu.
func WithSpike(t testing.TB, series []types.Snapshot, i int, cpu float64) []types.Snapshot {
	t.Helper()
	out := make([]types.Snapshot, len(series))
	copy(out, series)
	out[i] = Snap(t, series[i].Timestamp(), cpu, series[i].MemoryPercent())
	return out
}

// Timestamps extracts the timestamps of series.
func Timestamps(series []types.Snapshot) []float64 {
	out := make([]float64, len(series))
	for i, s := range series {
		out[i] = s.Timestamp()
	}
	return out
}
