package types

import "time"

// SeriesStats holds statistics for one signal (CPU or memory) of a window.
type SeriesStats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`

	// Percentiles (nil if the window is empty)
	P50 *float64 `json:"p50,omitempty"`
	P90 *float64 `json:"p90,omitempty"`
	P95 *float64 `json:"p95,omitempty"`
	P99 *float64 `json:"p99,omitempty"`
}

// HasPercentiles returns true if percentile data is available.
func (s *SeriesStats) HasPercentiles() bool {
	return s.P50 != nil
}

// SetPercentiles sets all percentile values.
func (s *SeriesStats) SetPercentiles(p50, p90, p95, p99 float64) {
	s.P50 = &p50
	s.P90 = &p90
	s.P95 = &p95
	s.P99 = &p99
}

// Summary describes a window of snapshots.
// This is the output of aggregate.Summarize and of archive summary queries.
type Summary struct {
	Count int64 `json:"count"`

	// Timestamps of the first and last snapshot, Unix seconds
	FirstTs float64 `json:"first_ts"`
	LastTs  float64 `json:"last_ts"`

	CPU    SeriesStats `json:"cpu"`
	Memory SeriesStats `json:"memory"`
}

// IsEmpty returns true if no snapshots were summarized.
func (s *Summary) IsEmpty() bool {
	return s.Count == 0
}

// Duration returns the time covered by the window.
func (s *Summary) Duration() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return time.Duration((s.LastTs - s.FirstTs) * float64(time.Second))
}
