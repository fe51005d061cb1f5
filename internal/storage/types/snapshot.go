package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/xtxerr/aura/internal/validation"
)

// Snapshot is one validated point-in-time CPU/memory sample.
//
// Fields are unexported so a Snapshot can only be obtained through
// NewSnapshot and never changes afterwards. Snapshots are plain values:
// copying one yields an independent sample.
type Snapshot struct {
	timestamp     float64 // Unix seconds
	cpuPercent    float64 // [0, 100]
	memoryPercent float64 // [0, 100]
}

// NewSnapshot validates and builds a Snapshot. The timestamp must be finite,
// both percentages must be finite and inside [0, 100].
func NewSnapshot(timestamp, cpuPercent, memoryPercent float64) (Snapshot, error) {
	if err := validation.Finite("timestamp", timestamp); err != nil {
		return Snapshot{}, err
	}
	if err := validation.Percent("cpu_percent", cpuPercent); err != nil {
		return Snapshot{}, err
	}
	if err := validation.Percent("memory_percent", memoryPercent); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		timestamp:     timestamp,
		cpuPercent:    cpuPercent,
		memoryPercent: memoryPercent,
	}, nil
}

// Timestamp returns the sample time in Unix seconds.
func (s Snapshot) Timestamp() float64 { return s.timestamp }

// CPUPercent returns CPU utilization in percent.
func (s Snapshot) CPUPercent() float64 { return s.cpuPercent }

// MemoryPercent returns memory utilization in percent.
func (s Snapshot) MemoryPercent() float64 { return s.memoryPercent }

// Time returns the timestamp as a time.Time.
func (s Snapshot) Time() time.Time {
	sec, frac := math.Modf(s.timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// IsZero reports whether s is the zero Snapshot.
func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}

// String formats the snapshot the way the CLI prints it.
func (s Snapshot) String() string {
	return fmt.Sprintf("cpu=%.1f%% mem=%.1f%% ts=%.3f", s.cpuPercent, s.memoryPercent, s.timestamp)
}

// snapshotJSON is the wire shape used by -json output. Keys are sorted.
type snapshotJSON struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Timestamp     float64 `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		CPUPercent:    s.cpuPercent,
		MemoryPercent: s.memoryPercent,
		Timestamp:     s.timestamp,
	})
}

// UnmarshalJSON implements json.Unmarshaler and validates the decoded values.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	snap, err := NewSnapshot(raw.Timestamp, raw.CPUPercent, raw.MemoryPercent)
	if err != nil {
		return err
	}
	*s = snap
	return nil
}

// Series is a chronologically ordered run of snapshots.
type Series []Snapshot

// Clone returns an independent copy of the series.
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// Span returns the first and last timestamps. ok is false for an empty series.
func (s Series) Span() (first, last float64, ok bool) {
	if len(s) == 0 {
		return 0, 0, false
	}
	return s[0].timestamp, s[len(s)-1].timestamp, true
}

// IsChronological reports whether timestamps never decrease.
func (s Series) IsChronological() bool {
	for i := 1; i < len(s); i++ {
		if s[i].timestamp < s[i-1].timestamp {
			return false
		}
	}
	return true
}
