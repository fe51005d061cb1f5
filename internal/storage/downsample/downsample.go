// Package downsample reduces snapshot series for bounded timeline views.
//
// Reduce implements Largest-Triangle-Three-Buckets (LTTB): the first and
// last points are always kept, the interior is split into target-2 buckets,
// and each bucket contributes the point forming the largest triangle with
// the previously selected point and the centroid of the next bucket. Spikes
// and valleys survive because they maximize that area.
//
// The area metric uses (timestamp, cpu_percent) only. Memory rides along
// with whichever snapshot CPU selects.
//
// Everything here is pure: no shared state, safe for concurrent use.
package downsample

import (
	"math"

	"github.com/xtxerr/aura/config"
	"github.com/xtxerr/aura/internal/storage/types"
	"github.com/xtxerr/aura/internal/validation"
)

// RangeSource serves inclusive time-range reads. *store.Store and the
// archive query service both satisfy it.
type RangeSource interface {
	Between(start, end *float64) ([]types.Snapshot, error)
}

// Reduce selects target points from series preserving its visual shape.
//
// target must be >= 2. A series no longer than target is returned as a
// fresh copy. Otherwise the result has exactly target points in original
// order, starting with series[0] and ending with series[len-1].
func Reduce(series []types.Snapshot, target int) ([]types.Snapshot, error) {
	if err := validation.MinInt("target", target, config.MinTimelineResolution); err != nil {
		return nil, err
	}

	n := len(series)
	if n <= target {
		out := make([]types.Snapshot, n)
		copy(out, series)
		return out, nil
	}

	out := make([]types.Snapshot, 0, target)
	out = append(out, series[0])

	if target == 2 {
		return append(out, series[n-1]), nil
	}

	bucketSize := float64(n-2) / float64(target-2)

	prevX := series[0].Timestamp()
	prevY := series[0].CPUPercent()

	for i := 0; i < target-2; i++ {
		// Current bucket: [start, end)
		start := int(1 + float64(i)*bucketSize)
		end := min(int(1+float64(i+1)*bucketSize), n-1)

		// Next bucket: [nextStart, nextEnd], collapsing to the final point
		// for the last bucket.
		nextStart := int(1 + float64(i+1)*bucketSize)
		nextEnd := min(int(1+float64(i+2)*bucketSize), n-1)
		if i == target-3 {
			nextStart, nextEnd = n-1, n-1
		}

		avgX, avgY := centroid(series[nextStart : nextEnd+1])

		best := start
		bestArea := -1.0
		for j := start; j < end; j++ {
			x, y := series[j].Timestamp(), series[j].CPUPercent()
			area := math.Abs(prevX*(y-avgY) + x*(avgY-prevY) + avgX*(prevY-y))
			if area > bestArea {
				bestArea = area
				best = j
			}
		}

		out = append(out, series[best])
		prevX = series[best].Timestamp()
		prevY = series[best].CPUPercent()
	}

	return append(out, series[n-1]), nil
}

// centroid averages (timestamp, cpu_percent) over points, summing in order.
func centroid(points []types.Snapshot) (x, y float64) {
	for _, p := range points {
		x += p.Timestamp()
		y += p.CPUPercent()
	}
	count := float64(len(points))
	return x / count, y / count
}

// QueryRange reads [start, end] from src and reduces it to resolution points.
// resolution must be >= 2 and is checked before src is touched. An empty
// range returns an empty result without reducing.
func QueryRange(src RangeSource, start, end *float64, resolution int) ([]types.Snapshot, error) {
	if err := validation.MinInt("resolution", resolution, config.MinTimelineResolution); err != nil {
		return nil, err
	}

	series, err := src.Between(start, end)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return []types.Snapshot{}, nil
	}
	return Reduce(series, resolution)
}
