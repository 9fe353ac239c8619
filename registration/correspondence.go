package registration

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// parallelThreshold is the smallest source size for which nearest-neighbour
// queries are split across goroutines.
const parallelThreshold = 2048

// Correspondence pairs a source point with its nearest target point.
type Correspondence struct {
	SourceIndex int     `json:"sourceIndex"`
	TargetIndex int     `json:"targetIndex"`
	SqDistance  float64 `json:"sqDistance"`
}

// BuildCorrespondences finds the nearest target point for every source point.
// The result has one entry per source point, in source order. When workers > 1
// the queries are split into contiguous ranges; each goroutine writes only its
// own range, so the output does not depend on the number of workers.
func BuildCorrespondences(source PointSet, index NeighborIndex, workers int) ([]Correspondence, error) {
	return buildCorrespondencesInto(nil, source, index, workers)
}

// buildCorrespondencesInto is BuildCorrespondences reusing dst's backing array.
func buildCorrespondencesInto(dst []Correspondence, source PointSet, index NeighborIndex, workers int) ([]Correspondence, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("build correspondences: source: %w", ErrEmptyInput)
	}
	if index == nil || index.Len() == 0 {
		return nil, fmt.Errorf("build correspondences: target: %w", ErrEmptyInput)
	}

	n := len(source)
	if cap(dst) >= n {
		dst = dst[:n]
	} else {
		dst = make([]Correspondence, n)
	}

	query := func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			ti, d, err := index.Nearest(source[i])
			if err != nil {
				return fmt.Errorf("source point %d: %w", i, err)
			}
			dst[i] = Correspondence{SourceIndex: i, TargetIndex: ti, SqDistance: d}
		}
		return nil
	}

	if workers <= 1 || n < parallelThreshold {
		if err := query(0, n); err != nil {
			return nil, fmt.Errorf("build correspondences: %w", err)
		}
		return dst, nil
	}

	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error { return query(lo, hi) })
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build correspondences: %w", err)
	}
	return dst, nil
}

// MeanSquaredDistance returns the mean of the squared correspondence
// distances, summed in slice order. Zero for an empty set.
func MeanSquaredDistance(corrs []Correspondence) float64 {
	if len(corrs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range corrs {
		sum += c.SqDistance
	}
	return sum / float64(len(corrs))
}

// Rejector filters a correspondence set before transform estimation.
// Implementations must not reorder or modify the input slice.
type Rejector interface {
	Reject(corrs []Correspondence) []Correspondence
}

// NoRejection keeps every correspondence. This is the default.
type NoRejection struct{}

// Reject returns corrs unchanged.
func (NoRejection) Reject(corrs []Correspondence) []Correspondence { return corrs }

// DistanceRejector drops correspondences farther apart than MaxDistance.
// A non-positive MaxDistance keeps everything.
type DistanceRejector struct {
	MaxDistance float64
}

// Reject keeps pairs with distance <= MaxDistance.
func (r DistanceRejector) Reject(corrs []Correspondence) []Correspondence {
	if r.MaxDistance <= 0 {
		return corrs
	}
	limit := r.MaxDistance * r.MaxDistance
	kept := make([]Correspondence, 0, len(corrs))
	for _, c := range corrs {
		if c.SqDistance <= limit {
			kept = append(kept, c)
		}
	}
	return kept
}

// PercentileRejector keeps the closest Percentile fraction (0-1] of the
// correspondences. Values >= 1 or <= 0 keep everything.
type PercentileRejector struct {
	Percentile float64
}

// Reject drops pairs whose distance exceeds the distance at the percentile.
func (r PercentileRejector) Reject(corrs []Correspondence) []Correspondence {
	if len(corrs) == 0 || r.Percentile <= 0 || r.Percentile >= 1 {
		return corrs
	}

	sorted := make([]float64, len(corrs))
	for i, c := range corrs {
		sorted[i] = c.SqDistance
	}
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * r.Percentile)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	threshold := sorted[idx]

	kept := make([]Correspondence, 0, idx+1)
	for _, c := range corrs {
		if c.SqDistance <= threshold {
			kept = append(kept, c)
		}
	}
	return kept
}
