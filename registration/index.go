package registration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// NeighborIndex answers nearest-neighbour queries against an immutable
// target point set.
type NeighborIndex interface {
	// Nearest returns the index (into Points) of the target point closest to
	// p and the squared distance to it. Equidistant candidates resolve to the
	// lowest target index.
	Nearest(p Point) (int, float64, error)
	// Len returns the number of indexed points.
	Len() int
	// Points returns the indexed target points in their original order.
	Points() PointSet
}

// Index is a balanced k-d tree over a target point set.
type Index struct {
	tree   *kdtree.Tree
	points PointSet
}

// BuildIndex builds a k-d tree over target. The target is copied, so later
// changes to the caller's slice do not affect the index.
func BuildIndex(target PointSet) (*Index, error) {
	if len(target) == 0 {
		return nil, fmt.Errorf("build index: %w", ErrEmptyInput)
	}

	points := target.Clone()
	nodes := make(treePoints, len(points))
	for i, p := range points {
		nodes[i] = treePoint{Point: p, idx: i}
	}

	return &Index{
		tree:   kdtree.New(nodes, false),
		points: points,
	}, nil
}

// Nearest returns the closest target point index and its squared distance.
func (ix *Index) Nearest(p Point) (int, float64, error) {
	if ix == nil || ix.tree == nil || ix.tree.Root == nil {
		return -1, 0, fmt.Errorf("nearest neighbour query: %w", ErrEmptyInput)
	}

	q := treePoint{Point: p, idx: -1}
	c, dist := ix.tree.Nearest(q)
	best, ok := c.(treePoint)
	if !ok {
		return -1, 0, fmt.Errorf("nearest neighbour query: %w", ErrEmptyInput)
	}

	// The tree returns whichever equidistant point it visits first. Collect
	// every point at exactly that distance and keep the lowest index so the
	// answer matches a linear scan.
	keeper := kdtree.NewDistKeeper(dist)
	ix.tree.NearestSet(keeper, q)
	for _, cd := range keeper.Heap {
		tp, ok := cd.Comparable.(treePoint)
		if !ok || cd.Dist != dist {
			continue
		}
		if tp.idx < best.idx {
			best = tp
		}
	}

	return best.idx, dist, nil
}

// Len returns the number of indexed points.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.points)
}

// Points returns the indexed target points.
func (ix *Index) Points() PointSet {
	if ix == nil {
		return nil
	}
	return ix.points
}

// LinearIndex is a brute-force NeighborIndex. Every query scans the whole
// target, O(n) per query; it does not scale past a few thousand points and
// exists as a correctness reference.
type LinearIndex struct {
	points PointSet
}

// NewLinearIndex builds a brute-force index over target.
func NewLinearIndex(target PointSet) (*LinearIndex, error) {
	if len(target) == 0 {
		return nil, fmt.Errorf("build linear index: %w", ErrEmptyInput)
	}
	return &LinearIndex{points: target.Clone()}, nil
}

// Nearest scans every target point.
func (li *LinearIndex) Nearest(p Point) (int, float64, error) {
	if li == nil || len(li.points) == 0 {
		return -1, 0, fmt.Errorf("nearest neighbour query: %w", ErrEmptyInput)
	}
	best := -1
	bestDist := math.Inf(1)
	for i, tp := range li.points {
		d := SqDistance(p, tp)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best, bestDist, nil
}

// Len returns the number of indexed points.
func (li *LinearIndex) Len() int {
	if li == nil {
		return 0
	}
	return len(li.points)
}

// Points returns the indexed target points.
func (li *LinearIndex) Points() PointSet {
	if li == nil {
		return nil
	}
	return li.points
}

// treePoint is a target point carrying its original index through the tree.
type treePoint struct {
	Point
	idx int
}

// Compare implements kdtree.Comparable.
func (p treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(treePoint)
	return p.Coord(int(d)) - q.Coord(int(d))
}

// Dims implements kdtree.Comparable.
func (p treePoint) Dims() int { return 3 }

// Distance implements kdtree.Comparable; it returns the squared distance.
func (p treePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(treePoint)
	return SqDistance(p.Point, q.Point)
}

// treePoints implements kdtree.Interface.
type treePoints []treePoint

func (p treePoints) Index(i int) kdtree.Comparable { return p[i] }
func (p treePoints) Len() int                      { return len(p) }
func (p treePoints) Pivot(d kdtree.Dim) int {
	return treePlane{points: p, dim: d}.Pivot()
}
func (p treePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// treePlane sorts treePoints along one dimension for median selection.
type treePlane struct {
	points treePoints
	dim    kdtree.Dim
}

func (p treePlane) Less(i, j int) bool {
	return p.points[i].Coord(int(p.dim)) < p.points[j].Coord(int(p.dim))
}
func (p treePlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p treePlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
func (p treePlane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}
func (p treePlane) Len() int { return len(p.points) }
