// Package registration aligns a source point set to a target point set with
// point-to-point ICP: nearest-neighbour correspondence against a k-d tree over
// the target, closed-form rigid transform estimation via SVD, and an iteration
// controller that can be stepped one iteration at a time.
package registration

import "math"

// Point is a 3D coordinate. Points are values and never mutated in place.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PointSet is an ordered sequence of points. Order carries no meaning for
// registration but is preserved for rendering.
type PointSet []Point

// Coord returns the coordinate along axis 0 (X), 1 (Y) or 2 (Z).
func (p Point) Coord(axis int) float64 {
	switch axis {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

// Add returns p + q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z}
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

// Scale returns p scaled by s.
func (p Point) Scale(s float64) Point {
	return Point{X: p.X * s, Y: p.Y * s, Z: p.Z * s}
}

// Norm returns the Euclidean length of p.
func (p Point) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// SqDistance returns the squared Euclidean distance between two points.
func SqDistance(p1, p2 Point) float64 {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	dz := p2.Z - p1.Z
	return dx*dx + dy*dy + dz*dz
}

// Distance returns the Euclidean distance between two points.
func Distance(p1, p2 Point) float64 {
	return math.Sqrt(SqDistance(p1, p2))
}

// Centroid calculates the mean position of a set of points.
// Sums are accumulated in slice order.
func Centroid(points PointSet) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sumX, sumY, sumZ float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
		sumZ += p.Z
	}
	n := float64(len(points))
	return Point{X: sumX / n, Y: sumY / n, Z: sumZ / n}
}

// Clone returns a copy of the point set backed by a new array.
func (ps PointSet) Clone() PointSet {
	if ps == nil {
		return nil
	}
	out := make(PointSet, len(ps))
	copy(out, ps)
	return out
}

// Bounds returns the axis-aligned bounding box of the set.
// Both corners are the zero point for an empty set.
func (ps PointSet) Bounds() (min, max Point) {
	if len(ps) == 0 {
		return Point{}, Point{}
	}
	min, max = ps[0], ps[0]
	for _, p := range ps[1:] {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		min.Z = math.Min(min.Z, p.Z)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
		max.Z = math.Max(max.Z, p.Z)
	}
	return min, max
}

// sameSet reports whether a and b are the same slice (same backing array,
// same length). Used to decide whether Align continues a stepping session.
func sameSet(a, b PointSet) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	return &a[0] == &b[0]
}
