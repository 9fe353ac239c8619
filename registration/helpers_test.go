package registration

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// boxCloud returns n well-spread points filling a 4x2x1 box. The coordinates
// come from additive recurrences, so the cloud has no lattice symmetry.
func boxCloud(n int) PointSet {
	points := make(PointSet, n)
	for i := range points {
		a := math.Mod(float64(i)*0.6180339887498949, 1)
		b := math.Mod(float64(i)*0.7548776662466927, 1)
		c := math.Mod(float64(i)*0.5698402909980532, 1)
		points[i] = Point{X: 4 * a, Y: 2 * b, Z: c}
	}
	return points
}

// centeredCube returns the 8 corners of the unit cube centered on the origin.
func centeredCube() PointSet {
	var points PointSet
	for _, x := range []float64{-0.5, 0.5} {
		for _, y := range []float64{-0.5, 0.5} {
			for _, z := range []float64{-0.5, 0.5} {
				points = append(points, Point{X: x, Y: y, Z: z})
			}
		}
	}
	return points
}

func degrees(d float64) float64 { return d * math.Pi / 180 }

// assertTransformNear fails when any matrix entry differs by more than tol.
func assertTransformNear(t *testing.T, want, got RigidTransform, tol float64) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, tol)); diff != "" {
		t.Errorf("transform mismatch (-want +got):\n%s", diff)
	}
}
