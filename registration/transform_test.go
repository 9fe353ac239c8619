package registration

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const epsilon = 1e-10

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func pointsEqual(p1, p2 Point) bool {
	return almostEqual(p1.X, p2.X) && almostEqual(p1.Y, p2.Y) && almostEqual(p1.Z, p2.Z)
}

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		point  Point
		matrix RigidTransform
		want   Point
	}{
		{
			name:   "identity transform",
			point:  Point{X: 10, Y: 20, Z: 30},
			matrix: Identity(),
			want:   Point{X: 10, Y: 20, Z: 30},
		},
		{
			name:   "translation only",
			point:  Point{X: 5, Y: 5, Z: 5},
			matrix: Translation(10, 15, -5),
			want:   Point{X: 15, Y: 20, Z: 0},
		},
		{
			name:   "90 degree rotation about Z",
			point:  Point{X: 1, Y: 0, Z: 2},
			matrix: RotationZ(math.Pi / 2),
			want:   Point{X: 0, Y: 1, Z: 2},
		},
		{
			name:   "90 degree rotation about X",
			point:  Point{X: 0, Y: 1, Z: 0},
			matrix: RotationAboutAxis(Point{X: 1}, math.Pi/2),
			want:   Point{X: 0, Y: 0, Z: 1},
		},
		{
			name:   "120 degree rotation about diagonal cycles axes",
			point:  Point{X: 1, Y: 0, Z: 0},
			matrix: RotationAboutAxis(Point{X: 1, Y: 1, Z: 1}, 2*math.Pi/3),
			want:   Point{X: 0, Y: 1, Z: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.matrix.Apply(tt.point)
			if !pointsEqual(got, tt.want) {
				t.Errorf("Apply() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRotationAboutAxisMatchesRotationZ(t *testing.T) {
	for _, a := range []float64{0, 0.1, math.Pi / 8, 1.5, -2.0} {
		assertTransformNear(t, RotationZ(a), RotationAboutAxis(Point{Z: 3}, a), 1e-12)
	}
}

func TestRotationAboutZeroAxis(t *testing.T) {
	assert.Equal(t, Identity(), RotationAboutAxis(Point{}, 1.0))
}

func TestComposeOrder(t *testing.T) {
	rot := RotationZ(math.Pi / 2)
	shift := Translation(1, 0, 0)

	// shift first, then rotate
	m := Compose(rot, shift)
	got := m.Apply(Point{})
	if !pointsEqual(got, Point{X: 0, Y: 1, Z: 0}) {
		t.Errorf("Compose(rot, shift) applied to origin = %+v", got)
	}

	// rotate first, then shift
	m = Compose(shift, rot)
	got = m.Apply(Point{})
	if !pointsEqual(got, Point{X: 1, Y: 0, Z: 0}) {
		t.Errorf("Compose(shift, rot) applied to origin = %+v", got)
	}
}

func TestInverse(t *testing.T) {
	m := Compose(Translation(1, 2, 4), RotationAboutAxis(Point{X: 0.3, Y: -0.2, Z: 1}, 0.7))
	assertTransformNear(t, Identity(), Compose(m, m.Inverse()), 1e-12)
	assertTransformNear(t, Identity(), Compose(m.Inverse(), m), 1e-12)

	p := Point{X: 3, Y: -1, Z: 0.5}
	if got := m.Inverse().Apply(m.Apply(p)); !pointsEqual(got, p) {
		t.Errorf("round trip = %+v, want %+v", got, p)
	}
}

func TestRotationAngle(t *testing.T) {
	tests := []struct {
		name  string
		axis  Point
		angle float64
	}{
		{"zero", Point{Z: 1}, 0},
		{"small", Point{X: 1, Y: 2, Z: 3}, 1e-7},
		{"eighth turn", Point{Z: 1}, math.Pi / 8},
		{"large", Point{X: -1, Y: 0.5}, 2.5},
		{"half turn", Point{Y: 1}, math.Pi},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RotationAboutAxis(tt.axis, tt.angle).RotationAngle()
			assert.InDelta(t, tt.angle, got, 1e-9)
		})
	}
}

func TestTranslationNorm(t *testing.T) {
	assert.InDelta(t, 5.0, Translation(3, 0, 4).TranslationNorm(), 1e-12)
	assert.Zero(t, Identity().TranslationNorm())
}

func TestIsRigid(t *testing.T) {
	m := Compose(Translation(1, 2, 3), RotationAboutAxis(Point{X: 1, Y: 1}, 0.4))
	assert.True(t, m.IsRigid(1e-9))

	scaled := m
	scaled[0][0] *= 1.1
	assert.False(t, scaled.IsRigid(1e-9))

	reflected := Identity()
	reflected[2][2] = -1
	assert.False(t, reflected.IsRigid(1e-9), "reflection has determinant -1")

	badRow := m
	badRow[3][0] = 0.5
	assert.False(t, badRow.IsRigid(1e-9))
}

func TestOrthonormalize(t *testing.T) {
	m := Compose(Translation(1, 2, 4), RotationZ(0.3))
	m[0][0] += 1e-3
	m[1][2] -= 2e-3
	assert.False(t, m.IsRigid(1e-9))

	o := m.Orthonormalize()
	assert.True(t, o.IsRigid(1e-9))
	assert.InDelta(t, 0.3, o.RotationAngle(), 1e-2)
	assert.Equal(t, m.TranslationVector(), o.TranslationVector())
}

func TestApplyAllDoesNotModifyInput(t *testing.T) {
	points := PointSet{{X: 1}, {Y: 1}, {Z: 1}}
	orig := points.Clone()

	out := Translation(1, 1, 1).ApplyAll(points)
	assert.Equal(t, orig, points)
	assert.Equal(t, Point{X: 2, Y: 1, Z: 1}, out[0])

	Translation(1, 1, 1).ApplyInPlace(points)
	assert.Equal(t, out, points)
}

func TestString(t *testing.T) {
	s := Compose(Translation(1, 2, 4), Identity()).String()
	assert.True(t, strings.HasPrefix(s, "Rotation matrix :\n"))
	assert.Contains(t, s, "R = |  0.000  1.000  0.000 |")
	assert.Contains(t, s, "Translation vector :\n")
	assert.Contains(t, s, "t = <  1.000,  2.000,  4.000 >")
}

func TestCentroidAndBounds(t *testing.T) {
	cube := centeredCube()
	if c := Centroid(cube); !pointsEqual(c, Point{}) {
		t.Errorf("Centroid() = %+v, want origin", c)
	}
	lo, hi := cube.Bounds()
	assert.Equal(t, Point{X: -0.5, Y: -0.5, Z: -0.5}, lo)
	assert.Equal(t, Point{X: 0.5, Y: 0.5, Z: 0.5}, hi)

	lo, hi = PointSet{}.Bounds()
	assert.Equal(t, Point{}, lo)
	assert.Equal(t, Point{}, hi)
	assert.Equal(t, Point{}, Centroid(nil))
}
