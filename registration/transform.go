package registration

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// RigidTransform is a 4x4 homogeneous matrix: a 3x3 rotation block (orthonormal,
// determinant +1), a translation column, and the fixed bottom row [0 0 0 1].
//
//	x' = R*x + t
type RigidTransform [4][4]float64

// Identity returns the transform that leaves every point unchanged.
func Identity() RigidTransform {
	return RigidTransform{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// NewRigidTransform assembles a transform from a rotation block and a translation.
// The rotation is taken as given; callers constructing it by hand should run
// Orthonormalize if it was not built from an exact rotation.
func NewRigidTransform(r [3][3]float64, t Point) RigidTransform {
	m := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = r[i][j]
		}
	}
	m[0][3], m[1][3], m[2][3] = t.X, t.Y, t.Z
	return m
}

// Translation creates a translation-only transform.
func Translation(x, y, z float64) RigidTransform {
	m := Identity()
	m[0][3], m[1][3], m[2][3] = x, y, z
	return m
}

// RotationAboutAxis creates a rotation of angle radians (counter-clockwise,
// right-hand rule) about the given axis through the origin.
// A zero-length axis yields the identity.
func RotationAboutAxis(axis Point, angle float64) RigidTransform {
	n := axis.Norm()
	if n == 0 {
		return Identity()
	}
	x, y, z := axis.X/n, axis.Y/n, axis.Z/n
	c := math.Cos(angle)
	s := math.Sin(angle)
	C := 1 - c

	return NewRigidTransform([3][3]float64{
		{c + x*x*C, x*y*C - z*s, x*z*C + y*s},
		{y*x*C + z*s, c + y*y*C, y*z*C - x*s},
		{z*x*C - y*s, z*y*C + x*s, c + z*z*C},
	}, Point{})
}

// RotationZ creates a rotation about the Z axis (angle in radians).
func RotationZ(angle float64) RigidTransform {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	m := Identity()
	m[0][0], m[0][1] = cos, -sin
	m[1][0], m[1][1] = sin, cos
	return m
}

// Rotation returns the 3x3 rotation block.
func (m RigidTransform) Rotation() [3][3]float64 {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][j]
		}
	}
	return r
}

// TranslationVector returns the translation column.
func (m RigidTransform) TranslationVector() Point {
	return Point{X: m[0][3], Y: m[1][3], Z: m[2][3]}
}

// Apply transforms a single point.
func (m RigidTransform) Apply(p Point) Point {
	return Point{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z + m[0][3],
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z + m[1][3],
		Z: m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z + m[2][3],
	}
}

// ApplyAll returns a transformed copy of points; the input is not modified.
func (m RigidTransform) ApplyAll(points PointSet) PointSet {
	result := make(PointSet, len(points))
	for i, p := range points {
		result[i] = m.Apply(p)
	}
	return result
}

// ApplyInPlace transforms points in place.
func (m RigidTransform) ApplyInPlace(points PointSet) {
	for i, p := range points {
		points[i] = m.Apply(p)
	}
}

// Compose returns m1 * m2. Applying the result is equivalent to applying m2
// first, then m1.
func Compose(m1, m2 RigidTransform) RigidTransform {
	var out RigidTransform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m1[i][k] * m2[k][j]
			}
			out[i][j] = sum
		}
	}
	out[3] = [4]float64{0, 0, 0, 1}
	return out
}

// Inverse returns the inverse rigid transform (R^T, -R^T t).
func (m RigidTransform) Inverse() RigidTransform {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	t := m.TranslationVector()
	inv := NewRigidTransform(r, Point{})
	nt := inv.Apply(t)
	inv[0][3], inv[1][3], inv[2][3] = -nt.X, -nt.Y, -nt.Z
	return inv
}

// RotationAngle returns the axis-angle magnitude of the rotation block in
// radians, in [0, pi]. Computed with atan2 so that small angles keep their
// precision.
func (m RigidTransform) RotationAngle() float64 {
	sx := m[2][1] - m[1][2]
	sy := m[0][2] - m[2][0]
	sz := m[1][0] - m[0][1]
	sin2 := math.Sqrt(sx*sx + sy*sy + sz*sz)
	cos2 := m[0][0] + m[1][1] + m[2][2] - 1
	return math.Atan2(sin2, cos2)
}

// TranslationNorm returns the length of the translation column.
func (m RigidTransform) TranslationNorm() float64 {
	return m.TranslationVector().Norm()
}

// IsRigid reports whether the rotation block is orthonormal with determinant
// +1 and the bottom row is [0 0 0 1], all within tol.
func (m RigidTransform) IsRigid(tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += m[k][i] * m[k][j]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > tol {
				return false
			}
		}
	}
	if math.Abs(det3(m.Rotation())-1) > tol {
		return false
	}
	return m[3] == [4]float64{0, 0, 0, 1}
}

// Orthonormalize projects the rotation block onto the nearest proper rotation
// (polar decomposition via SVD). The translation is left untouched.
func (m RigidTransform) Orthonormalize() RigidTransform {
	r := m.Rotation()
	rot, ok := nearestRotation(r)
	if !ok {
		return m
	}
	return NewRigidTransform(rot, m.TranslationVector())
}

// nearestRotation returns U*diag(1,1,d)*V^T for R = U*S*V^T, d = det(U V^T).
func nearestRotation(r [3][3]float64) ([3][3]float64, bool) {
	a := mat.NewDense(3, 3, []float64{
		r[0][0], r[0][1], r[0][2],
		r[1][0], r[1][1], r[1][2],
		r[2][0], r[2][1], r[2][2],
	})

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return r, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	d := 1.0
	if mat.Det(&uvt) < 0 {
		d = -1
	}
	diag := mat.NewDiagDense(3, []float64{1, 1, d})

	var tmp, out mat.Dense
	tmp.Mul(&u, diag)
	out.Mul(&tmp, v.T())
	return denseToArray(&out), true
}

// String prints the transform in the rotation-block / translation-vector
// layout used by the terminal viewer.
func (m RigidTransform) String() string {
	var b strings.Builder
	b.WriteString("Rotation matrix :\n")
	fmt.Fprintf(&b, "    | %6.3f %6.3f %6.3f | \n", m[0][0], m[0][1], m[0][2])
	fmt.Fprintf(&b, "R = | %6.3f %6.3f %6.3f | \n", m[1][0], m[1][1], m[1][2])
	fmt.Fprintf(&b, "    | %6.3f %6.3f %6.3f | \n", m[2][0], m[2][1], m[2][2])
	b.WriteString("Translation vector :\n")
	fmt.Fprintf(&b, "t = < %6.3f, %6.3f, %6.3f >\n", m[0][3], m[1][3], m[2][3])
	return b.String()
}

func det3(r [3][3]float64) float64 {
	return r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
}

func denseToArray(d *mat.Dense) [3][3]float64 {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = d.At(i, j)
		}
	}
	return r
}
