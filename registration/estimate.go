package registration

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// rankTolerance is the ratio to the largest singular value below which a
// singular value of the cross-covariance counts as zero.
const rankTolerance = 1e-12

// EstimateRigidTransform computes the rigid transform that minimizes the sum of
// squared distances between source[c.SourceIndex] and target[c.TargetIndex]
// over corrs (Arun/Umeyama, no scaling).
//
// The cross-covariance H = sum (s - s̄)(t - t̄)^T is factorized as U S V^T and
//
//	R = V * diag(1, 1, det(V U^T)) * U^T
//	t = t̄ - R s̄
//
// The diagonal correction keeps det(R) = +1 when the best orthogonal fit is a
// reflection. Fewer than 3 pairs, or an H of rank below 2, returns
// ErrDegenerateCorrespondence.
func EstimateRigidTransform(source, target PointSet, corrs []Correspondence) (RigidTransform, error) {
	if len(corrs) < 3 {
		return Identity(), fmt.Errorf("estimate transform: %d correspondences: %w", len(corrs), ErrDegenerateCorrespondence)
	}

	var sc, tc Point
	for _, c := range corrs {
		if c.SourceIndex < 0 || c.SourceIndex >= len(source) || c.TargetIndex < 0 || c.TargetIndex >= len(target) {
			return Identity(), fmt.Errorf("estimate transform: correspondence (%d,%d) out of range", c.SourceIndex, c.TargetIndex)
		}
		sc = sc.Add(source[c.SourceIndex])
		tc = tc.Add(target[c.TargetIndex])
	}
	n := float64(len(corrs))
	sc = sc.Scale(1 / n)
	tc = tc.Scale(1 / n)

	var h [9]float64
	for _, c := range corrs {
		s := source[c.SourceIndex].Sub(sc)
		t := target[c.TargetIndex].Sub(tc)
		h[0] += s.X * t.X
		h[1] += s.X * t.Y
		h[2] += s.X * t.Z
		h[3] += s.Y * t.X
		h[4] += s.Y * t.Y
		h[5] += s.Y * t.Z
		h[6] += s.Z * t.X
		h[7] += s.Z * t.Y
		h[8] += s.Z * t.Z
	}

	var svd mat.SVD
	if ok := svd.Factorize(mat.NewDense(3, 3, h[:]), mat.SVDFull); !ok {
		return Identity(), fmt.Errorf("estimate transform: svd failed: %w", ErrDegenerateCorrespondence)
	}

	values := svd.Values(nil)
	if values[0] == 0 || values[1] <= rankTolerance*values[0] {
		return Identity(), fmt.Errorf("estimate transform: cross-covariance rank < 2: %w", ErrDegenerateCorrespondence)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := 1.0
	if mat.Det(&vut) < 0 {
		d = -1
	}

	var vd, r mat.Dense
	vd.Mul(&v, mat.NewDiagDense(3, []float64{1, 1, d}))
	r.Mul(&vd, u.T())

	rot := denseToArray(&r)
	m := NewRigidTransform(rot, Point{})
	rs := m.Apply(sc)
	m[0][3], m[1][3], m[2][3] = tc.X-rs.X, tc.Y-rs.Y, tc.Z-rs.Z
	return m, nil
}
