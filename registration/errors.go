package registration

import "errors"

var (
	// ErrEmptyInput is returned when an index is built over, or queried
	// against, zero points, or when the source set is empty.
	ErrEmptyInput = errors.New("registration: empty point set")

	// ErrDegenerateCorrespondence is returned when the correspondence set
	// cannot determine a rotation: fewer than 3 pairs, or pairs whose
	// cross-covariance has rank below 2 (collinear or coincident points).
	ErrDegenerateCorrespondence = errors.New("registration: degenerate correspondence set")
)
