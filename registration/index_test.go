package registration

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIndexEmpty(t *testing.T) {
	_, err := BuildIndex(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = NewLinearIndex(PointSet{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestNearestOnNilIndex(t *testing.T) {
	var ix *Index
	_, _, err := ix.Nearest(Point{})
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Zero(t, ix.Len())

	var li *LinearIndex
	_, _, err = li.Nearest(Point{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestIndexMatchesLinearScan(t *testing.T) {
	target := boxCloud(500)
	kd, err := BuildIndex(target)
	require.NoError(t, err)
	lin, err := NewLinearIndex(target)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		q := Point{
			X: rng.Float64()*5 - 0.5,
			Y: rng.Float64()*3 - 0.5,
			Z: rng.Float64()*2 - 0.5,
		}
		ki, kd2, err := kd.Nearest(q)
		require.NoError(t, err)
		li, ld2, err := lin.Nearest(q)
		require.NoError(t, err)

		if ki != li || kd2 != ld2 {
			t.Fatalf("query %+v: kd-tree (%d, %g), linear (%d, %g)", q, ki, kd2, li, ld2)
		}
	}
}

func TestNearestExactHit(t *testing.T) {
	target := boxCloud(100)
	ix, err := BuildIndex(target)
	require.NoError(t, err)

	for i, p := range target {
		got, d, err := ix.Nearest(p)
		require.NoError(t, err)
		assert.Equal(t, i, got)
		assert.Zero(t, d)
	}
}

func TestNearestTieBreaksToLowestIndex(t *testing.T) {
	tests := []struct {
		name   string
		target PointSet
		query  Point
		want   int
	}{
		{
			name:   "duplicates",
			target: PointSet{{X: 5}, {X: 1}, {X: 9}, {X: 1}, {X: 1}},
			query:  Point{X: 1},
			want:   1,
		},
		{
			name:   "equidistant pair",
			target: PointSet{{X: 1}, {X: -1}},
			query:  Point{},
			want:   0,
		},
		{
			name:   "equidistant pair reversed",
			target: PointSet{{X: -1}, {X: 1}},
			query:  Point{},
			want:   0,
		},
		{
			name:   "cube corners from center",
			target: centeredCube(),
			query:  Point{},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kd, err := BuildIndex(tt.target)
			require.NoError(t, err)
			got, _, err := kd.Nearest(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			lin, err := NewLinearIndex(tt.target)
			require.NoError(t, err)
			got, _, err = lin.Nearest(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildIndexCopiesTarget(t *testing.T) {
	target := PointSet{{X: 0}, {X: 10}}
	ix, err := BuildIndex(target)
	require.NoError(t, err)

	target[0] = Point{X: 100}
	got, d, err := ix.Nearest(Point{X: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, got)
	assert.InDelta(t, 1.0, d, 1e-12)
	assert.Equal(t, Point{X: 0}, ix.Points()[0])
	assert.Equal(t, 2, ix.Len())
}
