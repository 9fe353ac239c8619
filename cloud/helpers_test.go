package cloud

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/kwv/icpstep/registration"
	"github.com/stretchr/testify/require"
)

// sampleCloud returns n well-spread points filling a 4x2x1 box.
func sampleCloud(n int) registration.PointSet {
	points := make(registration.PointSet, n)
	for i := range points {
		a := math.Mod(float64(i)*0.6180339887498949, 1)
		b := math.Mod(float64(i)*0.7548776662466927, 1)
		c := math.Mod(float64(i)*0.5698402909980532, 1)
		points[i] = registration.Point{X: 4 * a, Y: 2 * b, Z: c}
	}
	return points
}

// writeFile writes content into a file under a fresh temp dir.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const cubePLY = `ply
format ascii 1.0
comment unit cube corners
element vertex 8
property float x
property float y
property float z
property uchar red
element face 1
property list uchar int vertex_index
end_header
0 0 0 255
0 0 1 255
0 1 1 255
0 1 0 255
1 0 0 255
1 0 1 255
1 1 1 255
1 1 0 255
4 0 1 2 3
`
