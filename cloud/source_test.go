package cloud

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatOf(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"bunny.ply", FormatPLY, false},
		{"/data/Dragon.PLY", FormatPLY, false},
		{"scan.xyz", FormatXYZ, false},
		{"scan.txt", FormatXYZ, false},
		{"scan.csv", FormatXYZ, false},
		{"http://example.com/clouds/bunny.ply?rev=3", FormatPLY, false},
		{"https://example.com/points.xyz#frag", FormatXYZ, false},
		{"mesh.obj", "", true},
		{"noextension", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatOf(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadCloud(t *testing.T) {
	points, err := ReadCloud(FormatXYZ, strings.NewReader("1 2 3\n"))
	require.NoError(t, err)
	assert.Len(t, points, 1)

	points, err = ReadCloud(FormatPLY, strings.NewReader(cubePLY))
	require.NoError(t, err)
	assert.Len(t, points, 8)

	_, err = ReadCloud(Format("obj"), strings.NewReader(""))
	assert.Error(t, err)
}

func TestLoadCloud(t *testing.T) {
	ctx := context.Background()

	ply := writeFile(t, "cube.ply", cubePLY)
	points, err := LoadCloud(ctx, SourceConfig{Path: ply})
	require.NoError(t, err)
	assert.Len(t, points, 8)

	xyz := writeFile(t, "cloud.txt", "0 0 0\n1 1 1\n")
	points, err = LoadCloud(ctx, SourceConfig{Path: xyz})
	require.NoError(t, err)
	assert.Len(t, points, 2)

	_, err = LoadCloud(ctx, SourceConfig{})
	assert.Error(t, err)

	_, err = LoadCloud(ctx, SourceConfig{Path: "model.stl"})
	assert.Error(t, err)
}
