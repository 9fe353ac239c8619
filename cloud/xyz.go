package cloud

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kwv/icpstep/registration"
)

// LoadXYZ reads a whitespace-separated "x y z" text file.
func LoadXYZ(path string) (registration.PointSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading cloud file: %w", err)
	}
	defer func() { _ = f.Close() }()

	points, err := ReadXYZ(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return points, nil
}

// ReadXYZ parses one point per line. Blank lines and lines starting with '#'
// are skipped; columns after the third (normals, colors) are ignored. Commas
// are accepted as separators.
func ReadXYZ(r io.Reader) (registration.PointSet, error) {
	var points registration.PointSet
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ','
		})
		if len(fields) < 3 {
			return nil, fmt.Errorf("parsing XYZ line %d: want 3 coordinates, got %d", line, len(fields))
		}
		var coords [3]float64
		for i := range coords {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("parsing XYZ line %d: %w", line, err)
			}
			coords[i] = v
		}
		points = append(points, registration.Point{X: coords[0], Y: coords[1], Z: coords[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading XYZ: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("parsing XYZ: %w", ErrNoVertices)
	}
	return points, nil
}
