package cloud

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chenzhekl/goply"
	"github.com/kwv/icpstep/registration"
)

// ErrNoVertices is returned when a cloud file contains no points.
var ErrNoVertices = errors.New("cloud has no vertices")

// LoadPLY reads the vertex positions of an ASCII PLY file.
func LoadPLY(path string) (registration.PointSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading cloud file: %w", err)
	}
	defer func() { _ = f.Close() }()

	points, err := ReadPLY(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return points, nil
}

// ReadPLY parses an ASCII PLY stream and returns the x, y, z properties of its
// vertex elements in file order. Other elements and properties are ignored.
func ReadPLY(r io.Reader) (points registration.PointSet, err error) {
	// goply reports malformed input by panicking
	defer func() {
		if rec := recover(); rec != nil {
			points = nil
			err = fmt.Errorf("parsing PLY: %v", rec)
		}
	}()

	body, err := dropBlankLines(r)
	if err != nil {
		return nil, fmt.Errorf("reading PLY: %w", err)
	}

	ply := goply.New(body)
	vertices := ply.Elements("vertex")
	if len(vertices) == 0 {
		return nil, fmt.Errorf("parsing PLY: %w", ErrNoVertices)
	}

	points = make(registration.PointSet, len(vertices))
	for i, v := range vertices {
		x, okX := plyFloat(v.Property("x"))
		y, okY := plyFloat(v.Property("y"))
		z, okZ := plyFloat(v.Property("z"))
		if !okX || !okY || !okZ {
			return nil, fmt.Errorf("parsing PLY: vertex %d lacks numeric x, y, z", i)
		}
		points[i] = registration.Point{X: x, Y: y, Z: z}
	}
	return points, nil
}

// dropBlankLines removes empty lines, which goply rejects anywhere in the
// file, including a trailing one.
func dropBlankLines(r io.Reader) (io.Reader, error) {
	var buf bytes.Buffer
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// plyFloat converts any scalar PLY property value to float64.
func plyFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int8:
		return float64(n), true
	case uint8:
		return float64(n), true
	case int16:
		return float64(n), true
	case uint16:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}
