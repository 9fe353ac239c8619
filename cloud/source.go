package cloud

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/kwv/icpstep/registration"
)

// Format is a point cloud file format.
type Format string

const (
	FormatPLY Format = "ply"
	FormatXYZ Format = "xyz"
)

// formatOf picks the format from a file name or URL path.
func formatOf(name string) (Format, error) {
	p := name
	if u, err := url.Parse(name); err == nil && u.Scheme != "" && u.Path != "" {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".ply":
		return FormatPLY, nil
	case ".xyz", ".txt", ".csv":
		return FormatXYZ, nil
	default:
		return "", fmt.Errorf("unsupported cloud format: %q", name)
	}
}

// ReadCloud parses a point cloud stream in the given format.
func ReadCloud(format Format, r io.Reader) (registration.PointSet, error) {
	switch format {
	case FormatPLY:
		return ReadPLY(r)
	case FormatXYZ:
		return ReadXYZ(r)
	default:
		return nil, fmt.Errorf("unsupported cloud format: %q", format)
	}
}

// LoadCloud loads the cloud named by src from disk or over HTTP.
func LoadCloud(ctx context.Context, src SourceConfig, opts ...FetchOption) (registration.PointSet, error) {
	if src.URL != "" {
		return FetchCloud(ctx, src.URL, opts...)
	}
	if src.Path == "" {
		return nil, fmt.Errorf("load cloud: no path or url")
	}

	format, err := formatOf(src.Path)
	if err != nil {
		return nil, fmt.Errorf("load cloud: %w", err)
	}
	switch format {
	case FormatPLY:
		return LoadPLY(src.Path)
	default:
		return LoadXYZ(src.Path)
	}
}
