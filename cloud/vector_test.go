package cloud

import (
	"bytes"
	"image/png"
	"strings"
	"testing"
)

func TestRenderSVG(t *testing.T) {
	v := testViewer()

	var buf bytes.Buffer
	if err := v.RenderSVG(&buf, demoScene(v)); err != nil {
		t.Fatalf("RenderSVG() error: %v", err)
	}

	svg := buf.String()
	if !strings.Contains(svg, "<svg") {
		t.Error("output does not contain <svg tag")
	}
	if !strings.Contains(svg, "path") {
		t.Error("output does not contain path elements")
	}
}

func TestRenderSVG_EmptyScene(t *testing.T) {
	v := testViewer()

	var buf bytes.Buffer
	if err := v.RenderSVG(&buf, Scene{}); err != nil {
		t.Fatalf("RenderSVG() error: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("SVG output is empty")
	}
}

func TestRenderVectorPNG(t *testing.T) {
	v := testViewer()

	var buf bytes.Buffer
	if err := v.RenderVectorPNG(&buf, demoScene(v), 2); err != nil {
		t.Fatalf("RenderVectorPNG() error: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("failed to decode PNG: %v", err)
	}
	b := img.Bounds()
	if b.Dx() <= v.Width || b.Dy() <= v.Height {
		t.Errorf("supersampled PNG is %dx%d, want larger than %dx%d", b.Dx(), b.Dy(), v.Width, v.Height)
	}
}
