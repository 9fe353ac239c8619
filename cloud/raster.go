package cloud

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/kwv/icpstep/registration"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	captionX       = 10
	captionTop     = 15
	captionLeading = 15
)

// rasterRenderer draws into an RGBA image.
type rasterRenderer struct {
	img       *image.RGBA
	layout    layout
	pointSize int
}

// Render draws each point as a filled square.
func (r *rasterRenderer) Render(points registration.PointSet, c color.RGBA, viewport int) {
	for _, p := range points {
		x, y := r.layout.screen(p, viewport)
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		drawSquare(r.img, int(math.Round(x)), int(math.Round(y)), r.pointSize, c)
	}
}

// Label writes the caption lines in the viewport's top-left corner.
func (r *rasterRenderer) Label(lines []string, c color.RGBA, viewport int) {
	x := int(float64(viewport)*r.layout.vw) + captionX
	for i, line := range lines {
		if line == "" {
			continue
		}
		drawText(r.img, x, captionTop+i*captionLeading, line, c)
	}
}

// Rasterize renders the scene into a new image of the viewer's size.
func (v *Viewer) Rasterize(scene Scene) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, v.Width, v.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(grayColor(v.Background)), image.Point{}, draw.Src)

	l := v.layout(scene)
	// viewport dividers
	divider := grayColor(0.5)
	for i := 1; i < len(scene.Viewports); i++ {
		x := int(float64(i) * l.vw)
		for y := 0; y < v.Height; y++ {
			img.Set(x, y, divider)
		}
	}

	v.Draw(&rasterRenderer{img: img, layout: l, pointSize: v.PointSize}, scene)
	return img
}

// RenderPNG writes the scene as a PNG.
func (v *Viewer) RenderPNG(w io.Writer, scene Scene) error {
	if err := png.Encode(w, v.Rasterize(scene)); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return nil
}

// SavePNG renders the scene to a PNG file.
func (v *Viewer) SavePNG(path string, scene Scene) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return v.RenderPNG(f, scene)
}

// drawSquare draws a filled square centered on (cx, cy), clipped to the image.
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	b := img.Bounds()
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := cx+dx, cy+dy
			if x >= b.Min.X && x < b.Max.X && y >= b.Min.Y && y < b.Max.Y {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// drawText renders text onto an image with its baseline at y.
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
