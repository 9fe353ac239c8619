package cloud

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/kwv/icpstep/registration"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

const swatchSize = 12.0

// canvasRenderer is implemented by the svg and rasterizer renderers.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// vectorRenderer draws the scene as canvas paths. Canvas coordinates have
// their origin bottom-left with y up, so screen y is flipped.
type vectorRenderer struct {
	out       canvasRenderer
	layout    layout
	pointSize float64

	// colors drawn per viewport, used for the legend
	colors map[int][]color.RGBA
}

// Render emits one path per layer with a small square per point.
func (r *vectorRenderer) Render(points registration.PointSet, c color.RGBA, viewport int) {
	if len(points) == 0 {
		return
	}
	half := r.pointSize / 2
	path := &canvas.Path{}
	for _, p := range points {
		x, y := r.layout.screen(p, viewport)
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		y = r.layout.h - y
		path.MoveTo(x-half, y-half)
		path.LineTo(x+half, y-half)
		path.LineTo(x+half, y+half)
		path.LineTo(x-half, y+half)
		path.Close()
	}

	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: c}
	style.Stroke = canvas.Paint{Color: canvas.Transparent}
	r.out.RenderPath(path, style, canvas.Identity)

	r.colors[viewport] = append(r.colors[viewport], c)
}

// Label draws a color swatch per layer. Text needs a font face, which the
// vector output does without.
func (r *vectorRenderer) Label(_ []string, c color.RGBA, viewport int) {
	x := float64(viewport)*r.layout.vw + captionX
	for i, fill := range r.colors[viewport] {
		y := r.layout.h - float64(captionTop+i*captionLeading)
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: fill}
		style.Stroke = canvas.Paint{Color: c}
		style.StrokeWidth = 1
		swatch := canvas.Rectangle(swatchSize, swatchSize).Translate(x, y-swatchSize/2)
		r.out.RenderPath(swatch, style, canvas.Identity)
	}
}

// renderToCanvas draws background, dividers and scene onto out (shared logic
// for SVG and PNG).
func (v *Viewer) renderToCanvas(out canvasRenderer, scene Scene) {
	width, height := float64(v.Width), float64(v.Height)

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: grayColor(v.Background)}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	out.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	l := v.layout(scene)
	dividerStyle := canvas.DefaultStyle
	dividerStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	dividerStyle.Stroke = canvas.Paint{Color: grayColor(0.5)}
	dividerStyle.StrokeWidth = 1
	for i := 1; i < len(scene.Viewports); i++ {
		x := float64(i) * l.vw
		divider := &canvas.Path{}
		divider.MoveTo(x, 0)
		divider.LineTo(x, height)
		out.RenderPath(divider, dividerStyle, canvas.Identity)
	}

	v.Draw(&vectorRenderer{
		out:       out,
		layout:    l,
		pointSize: float64(v.PointSize),
		colors:    make(map[int][]color.RGBA),
	}, scene)
}

// RenderSVG writes the scene as an SVG document, one canvas unit per pixel.
func (v *Viewer) RenderSVG(w io.Writer, scene Scene) error {
	svgRenderer := svg.New(w, float64(v.Width), float64(v.Height), nil)
	v.renderToCanvas(svgRenderer, scene)
	return svgRenderer.Close()
}

// RenderVectorPNG rasterizes the vector rendition at the given number of
// pixels per canvas unit. Captions are reduced to legend swatches as in the
// SVG output.
func (v *Viewer) RenderVectorPNG(w io.Writer, scene Scene, pixelsPerUnit float64) error {
	if pixelsPerUnit <= 0 {
		pixelsPerUnit = 1
	}
	rast := rasterizer.New(float64(v.Width), float64(v.Height), canvas.DPMM(pixelsPerUnit), canvas.DefaultColorSpace)
	v.renderToCanvas(rast, scene)
	return png.Encode(w, rast)
}
