package cloud

import (
	"fmt"
	"image/color"
	"math"

	"github.com/kwv/icpstep/registration"
	"github.com/paulmach/orb"
)

// Renderer draws point sets and text into numbered viewports.
type Renderer interface {
	Render(points registration.PointSet, c color.RGBA, viewport int)
	Label(lines []string, c color.RGBA, viewport int)
}

// Layer is one colored point set inside a viewport.
type Layer struct {
	Points registration.PointSet
	Color  color.RGBA
}

// Viewport is a vertical slice of the output with its layers and caption.
type Viewport struct {
	Layers  []Layer
	Caption []string
}

// Scene is what the viewer draws: viewports laid out left to right.
type Scene struct {
	Viewports []Viewport
}

var (
	// TransformedColor marks the cloud moved by the initial transform.
	TransformedColor = color.RGBA{20, 180, 20, 255}
	// AlignedColor marks the ICP-aligned cloud.
	AlignedColor = color.RGBA{180, 20, 20, 255}
)

// grayColor returns the gray at level (0 black, 1 white).
func grayColor(level float64) color.RGBA {
	v := uint8(math.Round(255 * math.Max(0, math.Min(1, level))))
	return color.RGBA{v, v, v, 255}
}

// Camera is an orthographic look-at camera aimed at the scene center.
type Camera struct {
	Position registration.Point
	Up       registration.Point
}

// DefaultCamera returns the classic demo's camera.
func DefaultCamera() Camera {
	return Camera{
		Position: registration.Point{X: -3.68332, Y: 2.94092, Z: 5.71266},
		Up:       registration.Point{X: 0.289847, Y: 0.921947, Z: -0.256907},
	}
}

// basis returns the screen right and up unit vectors for a camera looking at
// focal.
func (c Camera) basis(focal registration.Point) (right, up registration.Point) {
	forward := focal.Sub(c.Position)
	if forward.Norm() == 0 {
		forward = registration.Point{Z: -1}
	}
	forward = forward.Scale(1 / forward.Norm())

	viewUp := c.Up
	right = cross(forward, viewUp)
	if right.Norm() < 1e-9 {
		// up is parallel to the view direction
		viewUp = registration.Point{Y: 1}
		right = cross(forward, viewUp)
		if right.Norm() < 1e-9 {
			viewUp = registration.Point{Z: 1}
			right = cross(forward, viewUp)
		}
	}
	right = right.Scale(1 / right.Norm())
	up = cross(right, forward)
	return right, up
}

func cross(a, b registration.Point) registration.Point {
	return registration.Point{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

func dot(a, b registration.Point) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

// projection maps world points to 2D view coordinates (x right, y up) and
// from there into a viewport of the output.
type projection struct {
	focal     registration.Point
	right, up registration.Point
	bound     orb.Bound
}

// newProjection fits the camera to every point of the scene so that all
// viewports share one scale.
func newProjection(cam Camera, scene Scene) projection {
	var all registration.PointSet
	for _, vp := range scene.Viewports {
		for _, l := range vp.Layers {
			all = append(all, l.Points...)
		}
	}

	lo, hi := all.Bounds()
	focal := lo.Add(hi).Scale(0.5)
	right, up := cam.basis(focal)
	p := projection{focal: focal, right: right, up: up}

	mp := make(orb.MultiPoint, len(all))
	for i, pt := range all {
		mp[i] = p.view(pt)
	}
	p.bound = mp.Bound()
	if boundWidth(p.bound) == 0 && boundHeight(p.bound) == 0 {
		p.bound = p.bound.Pad(1)
	}
	return p
}

func boundWidth(b orb.Bound) float64  { return b.Right() - b.Left() }
func boundHeight(b orb.Bound) float64 { return b.Top() - b.Bottom() }

// view projects a world point onto the camera plane.
func (p projection) view(pt registration.Point) orb.Point {
	d := pt.Sub(p.focal)
	return orb.Point{dot(d, p.right), dot(d, p.up)}
}

// viewportFit returns the scale and offset that place the view bound in a
// w x h viewport with the given margin.
func (p projection) viewportFit(w, h, margin float64) (scale float64, center orb.Point) {
	bw, bh := boundWidth(p.bound), boundHeight(p.bound)
	sx := math.Inf(1)
	if bw > 0 {
		sx = (w - 2*margin) / bw
	}
	sy := math.Inf(1)
	if bh > 0 {
		sy = (h - 2*margin) / bh
	}
	scale = math.Min(sx, sy)
	if math.IsInf(scale, 1) || scale <= 0 {
		scale = 1
	}
	return scale, p.bound.Center()
}

// layout places projected points into equally wide viewports, origin at
// the viewport's top-left corner, y pointing down.
type layout struct {
	proj   projection
	scale  float64
	center orb.Point
	vw, h  float64
}

func (v *Viewer) layout(scene Scene) layout {
	n := len(scene.Viewports)
	if n == 0 {
		n = 1
	}
	vw := float64(v.Width) / float64(n)
	h := float64(v.Height)
	proj := newProjection(v.Camera, scene)
	scale, center := proj.viewportFit(vw, h, 0.08*math.Min(vw, h))
	return layout{proj: proj, scale: scale, center: center, vw: vw, h: h}
}

// screen returns the image coordinates of pt inside the given viewport.
func (l layout) screen(pt registration.Point, viewport int) (x, y float64) {
	q := l.proj.view(pt)
	x = float64(viewport)*l.vw + l.vw/2 + (q[0]-l.center[0])*l.scale
	y = l.h/2 - (q[1]-l.center[1])*l.scale
	return x, y
}

// Viewer renders the two-viewport comparison of the stepping session.
type Viewer struct {
	Camera     Camera
	Width      int
	Height     int
	Background float64 // gray level
	PointSize  int
}

// NewViewer creates a viewer from render settings.
func NewViewer(cfg RenderConfig) *Viewer {
	cam := DefaultCamera()
	if cfg.CameraPosition != ([3]float64{}) {
		cam.Position = registration.Point{X: cfg.CameraPosition[0], Y: cfg.CameraPosition[1], Z: cfg.CameraPosition[2]}
	}
	if cfg.ViewUp != ([3]float64{}) {
		cam.Up = registration.Point{X: cfg.ViewUp[0], Y: cfg.ViewUp[1], Z: cfg.ViewUp[2]}
	}
	size := cfg.PointSize
	if size <= 0 {
		size = 1
	}
	return &Viewer{
		Camera:     cam,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Background: cfg.Background,
		PointSize:  size,
	}
}

// TextColor returns the caption color: the inverse gray of the background.
func (v *Viewer) TextColor() color.RGBA {
	return grayColor(1 - v.Background)
}

// Draw sends every layer and caption of the scene to r.
func (v *Viewer) Draw(r Renderer, scene Scene) {
	for i, vp := range scene.Viewports {
		for _, l := range vp.Layers {
			r.Render(l.Points, l.Color, i)
		}
		if len(vp.Caption) > 0 {
			r.Label(vp.Caption, v.TextColor(), i)
		}
	}
}

// ComparisonScene builds the classic two-viewport layout: the original and
// the initially transformed cloud on the left, the original and the ICP
// aligned cloud on the right.
func (v *Viewer) ComparisonScene(original, transformed, aligned registration.PointSet, iterations uint) Scene {
	white := v.TextColor()
	return Scene{Viewports: []Viewport{
		{
			Layers: []Layer{
				{Points: original, Color: white},
				{Points: transformed, Color: TransformedColor},
			},
			Caption: []string{
				"White: Original point cloud",
				"Green: Matrix transformed point cloud",
			},
		},
		{
			Layers: []Layer{
				{Points: original, Color: white},
				{Points: aligned, Color: AlignedColor},
			},
			Caption: []string{
				"White: Original point cloud",
				"Red: ICP aligned point cloud",
				"",
				iterationCaption(iterations),
			},
		},
	}}
}

func iterationCaption(n uint) string {
	return fmt.Sprintf("ICP iterations = %d", n)
}
