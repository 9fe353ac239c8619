package cloud

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/kwv/icpstep/registration"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoHistory is returned when there is nothing to plot yet.
var ErrNoHistory = errors.New("no iterations recorded")

// PlotFitness writes a PNG line chart of fitness per iteration.
func PlotFitness(w io.Writer, history []registration.IterationReport) error {
	p, err := fitnessPlot(history)
	if err != nil {
		return err
	}

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("creating plot writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("writing plot: %w", err)
	}
	return nil
}

// SaveFitnessPlot writes the chart to a file; the format follows the
// extension (.png, .svg, .pdf).
func SaveFitnessPlot(path string, history []registration.IterationReport) error {
	p, err := fitnessPlot(history)
	if err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

func fitnessPlot(history []registration.IterationReport) (*plot.Plot, error) {
	if len(history) == 0 {
		return nil, ErrNoHistory
	}

	pts := make(plotter.XYs, 0, len(history))
	for _, r := range history {
		pts = append(pts, plotter.XY{X: float64(r.Iteration), Y: r.Fitness})
	}

	p := plot.New()
	p.Title.Text = "ICP fitness"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "mean squared distance"

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, fmt.Errorf("building fitness line: %w", err)
	}
	line.Color = AlignedColor
	line.Width = vg.Points(1)
	points.Color = color.RGBA{A: 255}
	points.Radius = vg.Points(1.5)

	p.Add(line, points)
	p.Legend.Add("fitness", line, points)
	p.Legend.Top = true
	return p, nil
}
