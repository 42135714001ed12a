package render

import (
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	_ "gonum.org/v1/plot/font/liberation"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/abworrall/skymodel/pkg/errors"
)

// subsetHistogram counts the subset values over the display range.
func (rc *RenderControl) subsetHistogram() ([]float64, []float64) {
	h := &HistEq{}
	h.SetDataSubset(rc.subsetVals)
	h.SetDataRange(rc.rng.Lo, rc.rng.Hi)
	return h.Histogram()
}

// HistogramPlot writes a PNG with the subset histogram (peak scaled to 1)
// and the current ITF curve across the display range.
func HistogramPlot(rc *RenderControl, filename string) error {
	edges, counts := rc.subsetHistogram()
	if len(counts) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "no data in the display range to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (%s)", rc.subset.Description, rc.ITF().Name())
	p.X.Label.Text = "value"
	p.Y.Label.Text = "relative count / intensity"
	p.Y.Min, p.Y.Max = 0, 1.05
	p.Add(plotter.NewGrid())

	peak := floats.Max(counts)
	hist := make(plotter.XYs, 0, 2*len(counts))
	for i, c := range counts {
		hist = append(hist, plotter.XY{X: edges[i], Y: c / peak}, plotter.XY{X: edges[i+1], Y: c / peak})
	}
	hline, err := plotter.NewLine(hist)
	if err != nil {
		return err
	}
	hline.Color = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	p.Add(hline)

	f := rc.ITF()
	curve := make(plotter.XYs, len(edges))
	for i, x := range edges {
		curve[i] = plotter.XY{X: x, Y: f.Remap(x)}
	}
	cline, err := plotter.NewLine(curve)
	if err != nil {
		return err
	}
	cline.Color = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	cline.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
	p.Add(cline)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, filename); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "can't save histogram %s", filename)
	}
	return nil
}
