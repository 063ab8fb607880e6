package trainer

import (
	"image/color"
	"os"
	"path/filepath"

	"github.com/Noofbiz/tagger/softf1"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Plot file names written by PlotHistory.
const (
	LossPlotFile = "loss.png"
	WF1PlotFile  = "wf1.png"
)

var palette = []color.RGBA{
	{R: 20, G: 80, B: 200, A: 255},
	{R: 200, G: 30, B: 30, A: 255},
	{R: 40, G: 140, B: 40, A: 255},
}

// PlotHistory writes the loss curves and the per-category weighted F1
// curves of h as PNG images in outDir.
func PlotHistory(outDir string, h *History) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrapf(err, "mkdir %s", outDir)
	}

	p := plot.New()
	p.Title.Text = "model loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"
	if err := addCurves(p, h, LossKey, "train", "val", palette[0]); err != nil {
		return err
	}
	if err := save(p, filepath.Join(outDir, LossPlotFile)); err != nil {
		return err
	}

	p = plot.New()
	p.Title.Text = "model partial weighted f1 score"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "weighted f1 score"
	for i, r := range softf1.Categories() {
		if err := addCurves(p, h, r.MetricName(), r.Name+" train", r.Name+" val", palette[i%len(palette)]); err != nil {
			return err
		}
	}
	return save(p, filepath.Join(outDir, WF1PlotFile))
}

// addCurves draws the train (solid) and validation (dashed) series of metric.
func addCurves(p *plot.Plot, h *History, metric, trainLabel, validLabel string, col color.RGBA) error {
	for _, valid := range []bool{false, true} {
		epochs, values := h.Series(metric, valid)
		if len(values) == 0 {
			continue
		}
		xys := make(plotter.XYs, len(values))
		for i := range values {
			xys[i].X = float64(epochs[i])
			xys[i].Y = values[i]
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return errors.Wrapf(err, "plot %s", metric)
		}
		line.Color = col
		line.Width = vg.Points(1.2)
		label := trainLabel
		if valid {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			label = validLabel
		}
		p.Add(line)
		p.Legend.Add(label, line)
	}
	return nil
}

func save(p *plot.Plot, path string) error {
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.YPosition = draw.PosTop
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}
