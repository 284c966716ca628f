// Package report renders test-stage results as a chart.
package report

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"countwatch/internal/model"
)

var errNoResults = errors.New("no results to plot")

// WriteTestChart draws fileCount and the prediction for step as lines and the
// anomaly score, scaled to the value range, as a scatter. The image format
// follows the extension of path.
func WriteTestChart(path string, results []model.Result, step int) error {
	if len(results) == 0 {
		return errNoResults
	}
	actual := make(plotter.XYs, 0, len(results))
	predicted := make(plotter.XYs, 0, len(results))
	anomaly := make(plotter.XYs, 0, len(results))

	maxValue := 1.0
	for _, res := range results {
		if v := float64(res.Record.FileCount); v > maxValue {
			maxValue = v
		}
	}
	for i, res := range results {
		x := float64(i)
		actual = append(actual, plotter.XY{X: x, Y: float64(res.Record.FileCount)})
		// predictions are for the next record
		if v, ok := res.Inferences.BestPrediction(step); ok {
			predicted = append(predicted, plotter.XY{X: x + float64(step), Y: v})
		}
		anomaly = append(anomaly, plotter.XY{X: x, Y: res.Inferences.AnomalyScore * maxValue})
	}

	p := plot.New()
	p.Title.Text = "fileCount: actual (grey), predicted (blue), anomaly (red)"
	p.X.Label.Text = "record"
	p.Y.Label.Text = "fileCount"
	p.Add(plotter.NewGrid())

	al, err := plotter.NewLine(actual)
	if err != nil {
		return err
	}
	al.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	al.Width = vg.Points(1)
	p.Add(al)
	p.Legend.Add("actual", al)

	if len(predicted) > 0 {
		pl, err := plotter.NewLine(predicted)
		if err != nil {
			return err
		}
		pl.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
		pl.Width = vg.Points(1)
		p.Add(pl)
		p.Legend.Add("predicted", pl)
	}

	as, err := plotter.NewScatter(anomaly)
	if err != nil {
		return err
	}
	as.GlyphStyle.Color = color.RGBA{R: 200, G: 30, B: 30, A: 180}
	as.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(as)
	p.Legend.Add("anomaly (scaled)", as)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}
