package report

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/brewer"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/psantana5/farmsim/pkg/simulation"
)

const (
	chartWidth  = 9 * vg.Inch
	chartHeight = 6 * vg.Inch
)

// Chart plots every repetition's utilization (solid) and completion (dashed)
// series against the cycle number
func Chart(results []*simulation.Result) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Render Farm Utilization and Completion"
	p.X.Label.Text = "Cycle"
	p.Y.Label.Text = "Percent"
	p.Y.Min = 0
	p.Y.Max = 100

	p.Title.TextStyle.Color = color.Gray{128}
	p.X.Label.TextStyle.Color = color.Gray{128}
	p.Y.Label.TextStyle.Color = color.Gray{128}
	p.Legend.TextStyle.Color = color.Gray{128}
	p.Legend.Top = true
	p.Legend.Padding = 1 * vg.Millimeter
	p.Add(plotter.NewGrid())

	if len(results) == 0 {
		return p, nil
	}

	// Paired has between 3 and 12 colors; repetitions beyond that reuse them
	palette, err := brewer.GetPalette(brewer.TypeQualitative, "Paired", min(max(len(results), 3), 12))
	if err != nil {
		return nil, fmt.Errorf("failed to load palette: %w", err)
	}
	colors := palette.Colors()

	for i, r := range results {
		if r.Cycles() == 0 {
			continue
		}
		c := colors[i%len(colors)]

		util, err := plotter.NewLine(seriesXYs(r.UtilizationSeries))
		if err != nil {
			return nil, fmt.Errorf("repetition %d utilization: %w", r.Repetition, err)
		}
		util.Color = c
		util.Width = vg.Points(1)

		done, err := plotter.NewLine(seriesXYs(r.CompletionSeries))
		if err != nil {
			return nil, fmt.Errorf("repetition %d completion: %w", r.Repetition, err)
		}
		done.Color = c
		done.Width = vg.Points(1)
		done.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

		p.Add(util, done)
		p.Legend.Add(fmt.Sprintf("rep %d utilization", r.Repetition), util)
		p.Legend.Add(fmt.Sprintf("rep %d completion", r.Repetition), done)
	}
	return p, nil
}

// WriteChartPNG renders the chart for results as PNG into w
func WriteChartPNG(w io.Writer, results []*simulation.Result) error {
	p, err := Chart(results)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(chartWidth, chartHeight, "png")
	if err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write chart: %w", err)
	}
	return nil
}

// SaveChart writes the chart to path; the format follows the extension
func SaveChart(path string, results []*simulation.Result) error {
	p, err := Chart(results)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create chart directory: %w", err)
	}
	if err := p.Save(chartWidth, chartHeight, path); err != nil {
		return fmt.Errorf("failed to save chart: %w", err)
	}
	return nil
}

func seriesXYs(series []float64) plotter.XYs {
	pts := make(plotter.XYs, len(series))
	for i, v := range series {
		pts[i].X = float64(i + 1)
		pts[i].Y = v
	}
	return pts
}
