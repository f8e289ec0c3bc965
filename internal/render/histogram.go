package render

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/geotracks/internal/units"
)

// ErrNoSpeeds is returned when there is nothing to plot.
var ErrNoSpeeds = errors.New("no speed samples to plot")

// Histogram image size.
const (
	histWidth  = 10 * vg.Inch
	histHeight = 5 * vg.Inch
)

// DefaultHistogramBins is the bin count used when the caller passes 0.
const DefaultHistogramBins = 30

// SpeedHistogram builds a histogram of speeds given in km/h, plotted in unit
// (one of units.ValidUnits; empty means km/h).
func SpeedHistogram(speeds []float64, bins int, title, unit string) (*plot.Plot, error) {
	if len(speeds) == 0 {
		return nil, ErrNoSpeeds
	}
	if bins <= 0 {
		bins = DefaultHistogramBins
	}
	if unit == "" {
		unit = units.KMPH
	}
	if !units.IsValid(unit) {
		return nil, fmt.Errorf("invalid speed unit %q, expected one of %s", unit, units.GetValidUnitsString())
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Speed (" + units.Label(unit) + ")"
	p.Y.Label.Text = "Points"

	values := make(plotter.Values, len(speeds))
	for i, v := range speeds {
		values[i] = units.FromKMPH(v, unit)
	}
	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return nil, fmt.Errorf("build histogram: %w", err)
	}
	h.FillColor = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	h.LineStyle.Width = vg.Points(0.5)
	p.Add(h)
	return p, nil
}

// WriteSpeedHistogramPNG renders the speed histogram as PNG to w.
func WriteSpeedHistogramPNG(w io.Writer, speeds []float64, bins int, title, unit string) error {
	p, err := SpeedHistogram(speeds, bins, title, unit)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(histWidth, histHeight, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

// SaveSpeedHistogram writes the histogram to path; the format follows the
// file extension (png, svg, pdf).
func SaveSpeedHistogram(path string, speeds []float64, bins int, title, unit string) error {
	p, err := SpeedHistogram(speeds, bins, title, unit)
	if err != nil {
		return err
	}
	if err := p.Save(histWidth, histHeight, path); err != nil {
		return fmt.Errorf("save histogram %s: %w", path, err)
	}
	return nil
}
