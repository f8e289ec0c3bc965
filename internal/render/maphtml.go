// Package render turns analysis results into files a person can open: an
// HTML page of go-echarts charts for a map specification and a PNG speed
// histogram.
package render

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/geotracks/internal/geodata/mapspec"
	"github.com/banshee-data/geotracks/internal/geodata/stats"
)

// ErrEmptyMap is returned when a map specification has no layers to draw.
var ErrEmptyMap = errors.New("map has no layers")

// Chart size for every panel on the page.
const (
	chartWidth  = "900px"
	chartHeight = "700px"
)

// viridis is used for heat layers that carry no palette of their own.
var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// bounds is a lng/lat extent used to give every panel the same axes.
type bounds struct {
	minLng, minLat, maxLng, maxLat float64
}

func (b *bounds) extend(lat, lng float64) {
	b.minLat = math.Min(b.minLat, lat)
	b.maxLat = math.Max(b.maxLat, lat)
	b.minLng = math.Min(b.minLng, lng)
	b.maxLng = math.Max(b.maxLng, lng)
}

// padded widens the extent by 5% (at least ~100 m) on each side.
func (b bounds) padded() bounds {
	padLat := math.Max((b.maxLat-b.minLat)*0.05, 0.001)
	padLng := math.Max((b.maxLng-b.minLng)*0.05, 0.001)
	return bounds{b.minLng - padLng, b.minLat - padLat, b.maxLng + padLng, b.maxLat + padLat}
}

func specBounds(s *mapspec.Spec) bounds {
	b := bounds{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, l := range s.Layers {
		for _, p := range l.HeatPoints {
			b.extend(p.Lat, p.Lng)
		}
		for _, pl := range l.Polylines {
			for _, p := range pl.Path {
				b.extend(p.Lat, p.Lng)
			}
		}
		for _, m := range l.Markers {
			b.extend(m.Lat, m.Lng)
		}
		for _, sg := range l.Segments {
			b.extend(sg.From.Lat, sg.From.Lng)
			b.extend(sg.To.Lat, sg.To.Lng)
		}
	}
	if math.IsInf(b.minLat, 0) {
		b = bounds{s.Center.Lng, s.Center.Lat, s.Center.Lng, s.Center.Lat}
	}
	return b.padded()
}

// MapPage builds the go-echarts page for a map specification: one panel per
// layer on shared lng/lat axes, followed by a speed percentile chart when a
// summary is given. Chart ids are derived from the layer index so the output
// is stable for a given input.
func MapPage(s *mapspec.Spec, summary *stats.Summary) (*components.Page, error) {
	if len(s.Layers) == 0 && summary == nil {
		return nil, ErrEmptyMap
	}
	b := specBounds(s)

	page := components.NewPage()
	page.PageTitle = pageTitle(s)
	for i, l := range s.Layers {
		initOpts := opts.Initialization{
			PageTitle: page.PageTitle,
			Width:     chartWidth,
			Height:    chartHeight,
			ChartID:   fmt.Sprintf("layer_%d", i),
		}
		switch l.Kind {
		case mapspec.KindHeatmap:
			page.AddCharts(heatChart(initOpts, l, b))
		case mapspec.KindPolylines:
			page.AddCharts(polylineChart(initOpts, l, b))
		case mapspec.KindMarkers:
			page.AddCharts(markerChart(initOpts, l, b))
		case mapspec.KindSegments:
			page.AddCharts(segmentChart(initOpts, l, b))
		}
	}
	if summary != nil {
		page.AddCharts(percentileChart(summary))
	}
	return page, nil
}

// WriteMapHTML renders MapPage to w.
func WriteMapHTML(w io.Writer, s *mapspec.Spec, summary *stats.Summary) error {
	page, err := MapPage(s, summary)
	if err != nil {
		return err
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render map page: %w", err)
	}
	return nil
}

func pageTitle(s *mapspec.Spec) string {
	if s.Title != "" {
		return s.Title
	}
	return "Geodata analysis: " + s.AnalysisType
}

func axisOpts(b bounds) []charts.GlobalOpts {
	return []charts.GlobalOpts{
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: b.minLng, Max: b.maxLng, Name: "Longitude", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: b.minLat, Max: b.maxLat, Name: "Latitude", NameLocation: "middle", NameGap: 40}),
	}
}

func paletteColors(p []mapspec.Gradient) []string {
	if len(p) == 0 {
		return viridis
	}
	out := make([]string, len(p))
	for i, g := range p {
		out[i] = g.Color
	}
	return out
}

func heatChart(initOpts opts.Initialization, l mapspec.Layer, b bounds) *charts.Scatter {
	data := make([]opts.ScatterData, len(l.HeatPoints))
	for i, p := range l.HeatPoints {
		data[i] = opts.ScatterData{Value: []interface{}{p.Lng, p.Lat, p.Weight}}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(append(axisOpts(b),
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: l.Name, Subtitle: fmt.Sprintf("cells=%d", len(data))}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: paletteColors(l.Palette)},
		}),
	)...)
	scatter.AddSeries(l.Name, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}

func polylineChart(initOpts opts.Initialization, l mapspec.Layer, b bounds) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(append(axisOpts(b),
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: l.Name, Subtitle: fmt.Sprintf("paths=%d", len(l.Polylines))}),
	)...)
	for _, pl := range l.Polylines {
		data := make([]opts.LineData, len(pl.Path))
		for i, p := range pl.Path {
			data[i] = opts.LineData{Value: []interface{}{p.Lng, p.Lat}}
		}
		line.AddSeries(pl.ID, data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: pl.Color}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: pl.Color}),
		)
	}
	return line
}

func markerChart(initOpts opts.Initialization, l mapspec.Layer, b bounds) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(append(axisOpts(b),
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: l.Name, Subtitle: fmt.Sprintf("markers=%d", len(l.Markers))}),
	)...)

	byColor := make(map[string][]opts.ScatterData)
	for _, m := range l.Markers {
		byColor[m.Color] = append(byColor[m.Color], opts.ScatterData{
			Name:  m.Label,
			Value: []interface{}{m.Lng, m.Lat, m.Count},
		})
	}
	for _, c := range sortedKeys(byColor) {
		scatter.AddSeries(l.Name, byColor[c],
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: c}),
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top", Formatter: "{b}"}),
		)
	}
	return scatter
}

// segmentChart draws each segment as its midpoint, one series per color.
func segmentChart(initOpts opts.Initialization, l mapspec.Layer, b bounds) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(append(axisOpts(b),
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: l.Name, Subtitle: fmt.Sprintf("segments=%d", len(l.Segments))}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)...)

	byColor := make(map[string][]opts.ScatterData)
	for _, sg := range l.Segments {
		lng := (sg.From.Lng + sg.To.Lng) / 2
		lat := (sg.From.Lat + sg.To.Lat) / 2
		byColor[sg.Color] = append(byColor[sg.Color], opts.ScatterData{Value: []interface{}{lng, lat, sg.Value}})
	}
	for _, c := range sortedKeys(byColor) {
		scatter.AddSeries(c, byColor[c],
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: c}),
		)
	}
	return scatter
}

func percentileChart(s *stats.Summary) *charts.Bar {
	x := []string{"25th", "50th", "75th", "95th", "max"}
	y := []opts.BarData{
		{Value: s.SpeedPercentiles.P25},
		{Value: s.SpeedPercentiles.P50},
		{Value: s.SpeedPercentiles.P75},
		{Value: s.SpeedPercentiles.P95},
		{Value: s.MaxSpeed},
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: "400px", ChartID: "speed_percentiles"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Speed percentiles (km/h)",
			Subtitle: fmt.Sprintf("records=%d vehicles=%d distance=%.2f km", s.TotalRecords, s.UniqueVehicles, s.TotalDistanceKm),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("speed", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
