package density

import (
	"github.com/banshee-data/geotracks/internal/geodata"
	"github.com/banshee-data/geotracks/internal/geodata/stats"
)

// Congestion defaults.
const (
	DefaultCongestionSpeedKmh  = 20.0
	DefaultCongestionMinPoints = 5
	// FreeFlowSpeedKmh is the speed at which congestion weight reaches zero.
	FreeFlowSpeedKmh = 100.0
	// MinCongestionWeight drops points that are close to free flow from the
	// congestion heatmap.
	MinCongestionWeight = 0.3
)

// CongestionParams selects slow cells.
type CongestionParams struct {
	SpeedThresholdKmh float64
	MinPoints         int
}

// CongestionCells reuses the point density grid but keeps cells whose average
// speed is below the threshold and that hold at least MinPoints observations.
func CongestionCells(points []geodata.GeoPoint, level int, params CongestionParams) []Cell {
	if params.MinPoints < 1 {
		params.MinPoints = 1
	}
	cells, err := PointSurface(points, level)
	if err != nil {
		return nil
	}
	var out []Cell
	for _, c := range cells {
		if c.AvgSpeedKmh < params.SpeedThresholdKmh && c.Count >= params.MinPoints {
			out = append(out, c)
		}
	}
	return out
}

// CongestionWeight maps a speed to a heat weight: 1 at standstill, falling to
// 0 at FreeFlowSpeedKmh.
func CongestionWeight(speedKmh float64) float64 {
	norm := speedKmh / FreeFlowSpeedKmh
	if norm > 1 {
		norm = 1
	}
	if norm < 0 {
		norm = 0
	}
	return 1 - norm
}

// RouteDensity classifies cells by count: high above the 75th percentile of
// cell counts, medium above the 50th, low for any populated cell. The classes
// are cumulative.
type RouteDensity struct {
	HighDensityCells   int `json:"highDensityCells"`
	MediumDensityCells int `json:"mediumDensityCells"`
	LowDensityCells    int `json:"lowDensityCells"`
}

// ClassifyRouteDensity computes RouteDensity for a surface.
func ClassifyRouteDensity(cells []Cell) RouteDensity {
	if len(cells) == 0 {
		return RouteDensity{}
	}
	counts := make([]float64, len(cells))
	for i, c := range cells {
		counts[i] = float64(c.Count)
	}
	q := stats.Percentiles(counts, []float64{0.5, 0.75})

	var rd RouteDensity
	for _, v := range counts {
		if v > q[0.75] {
			rd.HighDensityCells++
		}
		if v > q[0.5] {
			rd.MediumDensityCells++
		}
		if v > 0 {
			rd.LowDensityCells++
		}
	}
	return rd
}
