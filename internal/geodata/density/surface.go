// Package density accumulates weighted points into S2 cells to produce heatmap
// surfaces: raw point density, demand (presence plus endpoints), emissions and
// slow-traffic congestion cells.
package density

import (
	"errors"
	"fmt"
	"sort"

	"github.com/golang/geo/s2"

	"github.com/banshee-data/geotracks/internal/geodata"
)

// ErrInsufficientData is returned when a surface has no points to render.
// Callers treat it as "no visualization available", not as a failed run.
var ErrInsufficientData = errors.New("insufficient data for density surface")

// Intensity selects the grid resolution. Higher intensity uses smaller cells
// and therefore sharper hotspots.
type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

// S2 levels per intensity. Approximate cell edge: 15 ~280 m, 16 ~140 m, 17 ~70 m.
const (
	LevelLow    = 15
	LevelMedium = 16
	LevelHigh   = 17
)

// ParseIntensity accepts "", "low", "medium" or "high". Empty means medium.
func ParseIntensity(s string) (Intensity, error) {
	switch Intensity(s) {
	case "":
		return IntensityMedium, nil
	case IntensityLow, IntensityMedium, IntensityHigh:
		return Intensity(s), nil
	default:
		return "", fmt.Errorf("invalid intensity %q: must be one of low, medium, high", s)
	}
}

// Level returns the S2 cell level for the intensity.
func (i Intensity) Level() int {
	switch i {
	case IntensityLow:
		return LevelLow
	case IntensityHigh:
		return LevelHigh
	default:
		return LevelMedium
	}
}

// Cell is one populated grid cell of a surface.
type Cell struct {
	Token string  `json:"token"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Count int     `json:"count"`
	// Weight is the accumulated weight of the cell's points.
	Weight float64 `json:"weight"`
	// Intensity is Weight normalised by the heaviest cell, in [0, 1].
	Intensity   float64 `json:"intensity"`
	AvgSpeedKmh float64 `json:"avgSpeedKmh"`

	id s2.CellID
}

type accumulator struct {
	count    int
	weight   float64
	speedSum float64
}

// Grid accumulates weighted observations into S2 cells at a fixed level.
type Grid struct {
	level int
	cells map[s2.CellID]*accumulator
}

// NewGrid creates an empty grid at the given S2 level.
func NewGrid(level int) *Grid {
	if level < 0 {
		level = 0
	}
	if level > s2.MaxLevel {
		level = s2.MaxLevel
	}
	return &Grid{level: level, cells: make(map[s2.CellID]*accumulator)}
}

// Add records one observation with the given weight and speed.
func (g *Grid) Add(lat, lng, weight, speedKmh float64) {
	id := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lng)).Parent(g.level)
	acc := g.cells[id]
	if acc == nil {
		acc = &accumulator{}
		g.cells[id] = acc
	}
	acc.count++
	acc.weight += weight
	acc.speedSum += speedKmh
}

// Len returns the number of populated cells.
func (g *Grid) Len() int { return len(g.cells) }

// Cells returns the populated cells ordered by weight (descending) then cell
// id, with intensities normalised to the heaviest cell.
func (g *Grid) Cells() []Cell {
	out := make([]Cell, 0, len(g.cells))
	maxWeight := 0.0
	for id, acc := range g.cells {
		ll := id.LatLng()
		out = append(out, Cell{
			Token:       id.ToToken(),
			Lat:         ll.Lat.Degrees(),
			Lng:         ll.Lng.Degrees(),
			Count:       acc.count,
			Weight:      acc.weight,
			AvgSpeedKmh: acc.speedSum / float64(acc.count),
			id:          id,
		})
		if acc.weight > maxWeight {
			maxWeight = acc.weight
		}
	}
	if maxWeight > 0 {
		for i := range out {
			w := out[i].Weight / maxWeight
			if w > 1 {
				w = 1
			}
			out[i].Intensity = w
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].id < out[j].id
	})
	return out
}

// PointSurface counts every observation with weight 1.
func PointSurface(points []geodata.GeoPoint, level int) ([]Cell, error) {
	if len(points) == 0 {
		return nil, ErrInsufficientData
	}
	g := NewGrid(level)
	for _, p := range points {
		g.Add(p.Lat, p.Lng, 1, p.SpeedKmh)
	}
	return g.Cells(), nil
}

// Endpoint and presence weights for the demand surface.
const (
	PresenceWeight = 0.5
	EndpointWeight = 1.0
)

// DemandSurface weights every observation by PresenceWeight and adds the
// start and end of every multi-point trajectory with EndpointWeight.
func DemandSurface(trajs []geodata.Trajectory, level int) ([]Cell, error) {
	g := NewGrid(level)
	for _, t := range trajs {
		for _, p := range t.Points {
			g.Add(p.Lat, p.Lng, PresenceWeight, p.SpeedKmh)
		}
		if t.Len() > 1 {
			s, e := t.Start(), t.End()
			g.Add(s.Lat, s.Lng, EndpointWeight, s.SpeedKmh)
			g.Add(e.Lat, e.Lng, EndpointWeight, e.SpeedKmh)
		}
	}
	if g.Len() == 0 {
		return nil, ErrInsufficientData
	}
	return g.Cells(), nil
}

// EndpointSurface builds a surface from one endpoint per multi-point
// trajectory; start selects pickups, otherwise drop-offs.
func EndpointSurface(trajs []geodata.Trajectory, start bool, level int) ([]Cell, error) {
	g := NewGrid(level)
	for _, t := range trajs {
		if t.Len() < 2 {
			continue
		}
		p := t.End()
		if start {
			p = t.Start()
		}
		g.Add(p.Lat, p.Lng, 1, p.SpeedKmh)
	}
	if g.Len() == 0 {
		return nil, ErrInsufficientData
	}
	return g.Cells(), nil
}

// EmissionsSurface attributes each segment's emissions (km x factor) to the
// cell of the segment's end point. Trajectory start points are added with
// zero weight so the surface covers every observation.
func EmissionsSurface(trajs []geodata.Trajectory, kgPerKm float64, level int) ([]Cell, error) {
	g := NewGrid(level)
	for _, t := range trajs {
		for i, p := range t.Points {
			w := 0.0
			if i > 0 {
				w = geodata.HaversineKm(t.Points[i-1], p) * kgPerKm
			}
			g.Add(p.Lat, p.Lng, w, p.SpeedKmh)
		}
	}
	if g.Len() == 0 {
		return nil, ErrInsufficientData
	}
	return g.Cells(), nil
}
