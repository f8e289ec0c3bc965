// Package mapspec describes a renderable map: weighted heat points, polylines,
// markers and colored segments with styling hints. It carries no rendering
// logic; internal/render and ToGeoJSON consume it.
package mapspec

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// LayerKind identifies the geometry carried by a layer.
type LayerKind string

const (
	KindHeatmap   LayerKind = "heatmap"
	KindPolylines LayerKind = "polylines"
	KindMarkers   LayerKind = "markers"
	KindSegments  LayerKind = "segments"
)

// LatLng is a coordinate pair in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HeatPoint is a weighted heatmap sample with Weight in [0, 1].
type HeatPoint struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Weight float64 `json:"weight"`
}

// Polyline is a styled path, typically one vehicle trajectory.
type Polyline struct {
	ID      string   `json:"id"`
	Path    []LatLng `json:"path"`
	Color   string   `json:"color"`
	Weight  float64  `json:"weight"`
	Opacity float64  `json:"opacity"`
}

// Marker is a labelled point such as a cluster centroid.
type Marker struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label"`
	Color string  `json:"color"`
	Count int     `json:"count,omitempty"`
}

// Segment is a colored two-point line, used for speed and emissions.
type Segment struct {
	From  LatLng  `json:"from"`
	To    LatLng  `json:"to"`
	Color string  `json:"color"`
	Value float64 `json:"value"`
}

// Gradient maps a normalized stop to a color.
type Gradient struct {
	Stop  float64 `json:"stop"`
	Color string  `json:"color"`
}

// Layer is one toggleable overlay. Only the slice matching Kind is populated.
type Layer struct {
	Name    string     `json:"name"`
	Kind    LayerKind  `json:"kind"`
	Palette []Gradient `json:"palette,omitempty"`

	HeatPoints []HeatPoint `json:"heatPoints,omitempty"`
	Polylines  []Polyline  `json:"polylines,omitempty"`
	Markers    []Marker    `json:"markers,omitempty"`
	Segments   []Segment   `json:"segments,omitempty"`
}

// Len returns the number of features carried by the layer.
func (l Layer) Len() int {
	switch l.Kind {
	case KindHeatmap:
		return len(l.HeatPoints)
	case KindPolylines:
		return len(l.Polylines)
	case KindMarkers:
		return len(l.Markers)
	case KindSegments:
		return len(l.Segments)
	}
	return 0
}

// Legend describes the map's color scale.
type Legend struct {
	Title string `json:"title"`
	Unit  string `json:"unit"`
	Notes string `json:"notes,omitempty"`
}

// Spec is the full map description for one analysis.
type Spec struct {
	AnalysisType string  `json:"analysisType"`
	Title        string  `json:"title"`
	Center       LatLng  `json:"center"`
	Zoom         int     `json:"zoom"`
	Intensity    string  `json:"intensity"`
	Layers       []Layer `json:"layers"`
	Legend       Legend  `json:"legend"`
}

// DefaultZoom is the initial zoom level for city-scale traces.
const DefaultZoom = 12

// Layer returns the first layer with the given name.
func (s *Spec) Layer(name string) (Layer, bool) {
	for _, l := range s.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return Layer{}, false
}

// AddLayer appends l unless it is empty.
func (s *Spec) AddLayer(l Layer) {
	if l.Len() == 0 {
		return
	}
	s.Layers = append(s.Layers, l)
}

// SimplifyThresholdDegrees is the Douglas-Peucker tolerance for polylines,
// roughly 5 m at mid latitudes.
const SimplifyThresholdDegrees = 4.5e-5

// SimplifyPath reduces a path with Douglas-Peucker, keeping both endpoints.
func SimplifyPath(ls orb.LineString, threshold float64) []LatLng {
	if len(ls) > 2 && threshold > 0 {
		s := simplify.DouglasPeucker(threshold).Simplify(ls.Clone())
		if simplified, ok := s.(orb.LineString); ok && len(simplified) >= 2 {
			ls = simplified
		}
	}
	out := make([]LatLng, len(ls))
	for i, p := range ls {
		out[i] = LatLng{Lat: p.Lat(), Lng: p.Lon()}
	}
	return out
}
