// Package geodata holds the point and trajectory model for vehicle GPS traces
// together with the ingestion, filtering, sampling and trajectory
// reconstruction stages that build a Dataset from raw CSV text.
//
// A Dataset is built once per analysis run and is never mutated afterwards,
// so the density, clustering and statistics engines may read it concurrently.
package geodata

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// GeoPoint is one parsed GPS observation. Speed is stored in km/h.
type GeoPoint struct {
	VehicleID string  `json:"randomized_id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Alt       float64 `json:"alt"`
	SpeedKmh  float64 `json:"speed_kmh"`
	Azimuth   float64 `json:"azm"`
	// Row is the 0-based data row index in the source file. There is no
	// timestamp column, so row order is the only sequence available.
	Row int `json:"row"`
}

// Point returns the observation as an orb point (X=lng, Y=lat).
func (p GeoPoint) Point() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// HaversineKm returns the great-circle distance between two observations in kilometers.
func HaversineKm(a, b GeoPoint) float64 {
	return geo.DistanceHaversine(a.Point(), b.Point()) / 1000.0
}

// Trajectory is the ordered sequence of observations for one vehicle.
// All points share VehicleID and keep their source row order.
type Trajectory struct {
	VehicleID string     `json:"vehicle_id"`
	Points    []GeoPoint `json:"points"`
}

// Len returns the number of points in the trajectory.
func (t Trajectory) Len() int { return len(t.Points) }

// Start returns the first point (pickup proxy).
func (t Trajectory) Start() GeoPoint { return t.Points[0] }

// End returns the last point (drop-off proxy).
func (t Trajectory) End() GeoPoint { return t.Points[len(t.Points)-1] }

// SegmentsKm returns the haversine length of each consecutive segment.
// A one-point trajectory has no segments.
func (t Trajectory) SegmentsKm() []float64 {
	if len(t.Points) < 2 {
		return nil
	}
	segs := make([]float64, len(t.Points)-1)
	for i := 1; i < len(t.Points); i++ {
		segs[i-1] = HaversineKm(t.Points[i-1], t.Points[i])
	}
	return segs
}

// DistanceKm sums the haversine segment lengths of the trajectory.
func (t Trajectory) DistanceKm() float64 {
	total := 0.0
	for _, d := range t.SegmentsKm() {
		total += d
	}
	return total
}

// LineString returns the trajectory path as an orb line string.
func (t Trajectory) LineString() orb.LineString {
	ls := make(orb.LineString, len(t.Points))
	for i, p := range t.Points {
		ls[i] = p.Point()
	}
	return ls
}

// Dataset is the working set of one analysis run after ingestion, filtering
// and sampling. It is read-only once returned by Build.
type Dataset struct {
	Points       []GeoPoint
	Trajectories []Trajectory

	// TotalRows counts data rows read from the source, valid or not.
	TotalRows int
	// DroppedRows counts rows discarded as malformed during ingestion.
	DroppedRows int
	// Sampling describes what the sampling controller did.
	Sampling SampleResult
	// Notes collects non-fatal conditions for display alongside the results.
	Notes []string
}

// VehicleCount returns the number of distinct vehicles in the dataset.
func (d *Dataset) VehicleCount() int {
	return len(d.Trajectories)
}

// Speeds returns every point speed in km/h, in dataset order.
func (d *Dataset) Speeds() []float64 {
	speeds := make([]float64, len(d.Points))
	for i, p := range d.Points {
		speeds[i] = p.SpeedKmh
	}
	return speeds
}
