package stats

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/banshee-data/geotracks/internal/geodata"
)

// Congestion levels reported by AnalyzeTraffic.
const (
	LevelNone     = "none"
	LevelLight    = "light"
	LevelModerate = "moderate"
	LevelHeavy    = "heavy"
)

// DefaultTrafficRadiusM is the search radius used when a query gives none.
const DefaultTrafficRadiusM = 100.0

// trafficWindow maps a dwell window to the points a vehicle needs inside the
// radius to count as having stayed, and the stayed-vehicle counts above which
// the area is moderate or heavy.
type trafficWindow struct {
	minPoints int
	moderate  int
	heavy     int
}

var trafficWindows = map[int]trafficWindow{
	30:  {minPoints: 2, moderate: 5, heavy: 15},
	60:  {minPoints: 3, moderate: 3, heavy: 10},
	300: {minPoints: 5, moderate: 1, heavy: 5},
}

// TrafficWindows returns the supported dwell windows in seconds.
func TrafficWindows() []int {
	out := make([]int, 0, len(trafficWindows))
	for w := range trafficWindows {
		out = append(out, w)
	}
	sort.Ints(out)
	return out
}

// TrafficQuery selects a circular area and a dwell window.
type TrafficQuery struct {
	Lat       float64
	Lng       float64
	RadiusM   float64
	WindowSec int
}

// TrafficReport describes how many vehicles lingered near a location.
type TrafficReport struct {
	VehicleCount        int     `json:"vehicleCount"`
	TotalVehiclesInArea int     `json:"totalVehiclesInArea"`
	PointsInArea        int     `json:"pointsInArea"`
	Radius              float64 `json:"radius"`
	TimeWindow          int     `json:"timeWindow"`
	CongestionLevel     string  `json:"congestionLevel"`
	CenterLat           float64 `json:"centerLat"`
	CenterLng           float64 `json:"centerLng"`
	AvgPointsPerVehicle float64 `json:"avgPointsPerVehicle"`
	Message             string  `json:"message,omitempty"`
}

// AnalyzeTraffic counts vehicles with enough observations within RadiusM of
// the query point to have stayed for the window. Observations are assumed to
// be evenly spaced in time, so point count stands in for dwell time.
func AnalyzeTraffic(points []geodata.GeoPoint, q TrafficQuery) (TrafficReport, error) {
	w, ok := trafficWindows[q.WindowSec]
	if !ok {
		return TrafficReport{}, fmt.Errorf("unsupported time window %ds: must be one of %v", q.WindowSec, TrafficWindows())
	}
	if q.RadiusM <= 0 {
		q.RadiusM = DefaultTrafficRadiusM
	}

	rep := TrafficReport{
		Radius:          q.RadiusM,
		TimeWindow:      q.WindowSec,
		CenterLat:       q.Lat,
		CenterLng:       q.Lng,
		CongestionLevel: LevelNone,
	}

	center := orb.Point{q.Lng, q.Lat}
	perVehicle := make(map[string]int)
	for _, p := range points {
		if geo.DistanceHaversine(center, p.Point()) <= q.RadiusM {
			perVehicle[p.VehicleID]++
			rep.PointsInArea++
		}
	}
	rep.TotalVehiclesInArea = len(perVehicle)
	if rep.TotalVehiclesInArea == 0 {
		rep.Message = fmt.Sprintf("no vehicles within %.0fm", q.RadiusM)
		return rep, nil
	}
	rep.AvgPointsPerVehicle = float64(rep.PointsInArea) / float64(rep.TotalVehiclesInArea)

	for _, n := range perVehicle {
		if n >= w.minPoints {
			rep.VehicleCount++
		}
	}

	switch {
	case rep.VehicleCount == 0:
		rep.Message = fmt.Sprintf("%d vehicles passed through (none stayed %ds)", rep.TotalVehiclesInArea, q.WindowSec)
	case rep.VehicleCount > w.heavy:
		rep.CongestionLevel = LevelHeavy
	case rep.VehicleCount > w.moderate:
		rep.CongestionLevel = LevelModerate
	default:
		rep.CongestionLevel = LevelLight
	}
	return rep, nil
}
