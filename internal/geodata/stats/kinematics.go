package stats

import (
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/geotracks/internal/geodata"
)

// DefaultEmissionsFactorKgPerKm is the assumed average passenger vehicle
// emissions factor in kg CO2e per km.
const DefaultEmissionsFactorKgPerKm = 0.192

// TrajectoryStats summarises one trajectory.
type TrajectoryStats struct {
	VehicleID   string  `json:"vehicleId"`
	Points      int     `json:"points"`
	DistanceKm  float64 `json:"distanceKm"`
	AvgSpeedKmh float64 `json:"avgSpeedKmh"`
}

// Kinematics aggregates distances and speeds over a dataset.
type Kinematics struct {
	Trajectories    []TrajectoryStats
	TotalDistanceKm float64
	SpeedSamples    int
	AvgSpeedKmh     float64
	MaxSpeedKmh     float64
	MinSpeedKmh     float64
	Percentiles     SpeedPercentiles
}

// ComputeKinematics sums haversine distances per trajectory and computes speed
// aggregates over every point. An empty dataset yields all zeros.
func ComputeKinematics(ds *geodata.Dataset) Kinematics {
	var k Kinematics
	k.Trajectories = make([]TrajectoryStats, 0, len(ds.Trajectories))
	for _, t := range ds.Trajectories {
		ts := TrajectoryStats{
			VehicleID:  t.VehicleID,
			Points:     t.Len(),
			DistanceKm: t.DistanceKm(),
		}
		speeds := make([]float64, t.Len())
		for i, p := range t.Points {
			speeds[i] = p.SpeedKmh
		}
		if len(speeds) > 0 {
			ts.AvgSpeedKmh = stat.Mean(speeds, nil)
		}
		k.TotalDistanceKm += ts.DistanceKm
		k.Trajectories = append(k.Trajectories, ts)
	}

	speeds := ds.Speeds()
	k.SpeedSamples = len(speeds)
	if len(speeds) > 0 {
		k.AvgSpeedKmh = stat.Mean(speeds, nil)
		k.MaxSpeedKmh = floats.Max(speeds)
		k.MinSpeedKmh = floats.Min(speeds)
		k.Percentiles, _ = ComputeSpeedPercentiles(speeds)
	}
	return k
}

// Emissions holds distance-based emissions. PerVehicleKgCO2e is nil when
// there are no vehicles.
type Emissions struct {
	TotalKgCO2e      float64
	PerVehicleKgCO2e *float64
}

// ComputeEmissions multiplies distance by a fixed factor and divides by the
// vehicle count.
func ComputeEmissions(totalDistanceKm float64, vehicles int, kgPerKm float64) Emissions {
	e := Emissions{TotalKgCO2e: totalDistanceKm * kgPerKm}
	if vehicles > 0 {
		per := e.TotalKgCO2e / float64(vehicles)
		e.PerVehicleKgCO2e = &per
	}
	return e
}

// kmPerDegree is the length of one degree of latitude on the orb sphere.
var kmPerDegree = orb.EarthRadius * math.Pi / 180.0 / 1000.0

// CoverageAreaKm2 approximates the area of the bounding box of the points
// with an equirectangular projection at the mean latitude.
func CoverageAreaKm2(points []geodata.GeoPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	mp := make(orb.MultiPoint, len(points))
	lats := make([]float64, len(points))
	for i, p := range points {
		mp[i] = p.Point()
		lats[i] = p.Lat
	}
	b := mp.Bound()
	avgLat := stat.Mean(lats, nil)
	latKm := (b.Max[1] - b.Min[1]) * kmPerDegree
	lngKm := (b.Max[0] - b.Min[0]) * kmPerDegree * math.Cos(avgLat*math.Pi/180.0)
	return latKm * lngKm
}
