package density

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/geotracks/internal/geodata"
)

func pt(id string, lat, lng, speed float64) geodata.GeoPoint {
	return geodata.GeoPoint{VehicleID: id, Lat: lat, Lng: lng, SpeedKmh: speed}
}

func TestParseIntensity(t *testing.T) {
	tests := []struct {
		in      string
		want    Intensity
		level   int
		wantErr bool
	}{
		{"", IntensityMedium, LevelMedium, false},
		{"low", IntensityLow, LevelLow, false},
		{"medium", IntensityMedium, LevelMedium, false},
		{"high", IntensityHigh, LevelHigh, false},
		{"extreme", "", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseIntensity(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.level, got.Level())
	}
	// Higher intensity means smaller cells.
	assert.Less(t, IntensityLow.Level(), IntensityHigh.Level())
}

func TestPointSurface(t *testing.T) {
	pts := []geodata.GeoPoint{
		pt("A", 51.1, 71.4, 10),
		pt("A", 51.1, 71.4, 30),
		pt("B", 51.1, 71.4, 20),
		pt("B", 51.3, 71.7, 50),
	}
	cells, err := PointSurface(pts, LevelMedium)
	require.NoError(t, err)
	require.Len(t, cells, 2)

	assert.Equal(t, 3, cells[0].Count)
	assert.Equal(t, 1.0, cells[0].Intensity)
	assert.InDelta(t, 20.0, cells[0].AvgSpeedKmh, 1e-9)
	assert.InDelta(t, 51.1, cells[0].Lat, 0.01)
	assert.InDelta(t, 71.4, cells[0].Lng, 0.01)
	assert.NotEmpty(t, cells[0].Token)

	assert.Equal(t, 1, cells[1].Count)
	assert.InDelta(t, 1.0/3.0, cells[1].Intensity, 1e-9)
}

func TestPointSurface_Empty(t *testing.T) {
	_, err := PointSurface(nil, LevelMedium)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestGrid_LevelsChangeResolution(t *testing.T) {
	// Two points ~100 m apart share a level-4 cell but not a level-20 cell.
	a := pt("A", 51.1000, 71.4000, 0)
	b := pt("A", 51.1009, 71.4000, 0)

	coarse := NewGrid(4)
	fine := NewGrid(20)
	for _, p := range []geodata.GeoPoint{a, b} {
		coarse.Add(p.Lat, p.Lng, 1, 0)
		fine.Add(p.Lat, p.Lng, 1, 0)
	}
	assert.Equal(t, 1, coarse.Len())
	assert.Equal(t, 2, fine.Len())
}

func TestDemandSurface(t *testing.T) {
	trajs := []geodata.Trajectory{
		{VehicleID: "A", Points: []geodata.GeoPoint{
			pt("A", 51.1, 71.4, 0),
			pt("A", 51.2, 71.5, 0),
			pt("A", 51.3, 71.6, 0),
		}},
		{VehicleID: "B", Points: []geodata.GeoPoint{pt("B", 51.2, 71.5, 0)}},
	}
	cells, err := DemandSurface(trajs, LevelMedium)
	require.NoError(t, err)
	require.Len(t, cells, 3)

	weights := map[float64]float64{}
	for _, c := range cells {
		weights[roundLat(c.Lat)] = c.Weight
	}
	// Endpoints: presence 0.5 + endpoint 1.0.
	assert.Equal(t, 1.5, weights[51.1])
	assert.Equal(t, 1.5, weights[51.3])
	// Middle: two presences, no endpoint (B has a single point).
	assert.Equal(t, 1.0, weights[51.2])
}

func roundLat(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func TestEndpointSurface(t *testing.T) {
	trajs := []geodata.Trajectory{
		{VehicleID: "A", Points: []geodata.GeoPoint{pt("A", 51.1, 71.4, 0), pt("A", 51.3, 71.6, 0)}},
		{VehicleID: "B", Points: []geodata.GeoPoint{pt("B", 51.1, 71.4, 0), pt("B", 51.2, 71.5, 0)}},
		{VehicleID: "C", Points: []geodata.GeoPoint{pt("C", 52.0, 72.0, 0)}},
	}
	starts, err := EndpointSurface(trajs, true, LevelMedium)
	require.NoError(t, err)
	require.Len(t, starts, 1)
	assert.Equal(t, 2, starts[0].Count)

	ends, err := EndpointSurface(trajs, false, LevelMedium)
	require.NoError(t, err)
	assert.Len(t, ends, 2)

	_, err = EndpointSurface(trajs[2:], true, LevelMedium)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestEmissionsSurface(t *testing.T) {
	trajs := []geodata.Trajectory{
		{VehicleID: "A", Points: []geodata.GeoPoint{pt("A", 0, 0, 0), pt("A", 0, 1, 0)}},
	}
	cells, err := EmissionsSurface(trajs, 0.2, LevelMedium)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	// The segment's emissions land on its end point.
	assert.InDelta(t, 111.319*0.2, cells[0].Weight, 1e-3)
	assert.InDelta(t, 1.0, cells[0].Intensity, 1e-12)
	assert.Equal(t, 0.0, cells[1].Weight)
}

func TestCongestion(t *testing.T) {
	var pts []geodata.GeoPoint
	for i := 0; i < 5; i++ {
		pts = append(pts, pt("A", 51.1, 71.4, 10))
	}
	for i := 0; i < 4; i++ {
		pts = append(pts, pt("B", 51.3, 71.6, 5))
	}
	for i := 0; i < 6; i++ {
		pts = append(pts, pt("C", 51.5, 71.8, 45))
	}

	cells := CongestionCells(pts, LevelMedium, CongestionParams{SpeedThresholdKmh: 20, MinPoints: 5})
	require.Len(t, cells, 1)
	assert.InDelta(t, 51.1, cells[0].Lat, 0.01)

	cells = CongestionCells(pts, LevelMedium, CongestionParams{SpeedThresholdKmh: 20, MinPoints: 4})
	assert.Len(t, cells, 2)

	assert.Empty(t, CongestionCells(nil, LevelMedium, CongestionParams{SpeedThresholdKmh: 20, MinPoints: 5}))
}

func TestCongestionWeight(t *testing.T) {
	assert.Equal(t, 1.0, CongestionWeight(0))
	assert.InDelta(t, 0.8, CongestionWeight(20), 1e-12)
	assert.Equal(t, 0.0, CongestionWeight(100))
	assert.Equal(t, 0.0, CongestionWeight(150))
}

func TestClassifyRouteDensity(t *testing.T) {
	cells := []Cell{{Count: 1}, {Count: 2}, {Count: 3}, {Count: 4}, {Count: 10}}
	rd := ClassifyRouteDensity(cells)
	// p50 = 3, p75 = 4
	assert.Equal(t, RouteDensity{HighDensityCells: 1, MediumDensityCells: 2, LowDensityCells: 5}, rd)
	assert.Equal(t, RouteDensity{}, ClassifyRouteDensity(nil))
}
