package pipeline

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/banshee-data/geotracks/internal/config"
	"github.com/banshee-data/geotracks/internal/geodata"
	"github.com/banshee-data/geotracks/internal/geodata/cluster"
	"github.com/banshee-data/geotracks/internal/geodata/density"
	"github.com/banshee-data/geotracks/internal/geodata/mapspec"
	"github.com/banshee-data/geotracks/internal/geodata/stats"
)

// assembler accumulates one analysis result.
type assembler struct {
	ds        *geodata.Dataset
	job       *config.JobConfig
	cfg       *config.AnalysisConfig
	level     int
	intensity density.Intensity
	kin       stats.Kinematics

	summary stats.Summary
	spec    mapspec.Spec
	notes   []string
}

var builders = map[string]func(*assembler){
	config.AnalysisPopularRoutes: (*assembler).popularRoutes,
	config.AnalysisEndpoints:     (*assembler).endpoints,
	config.AnalysisTrajectories:  (*assembler).trajectories,
	config.AnalysisSpeed:         (*assembler).speed,
	config.AnalysisGHG:           (*assembler).ghg,
}

// baseSummary fills the fields every analysis type reports.
func (a *assembler) baseSummary() stats.Summary {
	em := stats.ComputeEmissions(a.kin.TotalDistanceKm, a.ds.VehicleCount(), a.cfg.GetEmissionsFactorKgPerKm())
	congested := density.CongestionCells(a.ds.Points, a.level, density.CongestionParams{
		SpeedThresholdKmh: a.cfg.GetCongestionSpeedKmh(),
		MinPoints:         a.cfg.GetCongestionMinPoints(),
	})
	return stats.Summary{
		AnalysisType:              a.job.AnalysisType,
		TotalRecords:              len(a.ds.Points),
		UniqueVehicles:            a.ds.VehicleCount(),
		AvgSpeed:                  a.kin.AvgSpeedKmh,
		MaxSpeed:                  a.kin.MaxSpeedKmh,
		MinSpeed:                  a.kin.MinSpeedKmh,
		TotalDistanceKm:           a.kin.TotalDistanceKm,
		TotalEmissionsKgCO2e:      em.TotalKgCO2e,
		EmissionsPerVehicleKgCO2e: em.PerVehicleKgCO2e,
		SpeedPercentiles:          a.kin.Percentiles,
		CongestionAreas:           len(congested),
		DroppedRows:               a.ds.DroppedRows,
	}
}

// softFail records a missing visualization; any other error is a bug in the
// caller's inputs and is noted verbatim.
func (a *assembler) softFail(what string, err error) {
	if errors.Is(err, density.ErrInsufficientData) {
		a.notes = append(a.notes, fmt.Sprintf("no %s visualization available: insufficient data", what))
		return
	}
	a.notes = append(a.notes, fmt.Sprintf("%s: %v", what, err))
}

func (a *assembler) heatLayer(name string, palette []mapspec.Gradient, cells []density.Cell) mapspec.Layer {
	l := mapspec.Layer{Name: name, Kind: mapspec.KindHeatmap, Palette: palette}
	l.HeatPoints = make([]mapspec.HeatPoint, len(cells))
	for i, c := range cells {
		l.HeatPoints[i] = mapspec.HeatPoint{Lat: c.Lat, Lng: c.Lng, Weight: c.Intensity}
	}
	return l
}

func (a *assembler) polylineLayer(name, color string) mapspec.Layer {
	l := mapspec.Layer{Name: name, Kind: mapspec.KindPolylines}
	limit := a.cfg.GetMaxPolylines()
	tol := a.cfg.GetSimplifyTolerance()
	for _, t := range a.ds.Trajectories {
		if len(l.Polylines) >= limit {
			break
		}
		if t.Len() < 2 {
			continue
		}
		l.Polylines = append(l.Polylines, mapspec.Polyline{
			ID:      t.VehicleID,
			Path:    mapspec.SimplifyPath(t.LineString(), tol),
			Color:   color,
			Weight:  1,
			Opacity: 0.3,
		})
	}
	return l
}

func hotspotMarkers(hs []cluster.Hotspot, label, color string) []mapspec.Marker {
	out := make([]mapspec.Marker, len(hs))
	for i, h := range hs {
		out[i] = mapspec.Marker{
			Lat:   h.Lat,
			Lng:   h.Lng,
			Label: fmt.Sprintf("%s %d", label, i+1),
			Color: color,
			Count: h.Count,
		}
	}
	return out
}

func endpointPoints(trajs []geodata.Trajectory, start bool) []orb.Point {
	var out []orb.Point
	for _, t := range trajs {
		if t.Len() < 2 {
			continue
		}
		if start {
			out = append(out, t.Start().Point())
		} else {
			out = append(out, t.End().Point())
		}
	}
	return out
}

func pointsOf(ps []geodata.GeoPoint) []orb.Point {
	out := make([]orb.Point, len(ps))
	for i, p := range ps {
		out[i] = p.Point()
	}
	return out
}

func uniqueCount(points []orb.Point) int {
	seen := make(map[orb.Point]struct{}, len(points))
	for _, p := range points {
		seen[p] = struct{}{}
	}
	return len(seen)
}

func (a *assembler) popularRoutes() {
	a.spec.Title = "Popular Routes Heat Map"
	a.spec.Legend = mapspec.Legend{Title: "Route Density", Unit: "points per cell", Notes: "S2 cell grid, " + string(a.intensity) + " intensity"}

	cells, err := density.PointSurface(a.ds.Points, a.level)
	if err != nil {
		a.softFail("route density", err)
	}
	a.summary.SetExtra("routeDensity", density.ClassifyRouteDensity(cells))

	if a.job.Visualization.GetShowHeatmap() && len(cells) > 0 {
		a.spec.AddLayer(a.heatLayer("Popular Routes", mapspec.PaletteRoutes, cells))
	}
	a.spec.AddLayer(a.polylineLayer("Sample Routes", "blue"))
}

func (a *assembler) endpoints() {
	a.spec.Title = "Trip Endpoints Heat Map (Green: Pickups, Red: Dropoffs)"
	a.spec.Legend = mapspec.Legend{Title: "Endpoints", Unit: "trip endpoints per cell"}

	pickups := endpointPoints(a.ds.Trajectories, true)
	dropoffs := endpointPoints(a.ds.Trajectories, false)
	a.summary.SetExtra("totalTrips", len(pickups))
	a.summary.SetExtra("uniquePickupPoints", uniqueCount(pickups))
	a.summary.SetExtra("uniqueDropoffPoints", uniqueCount(dropoffs))

	params := cluster.Params{EpsMeters: a.cfg.GetEndpointEpsMeters(), MinPts: a.cfg.GetEndpointMinPts()}
	pickupHotspots := cluster.Hotspots(pickups, cluster.DBSCAN(pickups, params))
	dropoffHotspots := cluster.Hotspots(dropoffs, cluster.DBSCAN(dropoffs, params))
	a.summary.SetExtra("pickupClusters", nonNilHotspots(pickupHotspots))
	a.summary.SetExtra("dropoffClusters", nonNilHotspots(dropoffHotspots))

	if a.job.Visualization.GetShowHeatmap() {
		if cells, err := density.EndpointSurface(a.ds.Trajectories, true, a.level); err != nil {
			a.softFail("pickup", err)
		} else {
			a.spec.AddLayer(a.heatLayer("Pickups", mapspec.PalettePickups, cells))
		}
		if cells, err := density.EndpointSurface(a.ds.Trajectories, false, a.level); err != nil {
			a.softFail("dropoff", err)
		} else {
			a.spec.AddLayer(a.heatLayer("Dropoffs", mapspec.PaletteDropoffs, cells))
		}
	}
	if a.job.Visualization.GetShowClusters() {
		a.spec.AddLayer(mapspec.Layer{Name: "Pickup Clusters", Kind: mapspec.KindMarkers,
			Markers: hotspotMarkers(pickupHotspots, "Pickup Cluster", "green")})
		a.spec.AddLayer(mapspec.Layer{Name: "Dropoff Clusters", Kind: mapspec.KindMarkers,
			Markers: hotspotMarkers(dropoffHotspots, "Dropoff Cluster", "red")})
	}
}

func (a *assembler) trajectories() {
	a.spec.Title = "Demand Density Heat Map (Combined Activity)"
	a.spec.Legend = mapspec.Legend{Title: "Demand Density", Unit: "normalized presence", Notes: "endpoints weighted double"}

	a.summary.SetExtra("coverageAreaKm2", stats.Round2(stats.CoverageAreaKm2(a.ds.Points)))

	all := pointsOf(a.ds.Points)
	demand := cluster.Hotspots(all, cluster.DBSCAN(all, cluster.Params{
		EpsMeters: a.cfg.GetDemandEpsMeters(),
		MinPts:    a.cfg.GetDemandMinPts(),
	}))
	a.summary.SetExtra("demandHotspots", len(demand))

	if a.job.Visualization.GetShowHeatmap() {
		if cells, err := density.DemandSurface(a.ds.Trajectories, a.level); err != nil {
			a.softFail("demand", err)
		} else {
			a.spec.AddLayer(a.heatLayer("Demand Density", mapspec.PaletteDemand, cells))
		}
	}
	a.spec.AddLayer(a.polylineLayer("Trajectories", "purple"))
	if a.job.Visualization.GetShowClusters() {
		a.spec.AddLayer(mapspec.Layer{Name: "Demand Hotspots", Kind: mapspec.KindMarkers,
			Markers: hotspotMarkers(demand, "Demand Hotspot", "orange")})
	}
}

func (a *assembler) speed() {
	a.spec.Title = "Speed Heat Map (Red: Congestion, Green: Free Flow)"
	a.spec.Legend = mapspec.Legend{Title: "Speed", Unit: "km/h", Notes: "red < 20, orange < 40, yellow < 60, green otherwise"}

	var slow []orb.Point
	g := density.NewGrid(a.level)
	for _, p := range a.ds.Points {
		if p.SpeedKmh < a.cfg.GetCongestionSpeedKmh() {
			slow = append(slow, p.Point())
		}
		if w := density.CongestionWeight(p.SpeedKmh); w > density.MinCongestionWeight {
			g.Add(p.Lat, p.Lng, w, p.SpeedKmh)
		}
	}
	congestion := cluster.Hotspots(slow, cluster.DBSCAN(slow, cluster.Params{
		EpsMeters: a.cfg.GetCongestionEpsMeters(),
		MinPts:    a.cfg.GetCongestionMinPts(),
	}))
	a.summary.SetExtra("congestionClusters", len(congestion))

	if a.job.Visualization.GetShowHeatmap() {
		if g.Len() == 0 {
			a.softFail("congestion", density.ErrInsufficientData)
		} else {
			a.spec.AddLayer(a.heatLayer("Traffic Congestion", mapspec.PaletteCongestion, g.Cells()))
		}
	}

	seg := mapspec.Layer{Name: "Speed Segments", Kind: mapspec.KindSegments}
	for _, t := range a.ds.Trajectories {
		for i := 1; i < t.Len(); i++ {
			p, q := t.Points[i-1], t.Points[i]
			v := (p.SpeedKmh + q.SpeedKmh) / 2
			seg.Segments = append(seg.Segments, mapspec.Segment{
				From:  mapspec.LatLng{Lat: p.Lat, Lng: p.Lng},
				To:    mapspec.LatLng{Lat: q.Lat, Lng: q.Lng},
				Color: mapspec.SpeedColor(v),
				Value: stats.Round2(v),
			})
		}
	}
	a.spec.AddLayer(seg)

	if a.job.Visualization.GetShowClusters() {
		a.spec.AddLayer(mapspec.Layer{Name: "Congestion Clusters", Kind: mapspec.KindMarkers,
			Markers: hotspotMarkers(congestion, "Congestion", "darkred")})
	}
}

func (a *assembler) ghg() {
	ef := a.cfg.GetEmissionsFactorKgPerKm()
	a.spec.Title = "GHG Emissions Heat Map (kg CO2e, distance-based)"
	a.spec.Legend = mapspec.Legend{Title: "GHG Emissions", Unit: "kg CO2e per cell", Notes: fmt.Sprintf("EF=%.3f kg/km", ef)}
	a.summary.SetExtra("emissionsFactorKgPerKm", ef)

	if a.job.Visualization.GetShowHeatmap() {
		if cells, err := density.EmissionsSurface(a.ds.Trajectories, ef, a.level); err != nil {
			a.softFail("emissions", err)
		} else {
			a.spec.AddLayer(a.heatLayer("GHG Emissions", mapspec.PaletteEmissions, cells))
		}
	}

	type segKg struct {
		from, to geodata.GeoPoint
		kg       float64
	}
	var segs []segKg
	maxKg := 0.0
	for _, t := range a.ds.Trajectories {
		for i, km := range t.SegmentsKm() {
			kg := km * ef
			segs = append(segs, segKg{t.Points[i], t.Points[i+1], kg})
			if kg > maxKg {
				maxKg = kg
			}
		}
	}
	l := mapspec.Layer{Name: "Segment Emissions", Kind: mapspec.KindSegments}
	for _, s := range segs {
		norm := 0.0
		if maxKg > 0 {
			norm = s.kg / maxKg
		}
		l.Segments = append(l.Segments, mapspec.Segment{
			From:  mapspec.LatLng{Lat: s.from.Lat, Lng: s.from.Lng},
			To:    mapspec.LatLng{Lat: s.to.Lat, Lng: s.to.Lng},
			Color: mapspec.RampColor(mapspec.PaletteEmissions, norm),
			Value: s.kg,
		})
	}
	a.spec.AddLayer(l)
}

func nonNilHotspots(hs []cluster.Hotspot) []cluster.Hotspot {
	if hs == nil {
		return []cluster.Hotspot{}
	}
	return hs
}
