package geodata

import "fmt"

// BuildTrajectories groups points by vehicle id into one trajectory per
// vehicle. Trajectories are ordered by the vehicle's first appearance and
// points keep their input order. A single-point vehicle yields a valid
// one-point trajectory.
func BuildTrajectories(points []GeoPoint) []Trajectory {
	byVehicle := make(map[string]int)
	var trajs []Trajectory
	for _, p := range points {
		i, ok := byVehicle[p.VehicleID]
		if !ok {
			i = len(trajs)
			byVehicle[p.VehicleID] = i
			trajs = append(trajs, Trajectory{VehicleID: p.VehicleID})
		}
		trajs[i].Points = append(trajs[i].Points, p)
	}
	return trajs
}

// BuildConfig controls dataset construction.
type BuildConfig struct {
	Filters  Filters
	Sampling SampleConfig
}

// Build runs ingestion output through filtering, sampling and trajectory
// reconstruction. Filters that remove everything produce an empty Dataset
// rather than an error.
func Build(in *IngestResult, cfg BuildConfig) *Dataset {
	ds := &Dataset{
		TotalRows:   in.TotalRows,
		DroppedRows: in.DroppedRows,
	}
	if in.DroppedRows > 0 {
		ds.Notes = append(ds.Notes, droppedNote(in.DroppedRows, in.TotalRows))
	}

	points, notes := FilterPoints(in.Points, cfg.Filters)
	ds.Notes = append(ds.Notes, notes...)

	ds.Sampling = Sample(points, cfg.Sampling)
	if ds.Sampling.Policy != PolicyPassThrough {
		ds.Notes = append(ds.Notes, ds.Sampling.Note)
	}

	trajs := BuildTrajectories(ds.Sampling.Points)
	trajs, notes = FilterTrajectories(trajs, cfg.Filters)
	ds.Notes = append(ds.Notes, notes...)
	ds.Trajectories = trajs

	// Flatten back so Points and Trajectories describe the same set after the
	// trajectory-level filter.
	if len(notes) > 0 {
		kept := make(map[string]bool, len(trajs))
		for _, t := range trajs {
			kept[t.VehicleID] = true
		}
		for _, p := range ds.Sampling.Points {
			if kept[p.VehicleID] {
				ds.Points = append(ds.Points, p)
			}
		}
	} else {
		ds.Points = ds.Sampling.Points
	}
	return ds
}

func droppedNote(dropped, total int) string {
	return fmt.Sprintf("dropped %d of %d rows with malformed values", dropped, total)
}
