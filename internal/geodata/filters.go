package geodata

import (
	"fmt"
)

// Filters narrows the point set before sampling. Zero values disable a filter.
//
// City and RoadType are accepted for API compatibility; the trace schema has
// no column to evaluate them against, so they are ignored with a note.
type Filters struct {
	VehicleIDs []string `json:"vehicleIds,omitempty" yaml:"vehicleIds,omitempty"`
	// BBox is [minLat, minLng, maxLat, maxLng].
	BBox []float64 `json:"bbox,omitempty" yaml:"bbox,omitempty" validate:"omitempty,len=4"`
	// SpeedRange is [minKmh, maxKmh], inclusive.
	SpeedRange []float64 `json:"speedRange,omitempty" yaml:"speedRange,omitempty" validate:"omitempty,len=2"`
	// MinTrips drops vehicles with fewer observations than this.
	MinTrips *int `json:"minTrips,omitempty" yaml:"minTrips,omitempty" validate:"omitempty,gte=0"`
	// MaxDistance drops whole trajectories longer than this many kilometers.
	MaxDistance *float64 `json:"maxDistance,omitempty" yaml:"maxDistance,omitempty" validate:"omitempty,gt=0"`
	City        string   `json:"city,omitempty" yaml:"city,omitempty"`
	RoadType    string   `json:"roadType,omitempty" yaml:"roadType,omitempty"`
}

// FilterPoints applies the point-level filters (vehicle ids, bounding box,
// speed range, minimum observations per vehicle). The input is not modified.
func FilterPoints(points []GeoPoint, f Filters) ([]GeoPoint, []string) {
	var notes []string
	if f.City != "" {
		notes = append(notes, fmt.Sprintf("city filter %q ignored: traces carry no city column", f.City))
	}
	if f.RoadType != "" {
		notes = append(notes, fmt.Sprintf("roadType filter %q ignored: traces carry no road type column", f.RoadType))
	}

	var allow map[string]bool
	if len(f.VehicleIDs) > 0 {
		allow = make(map[string]bool, len(f.VehicleIDs))
		for _, id := range f.VehicleIDs {
			allow[id] = true
		}
	}

	out := make([]GeoPoint, 0, len(points))
	for _, p := range points {
		if allow != nil && !allow[p.VehicleID] {
			continue
		}
		if len(f.BBox) == 4 {
			if p.Lat < f.BBox[0] || p.Lat > f.BBox[2] || p.Lng < f.BBox[1] || p.Lng > f.BBox[3] {
				continue
			}
		}
		if len(f.SpeedRange) == 2 {
			if p.SpeedKmh < f.SpeedRange[0] || p.SpeedKmh > f.SpeedRange[1] {
				continue
			}
		}
		out = append(out, p)
	}

	if f.MinTrips != nil && *f.MinTrips > 1 {
		counts := make(map[string]int)
		for _, p := range out {
			counts[p.VehicleID]++
		}
		kept := out[:0]
		for _, p := range out {
			if counts[p.VehicleID] >= *f.MinTrips {
				kept = append(kept, p)
			}
		}
		out = kept
	}

	if removed := len(points) - len(out); removed > 0 {
		notes = append(notes, fmt.Sprintf("filters removed %d of %d points", removed, len(points)))
	}
	return out, notes
}

// FilterTrajectories applies the trajectory-level filters (MaxDistance).
func FilterTrajectories(trajs []Trajectory, f Filters) ([]Trajectory, []string) {
	if f.MaxDistance == nil {
		return trajs, nil
	}
	out := make([]Trajectory, 0, len(trajs))
	for _, t := range trajs {
		if t.DistanceKm() <= *f.MaxDistance {
			out = append(out, t)
		}
	}
	if removed := len(trajs) - len(out); removed > 0 {
		return out, []string{fmt.Sprintf("maxDistance removed %d of %d trajectories longer than %.2f km", removed, len(trajs), *f.MaxDistance)}
	}
	return out, nil
}
