package geodata

import (
	"fmt"
	"math/rand/v2"
	"sort"
)

// Sampling defaults.
const (
	DefaultMaxRows    = 50000
	DefaultSampleSeed = 42
)

// SamplePolicy names the strategy the sampling controller applied.
type SamplePolicy string

const (
	PolicyPassThrough   SamplePolicy = "pass-through"
	PolicyProportional  SamplePolicy = "per-vehicle-proportional"
	PolicyVehicleSubset SamplePolicy = "vehicle-subset"
)

// SampleConfig bounds the working set size.
type SampleConfig struct {
	MaxRows int
	Seed    int64
}

// SampleResult is the sampled point set and a description of how it was produced.
type SampleResult struct {
	Points           []GeoPoint   `json:"-"`
	Policy           SamplePolicy `json:"policy"`
	InputRows        int          `json:"inputRows"`
	RetainedRows     int          `json:"retainedRows"`
	InputVehicles    int          `json:"inputVehicles"`
	RetainedVehicles int          `json:"retainedVehicles"`
	Note             string       `json:"note"`
}

// Sample downsamples points to at most cfg.MaxRows while keeping whole
// vehicles intact where possible. It never fails.
//
// When the distinct vehicle count fits the budget, every vehicle receives a
// share proportional to its point count (at least one point) and its kept
// points are drawn uniformly with a seeded generator. Otherwise a seeded random
// subset of vehicles is retained with all their points. Retained points keep
// their original row order in both cases.
func Sample(points []GeoPoint, cfg SampleConfig) SampleResult {
	budget := cfg.MaxRows
	if budget <= 0 {
		budget = DefaultMaxRows
	}

	groups, order := groupIndices(points)
	res := SampleResult{
		InputRows:     len(points),
		InputVehicles: len(order),
	}

	if len(points) <= budget {
		res.Points = points
		res.Policy = PolicyPassThrough
		res.RetainedRows = len(points)
		res.RetainedVehicles = len(order)
		res.Note = fmt.Sprintf("no sampling: %d rows within limit of %d", len(points), budget)
		return res
	}

	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), 0x9e3779b97f4a7c15))

	// Work in sorted id order so the draw sequence does not depend on input order.
	ids := make([]string, len(order))
	copy(ids, order)
	sort.Strings(ids)

	var keep []int
	if len(ids) > budget {
		res.Policy = PolicyVehicleSubset
		keep, res.RetainedVehicles = sampleVehicleSubset(ids, groups, budget, rng)
		res.Note = fmt.Sprintf("sampled %d of %d vehicles (all points each): %d of %d rows retained, limit %d",
			res.RetainedVehicles, len(ids), len(keep), len(points), budget)
	} else {
		res.Policy = PolicyProportional
		keep = sampleProportional(ids, groups, len(points), budget, rng)
		res.RetainedVehicles = len(ids)
		res.Note = fmt.Sprintf("per-vehicle proportional sampling: %d of %d rows retained across %d vehicles, limit %d",
			len(keep), len(points), len(ids), budget)
	}

	sort.Ints(keep)
	out := make([]GeoPoint, len(keep))
	for i, k := range keep {
		out[i] = points[k]
	}
	res.Points = out
	res.RetainedRows = len(out)
	return res
}

// groupIndices maps each vehicle id to its point indices and returns the ids
// in order of first appearance.
func groupIndices(points []GeoPoint) (map[string][]int, []string) {
	groups := make(map[string][]int)
	var order []string
	for i, p := range points {
		if _, ok := groups[p.VehicleID]; !ok {
			order = append(order, p.VehicleID)
		}
		groups[p.VehicleID] = append(groups[p.VehicleID], i)
	}
	return groups, order
}

func sampleProportional(ids []string, groups map[string][]int, total, budget int, rng *rand.Rand) []int {
	quota := make([]int, len(ids))
	sum := 0
	for i, id := range ids {
		q := budget * len(groups[id]) / total
		if q < 1 {
			q = 1
		}
		quota[i] = q
		sum += q
	}

	// The one-point floor can overshoot the budget; take the excess back from
	// the largest shares. len(ids) <= budget guarantees termination.
	if excess := sum - budget; excess > 0 {
		byQuota := make([]int, len(ids))
		for i := range byQuota {
			byQuota[i] = i
		}
		sort.SliceStable(byQuota, func(a, b int) bool { return quota[byQuota[a]] > quota[byQuota[b]] })
		for excess > 0 {
			progressed := false
			for _, i := range byQuota {
				if excess == 0 {
					break
				}
				if quota[i] > 1 {
					quota[i]--
					excess--
					progressed = true
				}
			}
			if !progressed {
				break
			}
		}
	}

	keep := make([]int, 0, budget)
	for i, id := range ids {
		idx := groups[id]
		if quota[i] >= len(idx) {
			keep = append(keep, idx...)
			continue
		}
		for _, j := range rng.Perm(len(idx))[:quota[i]] {
			keep = append(keep, idx[j])
		}
	}
	return keep
}

func sampleVehicleSubset(ids []string, groups map[string][]int, budget int, rng *rand.Rand) ([]int, int) {
	shuffled := make([]string, len(ids))
	copy(shuffled, ids)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	var keep []int
	vehicles := 0
	for _, id := range shuffled {
		idx := groups[id]
		if len(keep)+len(idx) > budget {
			continue
		}
		keep = append(keep, idx...)
		vehicles++
		if len(keep) == budget {
			break
		}
	}
	return keep, vehicles
}
