// Package stats computes the kinematic and emissions statistics of a dataset:
// speed percentiles, trajectory distances, emissions totals and coverage.
package stats

import (
	"math"
	"sort"
)

// Percentile returns the p-quantile (p in [0, 1]) of an ascending slice using
// linear interpolation between order statistics (Hyndman & Fan type 7, the
// numpy and pandas default):
//
//	h = (n-1)*p
//	Q = x[floor(h)] + (h - floor(h)) * (x[floor(h)+1] - x[floor(h)])
//
// An empty slice returns 0. p is clamped to [0, 1].
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 || math.IsNaN(p) {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo+1 >= n {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	v := sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
	// Keep rounding from stepping outside the bracketing order statistics,
	// which would break monotonicity across p.
	return math.Min(math.Max(v, sorted[lo]), sorted[lo+1])
}

// Percentiles computes several quantiles of values, which need not be sorted
// and are not modified.
func Percentiles(values []float64, ps []float64) map[float64]float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	out := make(map[float64]float64, len(ps))
	for _, p := range ps {
		out[p] = Percentile(sorted, p)
	}
	return out
}

// SpeedPercentiles holds the reported speed quantiles in km/h. The JSON field
// names match the dashboard statistics payload.
type SpeedPercentiles struct {
	P25 float64 `json:"25th"`
	P50 float64 `json:"50th"`
	P75 float64 `json:"75th"`
	P95 float64 `json:"95th"`
}

// ComputeSpeedPercentiles returns p25/p50/p75/p95 of the speeds. ok is false
// (and all values zero) when there are no speeds.
func ComputeSpeedPercentiles(speeds []float64) (sp SpeedPercentiles, ok bool) {
	if len(speeds) == 0 {
		return SpeedPercentiles{}, false
	}
	q := Percentiles(speeds, []float64{0.25, 0.50, 0.75, 0.95})
	return SpeedPercentiles{
		P25: q[0.25],
		P50: q[0.50],
		P75: q[0.75],
		P95: q[0.95],
	}, true
}
