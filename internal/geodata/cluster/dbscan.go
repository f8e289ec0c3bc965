// Package cluster finds dense groups of geographic points (pickup and drop-off
// hotspots, congestion clusters) with DBSCAN.
//
// Points are projected onto a local equirectangular plane in meters around
// their mean latitude, so the neighbourhood radius is given in meters and the
// defaults work for any city rather than one coordinate range.
package cluster

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Constants for clustering configuration
const (
	// Noise labels a point that belongs to no cluster.
	Noise = -1
	// DefaultEndpointEpsMeters is the neighbourhood radius for endpoint hotspots
	// (about 0.002 degrees of latitude).
	DefaultEndpointEpsMeters = 200.0
	// DefaultEndpointMinPts is the minimum neighbourhood size of a core endpoint.
	DefaultEndpointMinPts = 5
	// EstimatedPointsPerCell is used for initial spatial index capacity estimation
	EstimatedPointsPerCell = 4
)

// Params contains parameters for the DBSCAN clustering algorithm.
type Params struct {
	EpsMeters float64 // Neighborhood radius in meters
	MinPts    int     // Minimum neighbourhood size (the point itself included) of a core point
}

// DefaultParams returns the endpoint hotspot defaults.
func DefaultParams() Params {
	return Params{
		EpsMeters: DefaultEndpointEpsMeters,
		MinPts:    DefaultEndpointMinPts,
	}
}

func (p Params) normalized() Params {
	if p.EpsMeters <= 0 || math.IsNaN(p.EpsMeters) {
		p.EpsMeters = DefaultEndpointEpsMeters
	}
	if p.MinPts < 1 {
		p.MinPts = 1
	}
	return p
}

// Assignment maps every input point to a cluster label in [0, NumClusters)
// or Noise. Labels are numbered in order of discovery, which follows input
// order, so they are stable for a given input.
type Assignment struct {
	Labels      []int `json:"labels"`
	NumClusters int   `json:"numClusters"`
}

// DBSCAN clusters points (X=lng, Y=lat in degrees). Fewer points than
// MinPts yields zero clusters with every point labelled Noise.
func DBSCAN(points []orb.Point, params Params) Assignment {
	params = params.normalized()
	n := len(points)
	if n == 0 {
		return Assignment{}
	}
	if n < params.MinPts {
		labels := make([]int, n)
		for i := range labels {
			labels[i] = Noise
		}
		return Assignment{Labels: labels}
	}

	xy := Project(points)
	labels := make([]int, n) // 0=unvisited, -1=noise, >0=clusterID
	clusterID := 0

	// Build spatial index (required for performance)
	spatialIndex := NewSpatialIndex(params.EpsMeters)
	spatialIndex.Build(xy)

	var neighbors, scratch []int
	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if labels[i] != 0 {
			continue // Already processed
		}

		neighbors = spatialIndex.AppendRegion(neighbors[:0], xy, i, params.EpsMeters)
		if len(neighbors) < params.MinPts {
			labels[i] = Noise
			continue
		}

		clusterID++
		queue, scratch = expandCluster(xy, spatialIndex, labels, i, neighbors, clusterID, params, queue[:0], scratch)
	}

	out := Assignment{Labels: labels, NumClusters: clusterID}
	for i, l := range labels {
		if l > 0 {
			labels[i] = l - 1
		}
	}
	return out
}

// expandCluster grows a cluster from a core point, queue based. A point is
// labelled when it is queued, so it enters the queue at most once and the
// queue never holds more than n entries. Noise points reached here were
// already found to be non-core and only become border points.
func expandCluster(xy []orb.Point, si *SpatialIndex, labels []int,
	seedIdx int, neighbors []int, clusterID int, params Params,
	queue, scratch []int) ([]int, []int) {

	labels[seedIdx] = clusterID
	enqueue := func(ns []int) {
		for _, idx := range ns {
			switch labels[idx] {
			case 0:
				labels[idx] = clusterID
				queue = append(queue, idx)
			case Noise:
				labels[idx] = clusterID
			}
		}
	}
	enqueue(neighbors)

	for j := 0; j < len(queue); j++ {
		scratch = si.AppendRegion(scratch[:0], xy, queue[j], params.EpsMeters)
		if len(scratch) >= params.MinPts {
			enqueue(scratch)
		}
	}
	return queue, scratch
}

// Hotspot is a cluster summarised by its centroid and member count.
type Hotspot struct {
	Label int     `json:"label"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Count int     `json:"count"`
}

// Hotspots returns one centroid per cluster, noise excluded, ordered by
// member count (descending) then label.
func Hotspots(points []orb.Point, a Assignment) []Hotspot {
	if a.NumClusters == 0 {
		return nil
	}
	sums := make([]Hotspot, a.NumClusters)
	for i, l := range a.Labels {
		if l == Noise {
			continue
		}
		sums[l].Lng += points[i][0]
		sums[l].Lat += points[i][1]
		sums[l].Count++
	}

	out := make([]Hotspot, 0, a.NumClusters)
	for l, s := range sums {
		if s.Count == 0 {
			continue
		}
		out = append(out, Hotspot{
			Label: l,
			Lat:   s.Lat / float64(s.Count),
			Lng:   s.Lng / float64(s.Count),
			Count: s.Count,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}
