package cluster

import (
	"math"

	"github.com/paulmach/orb"
)

// metersPerDegree is the length of one degree of latitude on the orb sphere.
var metersPerDegree = orb.EarthRadius * math.Pi / 180.0

// Project maps lng/lat points onto a local equirectangular plane in meters,
// centred on the mean latitude. Distortion is negligible at city scale.
func Project(points []orb.Point) []orb.Point {
	if len(points) == 0 {
		return nil
	}
	var sumLat float64
	for _, p := range points {
		sumLat += p[1]
	}
	cosLat := math.Cos((sumLat / float64(len(points))) * math.Pi / 180.0)

	xy := make([]orb.Point, len(points))
	for i, p := range points {
		xy[i] = orb.Point{p[0] * cosLat * metersPerDegree, p[1] * metersPerDegree}
	}
	return xy
}

// SpatialIndex provides efficient nearest neighbor queries using a regular grid.
// Cell size should approximately match the DBSCAN eps parameter.
type SpatialIndex struct {
	CellSize float64
	Grid     map[int64][]int // Cell ID → point indices
}

// NewSpatialIndex creates a spatial index with the specified cell size.
func NewSpatialIndex(cellSize float64) *SpatialIndex {
	return &SpatialIndex{
		CellSize: cellSize,
		Grid:     make(map[int64][]int),
	}
}

// Build populates the spatial index from projected points.
func (si *SpatialIndex) Build(points []orb.Point) {
	si.Grid = make(map[int64][]int, len(points)/EstimatedPointsPerCell)

	for i, p := range points {
		cx, cy := si.cellCoords(p)
		id := cellID(cx, cy)
		si.Grid[id] = append(si.Grid[id], i)
	}
}

func (si *SpatialIndex) cellCoords(p orb.Point) (int64, int64) {
	return int64(math.Floor(p[0] / si.CellSize)), int64(math.Floor(p[1] / si.CellSize))
}

// cellID combines signed cell coordinates into one key: zigzag encoding to
// make them non-negative, then Szudzik's pairing function.
func cellID(cellX, cellY int64) int64 {
	var a, b int64
	if cellX >= 0 {
		a = 2 * cellX
	} else {
		a = -2*cellX - 1
	}
	if cellY >= 0 {
		b = 2 * cellY
	} else {
		b = -2*cellY - 1
	}

	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

// RegionQuery returns indices of all points within eps of points[idx],
// including idx itself.
func (si *SpatialIndex) RegionQuery(points []orb.Point, idx int, eps float64) []int {
	return si.AppendRegion(nil, points, idx, eps)
}

// AppendRegion is RegionQuery appending into dst, so callers can reuse one
// buffer across queries.
func (si *SpatialIndex) AppendRegion(dst []int, points []orb.Point, idx int, eps float64) []int {
	p := points[idx]
	eps2 := eps * eps // Use squared distance to avoid sqrt

	cellX, cellY := si.cellCoords(p)

	// Search 3x3 neighborhood of cells
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, candidateIdx := range si.Grid[cellID(cellX+dx, cellY+dy)] {
				c := points[candidateIdx]
				ddx := c[0] - p[0]
				ddy := c[1] - p[1]
				if ddx*ddx+ddy*ddy <= eps2 {
					dst = append(dst, candidateIdx)
				}
			}
		}
	}
	if dst == nil {
		dst = []int{}
	}
	return dst
}
