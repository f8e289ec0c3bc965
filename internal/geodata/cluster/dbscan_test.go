package cluster

import (
	"math"
	"math/rand/v2"
	"runtime"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// offset returns a point dx meters east and dy meters north of base.
func offset(base orb.Point, dx, dy float64) orb.Point {
	cosLat := math.Cos(base[1] * math.Pi / 180)
	return orb.Point{
		base[0] + dx/(metersPerDegree*cosLat),
		base[1] + dy/metersPerDegree,
	}
}

func blob(base orb.Point, n int, spacing float64) []orb.Point {
	pts := make([]orb.Point, n)
	for i := range pts {
		pts[i] = offset(base, float64(i%3)*spacing, float64(i/3)*spacing)
	}
	return pts
}

func TestDBSCAN_FewerThanMinPts(t *testing.T) {
	pts := blob(orb.Point{71.4, 51.1}, 4, 1)
	a := DBSCAN(pts, Params{EpsMeters: 200, MinPts: 5})

	assert.Equal(t, 0, a.NumClusters)
	require.Len(t, a.Labels, 4)
	for _, l := range a.Labels {
		assert.Equal(t, Noise, l)
	}
	assert.Empty(t, Hotspots(pts, a))
}

func TestDBSCAN_Empty(t *testing.T) {
	a := DBSCAN(nil, DefaultParams())
	assert.Equal(t, 0, a.NumClusters)
	assert.Empty(t, a.Labels)
}

func TestDBSCAN_TwoClustersAndNoise(t *testing.T) {
	a0 := orb.Point{71.40, 51.10}
	b0 := orb.Point{71.45, 51.12}

	var pts []orb.Point
	pts = append(pts, blob(a0, 6, 20)...)
	pts = append(pts, offset(a0, 3000, 3000)) // isolated
	pts = append(pts, blob(b0, 9, 20)...)

	a := DBSCAN(pts, Params{EpsMeters: 100, MinPts: 5})
	require.Equal(t, 2, a.NumClusters)

	for i := 0; i < 6; i++ {
		assert.Equal(t, 0, a.Labels[i], "first blob point %d", i)
	}
	assert.Equal(t, Noise, a.Labels[6])
	for i := 7; i < len(pts); i++ {
		assert.Equal(t, 1, a.Labels[i], "second blob point %d", i)
	}

	hs := Hotspots(pts, a)
	require.Len(t, hs, 2)
	// Larger cluster first.
	assert.Equal(t, 1, hs[0].Label)
	assert.Equal(t, 9, hs[0].Count)
	assert.InDelta(t, b0[1], hs[0].Lat, 1e-3)
	assert.InDelta(t, b0[0], hs[0].Lng, 1e-3)
	assert.Equal(t, 0, hs[1].Label)
	assert.Equal(t, 6, hs[1].Count)
}

func TestDBSCAN_NeighbourhoodIncludesSelf(t *testing.T) {
	// Three points within eps and minPts 3: each has itself plus two others.
	base := orb.Point{71.4, 51.1}
	pts := []orb.Point{base, offset(base, 10, 0), offset(base, 0, 10)}
	a := DBSCAN(pts, Params{EpsMeters: 50, MinPts: 3})
	assert.Equal(t, 1, a.NumClusters)
}

func TestDBSCAN_BorderPoint(t *testing.T) {
	// Five core points 10 m apart and a border point 45 m past the last one,
	// reachable only from it.
	base := orb.Point{71.4, 51.1}
	var pts []orb.Point
	for i := 0; i < 5; i++ {
		pts = append(pts, offset(base, float64(i)*10, 0))
	}
	pts = append(pts, offset(base, 40+45, 0))

	a := DBSCAN(pts, Params{EpsMeters: 50, MinPts: 5})
	require.Equal(t, 1, a.NumClusters)
	assert.Equal(t, 0, a.Labels[5], "border point joins the cluster")
}

func TestDBSCAN_MetersNotDegrees(t *testing.T) {
	// 150 m apart east-west at high latitude; degree distance would differ.
	base := orb.Point{25.0, 65.0}
	pts := []orb.Point{base, base, base, offset(base, 150, 0), offset(base, 150, 0)}
	assert.Equal(t, 1, DBSCAN(pts, Params{EpsMeters: 200, MinPts: 5}).NumClusters)
	assert.Equal(t, 0, DBSCAN(pts, Params{EpsMeters: 100, MinPts: 5}).NumClusters)
}

func TestDBSCAN_Deterministic(t *testing.T) {
	pts := append(blob(orb.Point{71.40, 51.10}, 12, 15), blob(orb.Point{71.41, 51.10}, 12, 15)...)
	first := DBSCAN(pts, DefaultParams())
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, DBSCAN(pts, DefaultParams()))
	}
}

func TestParams_Normalized(t *testing.T) {
	p := Params{EpsMeters: -1, MinPts: 0}.normalized()
	assert.Equal(t, DefaultEndpointEpsMeters, p.EpsMeters)
	assert.Equal(t, 1, p.MinPts)
}

func TestCellID_Unique(t *testing.T) {
	seen := make(map[int64][2]int64)
	for x := int64(-20); x <= 20; x++ {
		for y := int64(-20); y <= 20; y++ {
			id := cellID(x, y)
			if prev, ok := seen[id]; ok {
				t.Fatalf("cellID(%d,%d) collides with %v", x, y, prev)
			}
			seen[id] = [2]int64{x, y}
		}
	}
}

func TestRegionQuery(t *testing.T) {
	base := orb.Point{71.4, 51.1}
	pts := Project([]orb.Point{base, offset(base, 30, 0), offset(base, 120, 0), offset(base, -60, 0)})
	si := NewSpatialIndex(50)
	si.Build(pts)

	got := si.RegionQuery(pts, 0, 50)
	assert.ElementsMatch(t, []int{0, 1}, got)
	got = si.RegionQuery(pts, 2, 50)
	assert.Equal(t, []int{2}, got)
}

// Dense input at the default sampling cap: each point is queued at most once,
// so memory stays linear in n rather than in the sum of neighbourhood sizes.
func TestDBSCAN_DenseInputBoundedMemory(t *testing.T) {
	if testing.Short() {
		t.Skip("dense clustering run")
	}
	rng := rand.New(rand.NewPCG(7, 11))
	base := orb.Point{71.4, 51.1}
	pts := make([]orb.Point, 20000)
	for i := range pts {
		pts[i] = offset(base, rng.Float64()*1000, rng.Float64()*1000)
	}

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	a := DBSCAN(pts, Params{EpsMeters: 200, MinPts: 10})
	runtime.ReadMemStats(&after)

	assert.Equal(t, 1, a.NumClusters)
	for i, l := range a.Labels {
		require.Equal(t, 0, l, "point %d", i)
	}
	allocMB := float64(after.TotalAlloc-before.TotalAlloc) / (1 << 20)
	assert.Less(t, allocMB, 64.0, "DBSCAN allocated %.1f MB", allocMB)
}

func TestDBSCAN_MatchesNaiveReference(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	base := orb.Point{71.4, 51.1}
	var pts []orb.Point
	for c := 0; c < 4; c++ {
		cx, cy := float64(c)*800, float64(c%2)*500
		for i := 0; i < 40; i++ {
			pts = append(pts, offset(base, cx+rng.NormFloat64()*40, cy+rng.NormFloat64()*40))
		}
	}
	for i := 0; i < 20; i++ {
		pts = append(pts, offset(base, rng.Float64()*3000, rng.Float64()*3000))
	}

	params := Params{EpsMeters: 60, MinPts: 5}
	a := DBSCAN(pts, params)

	// Core points and their reachability do not depend on visiting order.
	xy := Project(pts)
	core := make([]bool, len(xy))
	for i := range xy {
		count := 0
		for j := range xy {
			dx, dy := xy[i][0]-xy[j][0], xy[i][1]-xy[j][1]
			if dx*dx+dy*dy <= params.EpsMeters*params.EpsMeters {
				count++
			}
		}
		core[i] = count >= params.MinPts
	}
	for i := range xy {
		if core[i] {
			assert.NotEqual(t, Noise, a.Labels[i], "core point %d labelled noise", i)
		}
		for j := range xy {
			dx, dy := xy[i][0]-xy[j][0], xy[i][1]-xy[j][1]
			if core[i] && core[j] && dx*dx+dy*dy <= params.EpsMeters*params.EpsMeters {
				assert.Equal(t, a.Labels[i], a.Labels[j], "core neighbours %d and %d split", i, j)
			}
		}
	}
}
