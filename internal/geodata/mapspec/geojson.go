package mapspec

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ToGeoJSON exports every layer feature as a GeoJSON feature. Each feature
// carries "layer" and "kind" properties plus its styling attributes so the
// collection can be restyled by any GeoJSON-aware client.
func ToGeoJSON(s *Spec) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		"analysisType": s.AnalysisType,
		"title":        s.Title,
	}

	for _, l := range s.Layers {
		for _, h := range l.HeatPoints {
			f := newFeature(l, orb.Point{h.Lng, h.Lat})
			f.Properties["weight"] = h.Weight
			fc.Append(f)
		}
		for _, pl := range l.Polylines {
			ls := make(orb.LineString, len(pl.Path))
			for i, p := range pl.Path {
				ls[i] = orb.Point{p.Lng, p.Lat}
			}
			f := newFeature(l, ls)
			f.Properties["id"] = pl.ID
			f.Properties["color"] = pl.Color
			f.Properties["opacity"] = pl.Opacity
			fc.Append(f)
		}
		for _, m := range l.Markers {
			f := newFeature(l, orb.Point{m.Lng, m.Lat})
			f.Properties["label"] = m.Label
			f.Properties["color"] = m.Color
			f.Properties["count"] = m.Count
			fc.Append(f)
		}
		for _, sg := range l.Segments {
			f := newFeature(l, orb.LineString{{sg.From.Lng, sg.From.Lat}, {sg.To.Lng, sg.To.Lat}})
			f.Properties["color"] = sg.Color
			f.Properties["value"] = sg.Value
			fc.Append(f)
		}
	}
	return fc
}

func newFeature(l Layer, g orb.Geometry) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.Properties["layer"] = l.Name
	f.Properties["kind"] = string(l.Kind)
	return f
}
