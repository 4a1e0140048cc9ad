package routes

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FeatureCollection renders segments as GeoJSON. Segments with two or more
// points become LineStrings; a lone point cannot form a valid LineString and
// is emitted as a Point.
func FeatureCollection(segments []Segment) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, s := range segments {
		if len(s) == 0 {
			continue
		}
		var g orb.Geometry
		if len(s) == 1 {
			g = s[0].Orb()
		} else {
			ls := make(orb.LineString, len(s))
			for j, p := range s {
				ls[j] = p.Orb()
			}
			g = ls
		}
		f := geojson.NewFeature(g)
		sum := Summarize(s)
		f.Properties["index"] = i
		f.Properties["points"] = sum.Points
		f.Properties["length_m"] = sum.LengthMeters
		fc.Append(f)
	}
	return fc
}
