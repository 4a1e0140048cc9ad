// Package routes reconstructs the persisted fix history into discrete
// travel segments for display.
package routes

import (
	"github.com/banshee-data/waymark/internal/geo"
	"gonum.org/v1/gonum/floats"
)

// DefaultMaxGap is the distance in metres between consecutive fixes above
// which a route is broken into a new segment.
const DefaultMaxGap = 200.0

// Segment is one contiguous travel stretch. It always holds at least one point.
type Segment []geo.GeoPoint

// Split turns an ascending fix sequence into route segments, starting a new
// segment wherever two consecutive fixes are more than maxGap metres apart.
// The input is not modified; concatenating the result reproduces the input
// points in order.
func Split(fixes []geo.Fix, maxGap float64) []Segment {
	var (
		segments []Segment
		current  Segment
		previous *geo.Fix
	)

	for i := range fixes {
		f := fixes[i]
		if previous != nil && geo.Distance(previous.Point, f.Point) > maxGap {
			if len(current) > 0 {
				segments = append(segments, current)
			}
			current = nil
		}
		current = append(current, f.Point)
		previous = &fixes[i]
	}

	if len(current) > 0 {
		segments = append(segments, current)
	}
	return segments
}

// ShouldConnect reports whether a live display should draw a line from the
// previously recorded point to next. It agrees with Split: the two points
// end up in the same segment exactly when ShouldConnect is true.
func ShouldConnect(previous *geo.GeoPoint, next geo.GeoPoint, maxGap float64) bool {
	if previous == nil {
		return false
	}
	return geo.Distance(*previous, next) <= maxGap
}

// Summary describes one segment.
type Summary struct {
	Points           int          `json:"points"`
	LengthMeters     float64      `json:"length_m"`
	LongestLegMeters float64      `json:"longest_leg_m"`
	Start            geo.GeoPoint `json:"start"`
	End              geo.GeoPoint `json:"end"`
}

// Summarize measures a segment. Single-point segments have zero length.
func Summarize(s Segment) Summary {
	if len(s) == 0 {
		return Summary{}
	}
	sum := Summary{Points: len(s), Start: s[0], End: s[len(s)-1]}
	if len(s) < 2 {
		return sum
	}
	legs := make([]float64, len(s)-1)
	for i := 1; i < len(s); i++ {
		legs[i-1] = geo.Distance(s[i-1], s[i])
	}
	sum.LengthMeters = floats.Sum(legs)
	sum.LongestLegMeters = floats.Max(legs)
	return sum
}
