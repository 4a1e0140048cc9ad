package tracking

import "github.com/banshee-data/waymark/internal/geo"

// DefaultFilterDistance is the minimum movement in metres between two
// accepted fixes.
const DefaultFilterDistance = 100.0

// SampleFilter drops fixes that are closer than Distance to the last
// accepted fix. It is not safe for concurrent use; the controller owns it.
type SampleFilter struct {
	Distance float64
	last     *geo.Fix
}

// NewSampleFilter returns a filter with no previous fix.
func NewSampleFilter(distance float64) *SampleFilter {
	return &SampleFilter{Distance: distance}
}

// Accept returns fix and true when there is no previous fix or fix lies at
// least Distance from it; the previous fix is then replaced. Otherwise it
// returns false and the state is unchanged.
func (f *SampleFilter) Accept(fix geo.Fix) (geo.Fix, bool) {
	if f.last != nil && geo.Distance(f.last.Point, fix.Point) < f.Distance {
		return geo.Fix{}, false
	}
	f.last = &fix
	return fix, true
}

// Last returns the last accepted fix, or nil.
func (f *SampleFilter) Last() *geo.Fix {
	return f.last
}

// Restore sets the last accepted fix, e.g. when seeding from stored history
// or undoing an acceptance whose persistence failed. nil clears it.
func (f *SampleFilter) Restore(prev *geo.Fix) {
	f.last = prev
}

// Clear forgets the last accepted fix.
func (f *SampleFilter) Clear() {
	f.last = nil
}
