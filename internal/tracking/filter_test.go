package tracking

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/waymark/internal/geo"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fix(lat, lon float64, offset time.Duration) geo.Fix {
	return geo.Fix{Point: geo.GeoPoint{Latitude: lat, Longitude: lon}, CapturedAt: t0.Add(offset)}
}

func TestSampleFilter_FirstFixAccepted(t *testing.T) {
	f := NewSampleFilter(DefaultFilterDistance)
	got, ok := f.Accept(fix(0, 0, 0))
	require.True(t, ok)
	assert.Equal(t, fix(0, 0, 0), got)
	require.NotNil(t, f.Last())
}

// Scenario A: ~55 m apart is below the 100 m threshold.
func TestSampleFilter_RejectsNearbyFix(t *testing.T) {
	f := NewSampleFilter(DefaultFilterDistance)
	_, ok := f.Accept(fix(0, 0, 0))
	require.True(t, ok)

	_, ok = f.Accept(fix(0, 0.0005, time.Second))
	assert.False(t, ok)
	assert.Equal(t, fix(0, 0, 0), *f.Last(), "rejection must not move the reference fix")
}

func TestSampleFilter_AcceptsDistantFix(t *testing.T) {
	f := NewSampleFilter(DefaultFilterDistance)
	f.Accept(fix(0, 0, 0))

	next := fix(0, 0.001, time.Second) // ~111 m
	got, ok := f.Accept(next)
	require.True(t, ok)
	assert.Equal(t, next, got)
	assert.Equal(t, next, *f.Last())
}

func TestSampleFilter_CreepDoesNotAccumulate(t *testing.T) {
	f := NewSampleFilter(DefaultFilterDistance)
	f.Accept(fix(0, 0, 0))

	// 60 m steps: the second step is measured from the first accepted fix,
	// not from the rejected one.
	_, ok := f.Accept(fix(0, 0.00054, time.Second))
	assert.False(t, ok)
	_, ok = f.Accept(fix(0, 0.00108, 2*time.Second))
	assert.True(t, ok)
}

func TestSampleFilter_ClearAndRestore(t *testing.T) {
	f := NewSampleFilter(DefaultFilterDistance)
	first := fix(0, 0, 0)
	f.Accept(first)

	f.Clear()
	assert.Nil(t, f.Last())
	_, ok := f.Accept(fix(0, 0.0001, time.Second))
	assert.True(t, ok, "after Clear any fix is accepted")

	f.Restore(&first)
	_, ok = f.Accept(fix(0, 0.0002, 2*time.Second))
	assert.False(t, ok)
}

func TestSampleFilter_NeverAcceptsBelowThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		f := NewSampleFilter(DefaultFilterDistance)
		a := fix(rng.Float64()*160-80, rng.Float64()*340-170, 0)
		b := fix(a.Point.Latitude+(rng.Float64()-0.5)*0.002, a.Point.Longitude+(rng.Float64()-0.5)*0.002, time.Second)

		_, ok := f.Accept(a)
		require.True(t, ok)
		_, ok = f.Accept(b)
		if geo.Distance(a.Point, b.Point) < DefaultFilterDistance {
			assert.False(t, ok, "accepted %v after %v at %.1f m", b, a, geo.Distance(a.Point, b.Point))
		} else {
			assert.True(t, ok)
		}
	}
}
