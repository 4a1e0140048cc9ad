package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/waymark/internal/geo"
)

func TestAssertStatusCode_FailurePath(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	ok := t.Run("status mismatch", func(t *testing.T) {
		AssertStatusCode(t, http.StatusOK, http.StatusBadRequest)
	})
	if ok {
		t.Fatal("expected subtest to fail on mismatched status code")
	}
}

func TestDecodeJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteString(`{"lat": 41.5, "lon": 29}`)

	var p geo.GeoPoint
	DecodeJSON(t, rec, &p)
	assert.Equal(t, geo.GeoPoint{Latitude: 41.5, Longitude: 29}, p)
}

func TestAt(t *testing.T) {
	f := At(1, 2, time.Hour)
	assert.Equal(t, geo.GeoPoint{Latitude: 1, Longitude: 2}, f.Point)
	assert.Equal(t, Epoch.Add(time.Hour), f.CapturedAt)
}

func TestWalk(t *testing.T) {
	start := geo.GeoPoint{Latitude: 41, Longitude: 29}
	fixes := Walk(start, 0, 150, 4)
	require.Len(t, fixes, 4)
	assert.Equal(t, start, fixes[0].Point)
	for i := 1; i < len(fixes); i++ {
		assert.InDelta(t, 150, geo.Distance(fixes[i-1].Point, fixes[i].Point), 0.5)
		assert.Equal(t, time.Minute, fixes[i].CapturedAt.Sub(fixes[i-1].CapturedAt))
		assert.Greater(t, fixes[i].Point.Latitude, fixes[i-1].Point.Latitude)
	}
}
