// Package testutil provides shared test helpers and fix builders.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	orbgeo "github.com/paulmach/orb/geo"

	"github.com/banshee-data/waymark/internal/geo"
)

// Epoch is the capture time of the first fix built by Walk and At.
var Epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// DecodeJSON unmarshals a recorded response body into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// At builds a fix captured offset after Epoch.
func At(lat, lon float64, offset time.Duration) geo.Fix {
	return geo.Fix{
		Point:      geo.GeoPoint{Latitude: lat, Longitude: lon},
		CapturedAt: Epoch.Add(offset),
	}
}

// Walk builds n fixes heading along bearing (degrees) from start, stepMeters
// apart and one minute apart in time.
func Walk(start geo.GeoPoint, bearing, stepMeters float64, n int) []geo.Fix {
	fixes := make([]geo.Fix, n)
	p := start.Orb()
	for i := range fixes {
		fixes[i] = geo.Fix{Point: geo.FromOrb(p), CapturedAt: Epoch.Add(time.Duration(i) * time.Minute)}
		p = orbgeo.PointAtBearingAndDistance(p, bearing, stepMeters)
	}
	return fixes
}
