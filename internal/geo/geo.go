// Package geo defines the coordinate and fix types shared by the tracking
// pipeline, and the great-circle distance used to compare them.
package geo

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// ErrOutOfRange is returned by Validate for coordinates outside the WGS84 range.
var ErrOutOfRange = errors.New("coordinate out of range")

// GeoPoint is a WGS84 latitude/longitude pair in degrees.
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Validate checks latitude ∈ [-90,90] and longitude ∈ [-180,180].
func (p GeoPoint) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %f: %w", p.Latitude, ErrOutOfRange)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %f: %w", p.Longitude, ErrOutOfRange)
	}
	return nil
}

// Orb converts p to an orb.Point, which is ordered [lon, lat].
func (p GeoPoint) Orb() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// FromOrb converts an orb.Point ([lon, lat]) to a GeoPoint.
func FromOrb(p orb.Point) GeoPoint {
	return GeoPoint{Latitude: p.Lat(), Longitude: p.Lon()}
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", p.Latitude, p.Longitude)
}

// Distance returns the haversine distance between a and b in metres.
func Distance(a, b GeoPoint) float64 {
	return orbgeo.DistanceHaversine(a.Orb(), b.Orb())
}

// Fix is one located observation. Fixes are values and are never mutated
// after creation.
type Fix struct {
	Point      GeoPoint  `json:"point"`
	CapturedAt time.Time `json:"captured_at"`
}

// NewFix validates point and returns a Fix captured at t.
func NewFix(point GeoPoint, t time.Time) (Fix, error) {
	if err := point.Validate(); err != nil {
		return Fix{}, err
	}
	return Fix{Point: point, CapturedAt: t}, nil
}

func (f Fix) String() string {
	return fmt.Sprintf("%s@%s", f.Point, f.CapturedAt.UTC().Format(time.RFC3339))
}
