// Package directions fetches a driving route between two points.
package directions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/waymark/internal/geo"
	"github.com/banshee-data/waymark/internal/httputil"
)

// ErrNoRoute is returned when the provider finds no route.
var ErrNoRoute = errors.New("no route found")

// Provider returns the polyline of a route from one point to another.
type Provider interface {
	Route(ctx context.Context, from, to geo.GeoPoint) ([]geo.GeoPoint, error)
}

// OSRM queries an OSRM routing server with the driving profile.
type OSRM struct {
	BaseURL string
	client  httputil.HTTPClient
}

func NewOSRM(baseURL string, client httputil.HTTPClient) *OSRM {
	return &OSRM{BaseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Geometry *geojson.Geometry `json:"geometry"`
		Distance float64           `json:"distance"`
	} `json:"routes"`
}

func (o *OSRM) Route(ctx context.Context, from, to geo.GeoPoint) ([]geo.GeoPoint, error) {
	for _, p := range []geo.GeoPoint{from, to} {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	u := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		o.BaseURL, from.Longitude, from.Latitude, to.Longitude, to.Latitude)

	var resp osrmResponse
	err := httputil.GetJSON(ctx, o.client, u, &resp)
	var se *httputil.StatusError
	if errors.As(err, &se) && strings.Contains(se.Body, "NoRoute") {
		return nil, ErrNoRoute
	}
	if err != nil {
		return nil, fmt.Errorf("route %s -> %s: %w", from, to, err)
	}
	if resp.Code != "Ok" {
		if resp.Code == "NoRoute" {
			return nil, ErrNoRoute
		}
		return nil, fmt.Errorf("route %s -> %s: %s: %s", from, to, resp.Code, resp.Message)
	}
	if len(resp.Routes) == 0 || resp.Routes[0].Geometry == nil {
		return nil, ErrNoRoute
	}

	line, ok := resp.Routes[0].Geometry.Coordinates.(orb.LineString)
	if !ok || len(line) == 0 {
		return nil, ErrNoRoute
	}
	points := make([]geo.GeoPoint, len(line))
	for i, p := range line {
		points[i] = geo.FromOrb(p)
	}
	return points, nil
}
