package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/banshee-data/waymark/internal/directions"
	"github.com/banshee-data/waymark/internal/geo"
	"github.com/banshee-data/waymark/internal/geocode"
	"github.com/banshee-data/waymark/internal/httputil"
)

type pointQuery struct {
	Lat string `validate:"required,latitude"`
	Lon string `validate:"required,longitude"`
}

func (s *Server) parsePoint(w http.ResponseWriter, r *http.Request) (geo.GeoPoint, bool) {
	q := pointQuery{Lat: r.URL.Query().Get("lat"), Lon: r.URL.Query().Get("lon")}
	if err := s.validate.Struct(q); err != nil {
		httputil.BadRequest(w, "Query parameters 'lat' and 'lon' must be valid coordinates")
		return geo.GeoPoint{}, false
	}
	lat, _ := strconv.ParseFloat(q.Lat, 64)
	lon, _ := strconv.ParseFloat(q.Lon, 64)
	return geo.GeoPoint{Latitude: lat, Longitude: lon}, true
}

// clientIDHeader identifies a map client. A client's new address lookup
// cancels its own previous one; anonymous lookups only end with their request.
const clientIDHeader = "X-Client-ID"

type addressResponse struct {
	Point   geo.GeoPoint `json:"point"`
	Address string       `json:"address"`
}

func (s *Server) lookupAddress(w http.ResponseWriter, r *http.Request) {
	if s.geocoder == nil {
		httputil.ServiceUnavailable(w, "reverse geocoding is not configured")
		return
	}
	p, ok := s.parsePoint(w, r)
	if !ok {
		return
	}

	var addr string
	var err error
	if caller := r.Header.Get(clientIDHeader); caller != "" {
		addr, err = s.latest.ReverseFor(r.Context(), caller, p)
	} else {
		addr, err = s.geocoder.Reverse(r.Context(), p)
	}
	switch {
	case err == nil:
		httputil.WriteJSONOK(w, addressResponse{Point: p, Address: addr})
	case errors.Is(err, geocode.ErrNoAddress):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, geocode.ErrSuperseded):
		httputil.WriteJSONError(w, http.StatusConflict, err.Error())
	default:
		httputil.BadGateway(w, err.Error())
	}
}

type directionsResponse struct {
	From   geo.GeoPoint   `json:"from"`
	To     geo.GeoPoint   `json:"to"`
	Points []geo.GeoPoint `json:"points"`
}

// lookupDirections routes from the query point to the saved destination,
// which is the most recent recorded fix.
func (s *Server) lookupDirections(w http.ResponseWriter, r *http.Request) {
	if s.directions == nil {
		httputil.ServiceUnavailable(w, "directions are not configured")
		return
	}
	from, ok := s.parsePoint(w, r)
	if !ok {
		return
	}

	dest, found, err := s.store.MostRecent(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if !found {
		httputil.NotFound(w, "no saved destination")
		return
	}

	points, err := s.directions.Route(r.Context(), from, dest.Point)
	switch {
	case err == nil:
		httputil.WriteJSONOK(w, directionsResponse{From: from, To: dest.Point, Points: points})
	case errors.Is(err, directions.ErrNoRoute):
		httputil.NotFound(w, err.Error())
	default:
		httputil.BadGateway(w, err.Error())
	}
}
