package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/banshee-data/waymark/internal/background"
	"github.com/banshee-data/waymark/internal/geo"
	"github.com/banshee-data/waymark/internal/httputil"
	"github.com/banshee-data/waymark/internal/routes"
	"github.com/banshee-data/waymark/internal/store"
	"github.com/banshee-data/waymark/internal/tracking"
	"github.com/banshee-data/waymark/internal/version"
)

type backgroundStatus struct {
	Pending   bool                    `json:"pending"`
	LastError string                  `json:"last_error,omitempty"`
	Runner    *background.RunnerStats `json:"runner,omitempty"`
}

type statusResponse struct {
	tracking.Status
	Background *backgroundStatus `json:"background,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.tracker.Status(r.Context())
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	resp := statusResponse{Status: st}
	if s.wakes != nil {
		bg := &backgroundStatus{Pending: s.wakes.Pending()}
		if err := s.wakes.LastError(); err != nil {
			bg.LastError = err.Error()
		}
		if s.runner != nil {
			stats := s.runner.Stats()
			bg.Runner = &stats
		}
		resp.Background = bg
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Current())
}

func (s *Server) trackingCommand(cmd func(Tracker, context.Context) (tracking.Status, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := cmd(s.tracker, r.Context())
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		httputil.WriteJSONOK(w, st)
	}
}

func (s *Server) listFixes(w http.ResponseWriter, r *http.Request) {
	fixes, err := s.store.AllAscending(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if fixes == nil {
		fixes = []geo.Fix{}
	}
	httputil.WriteJSONOK(w, fixes)
}

// clearFixes goes through the controller so its filter and live line are
// reset together with the store.
func (s *Server) clearFixes(w http.ResponseWriter, r *http.Request) {
	st, err := s.tracker.ClearHistory(r.Context())
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.(store.SessionRecorder)
	if !ok {
		httputil.NotFound(w, "store does not record sessions")
		return
	}
	sessions, err := rec.Sessions(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

type routeSegment struct {
	Index   int            `json:"index"`
	Points  []geo.GeoPoint `json:"points"`
	Summary routes.Summary `json:"summary"`
}

type routesResponse struct {
	MaxGap   float64        `json:"max_gap_m"`
	Segments []routeSegment `json:"segments"`
}

type routesQuery struct {
	MaxGap float64 `validate:"gt=0"`
}

// segments reads the whole history and splits it, honouring an optional
// max_gap_m query parameter.
func (s *Server) segments(w http.ResponseWriter, r *http.Request) ([]routes.Segment, float64, bool) {
	q := routesQuery{MaxGap: s.maxGap}
	if v := r.URL.Query().Get("max_gap_m"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			httputil.BadRequest(w, "Invalid 'max_gap_m' parameter")
			return nil, 0, false
		}
		q.MaxGap = parsed
	}
	if err := s.validate.Struct(q); err != nil {
		httputil.BadRequest(w, "Invalid 'max_gap_m' parameter")
		return nil, 0, false
	}

	fixes, err := s.store.AllAscending(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, 0, false
	}
	return routes.Split(fixes, q.MaxGap), q.MaxGap, true
}

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
	segs, maxGap, ok := s.segments(w, r)
	if !ok {
		return
	}
	resp := routesResponse{MaxGap: maxGap, Segments: make([]routeSegment, len(segs))}
	for i, seg := range segs {
		resp.Segments[i] = routeSegment{Index: i, Points: seg, Summary: routes.Summarize(seg)}
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) routesGeoJSON(w http.ResponseWriter, r *http.Request) {
	segs, _, ok := s.segments(w, r)
	if !ok {
		return
	}
	httputil.WriteGeoJSON(w, routes.FeatureCollection(segs))
}
