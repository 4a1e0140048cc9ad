// Package api serves the tracking controller, stored history and derived
// routes over HTTP.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/banshee-data/waymark/internal/background"
	"github.com/banshee-data/waymark/internal/directions"
	"github.com/banshee-data/waymark/internal/geocode"
	"github.com/banshee-data/waymark/internal/httputil"
	"github.com/banshee-data/waymark/internal/routes"
	"github.com/banshee-data/waymark/internal/store"
	"github.com/banshee-data/waymark/internal/tracking"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Tracker is the subset of *tracking.Controller the API drives.
type Tracker interface {
	Status(ctx context.Context) (tracking.Status, error)
	RequestPermission(ctx context.Context) (tracking.Status, error)
	Stop(ctx context.Context) (tracking.Status, error)
	Toggle(ctx context.Context) (tracking.Status, error)
	ClearHistory(ctx context.Context) (tracking.Status, error)
	Subscribe() (string, <-chan tracking.Notification)
	Unsubscribe(id string)
}

// WakeStatus reports on the background wake request.
type WakeStatus interface {
	Pending() bool
	LastError() error
}

// RunnerStats exposes the in-process background runner's counters.
type RunnerStats interface {
	Stats() background.RunnerStats
}

// Config wires a Server. Geocoder, Directions, Wakes and Runner are
// optional; the matching endpoints answer 503 when unset.
type Config struct {
	Tracker    Tracker
	Store      store.Store
	Geocoder   geocode.Geocoder
	Directions directions.Provider
	Wakes      WakeStatus
	Runner     RunnerStats
	// MaxGap is the default segmentation gap in meters.
	MaxGap float64
}

type Server struct {
	tracker    Tracker
	store      store.Store
	geocoder   geocode.Geocoder
	latest     *geocode.Latest
	directions directions.Provider
	wakes      WakeStatus
	runner     RunnerStats
	maxGap     float64
	validate   *validator.Validate
}

func NewServer(cfg Config) *Server {
	if cfg.MaxGap <= 0 {
		cfg.MaxGap = routes.DefaultMaxGap
	}
	var latest *geocode.Latest
	if cfg.Geocoder != nil {
		latest = geocode.NewLatest(cfg.Geocoder)
	}
	return &Server{
		tracker:    cfg.Tracker,
		store:      cfg.Store,
		geocoder:   cfg.Geocoder,
		latest:     latest,
		directions: cfg.Directions,
		wakes:      cfg.Wakes,
		runner:     cfg.Runner,
		maxGap:     cfg.MaxGap,
		validate:   validator.New(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.showStatus)
	mux.HandleFunc("GET /api/version", s.showVersion)
	mux.HandleFunc("POST /api/tracking/start", s.trackingCommand(Tracker.RequestPermission))
	mux.HandleFunc("POST /api/tracking/stop", s.trackingCommand(Tracker.Stop))
	mux.HandleFunc("POST /api/tracking/toggle", s.trackingCommand(Tracker.Toggle))
	mux.HandleFunc("GET /api/fixes", s.listFixes)
	mux.HandleFunc("DELETE /api/fixes", s.clearFixes)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/routes", s.listRoutes)
	mux.HandleFunc("GET /api/routes.geojson", s.routesGeoJSON)
	mux.HandleFunc("GET /api/address", s.lookupAddress)
	mux.HandleFunc("GET /api/directions", s.lookupDirections)
	mux.HandleFunc("GET /api/events", s.streamEvents)
	return mux
}

// writeTrackerError maps controller failures onto HTTP statuses.
func writeTrackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracking.ErrNotRunning),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}
