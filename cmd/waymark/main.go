package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/waymark/internal/api"
	"github.com/banshee-data/waymark/internal/background"
	"github.com/banshee-data/waymark/internal/config"
	"github.com/banshee-data/waymark/internal/directions"
	"github.com/banshee-data/waymark/internal/geocode"
	"github.com/banshee-data/waymark/internal/httputil"
	"github.com/banshee-data/waymark/internal/position"
	"github.com/banshee-data/waymark/internal/store"
	"github.com/banshee-data/waymark/internal/tracking"
	"github.com/banshee-data/waymark/internal/version"
)

const fixturesFile = "fixtures.nmea"

type options struct {
	configPath  string
	database    string
	listen      string
	port        string
	dev         bool
	disableGPS  bool
	showVersion bool
}

// parseFlags reads the command line. WAYMARK_CONFIG, WAYMARK_DB and
// WAYMARK_LISTEN supply the defaults for their flags.
func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fset := flag.NewFlagSet("waymark", flag.ContinueOnError)
	fset.StringVar(&opts.configPath, "config", os.Getenv("WAYMARK_CONFIG"), "Path to a .json or .yaml config file")
	fset.StringVar(&opts.database, "db", os.Getenv("WAYMARK_DB"), "SQLite path or postgres:// DSN (overrides config)")
	fset.StringVar(&opts.listen, "listen", os.Getenv("WAYMARK_LISTEN"), "Listen address (overrides config)")
	fset.StringVar(&opts.port, "port", "", "GPS serial port (overrides config, ignored in dev mode)")
	fset.BoolVar(&opts.dev, "dev", false, "Replay "+fixturesFile+" instead of reading a receiver")
	fset.BoolVar(&opts.disableGPS, "disable-gps", false, "Run without a GPS receiver")
	fset.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	if opts.dev && opts.disableGPS {
		return nil, errors.New("-dev and -disable-gps are mutually exclusive")
	}
	return opts, nil
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.Empty()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}
	if opts.database != "" {
		cfg.Database = &opts.database
	}
	if opts.listen != "" {
		cfg.Listen = &opts.listen
	}
	if opts.port != "" {
		cfg.SerialPort = &opts.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type source interface {
	position.Source
	io.Closer
}

func newSource(cfg *config.Config, opts *options) (source, error) {
	switch {
	case opts.disableGPS:
		log.Print("GPS disabled; tracking requests will report restricted permission")
		return position.NewDisabledSource(), nil
	case opts.dev:
		log.Printf("dev mode: replaying %s", fixturesFile)
		return position.NewReplaySource(fixturesFile, time.Second), nil
	default:
		return position.NewSerialSource(cfg.GetSerialPort(), cfg.PortOptions(), position.Config{
			SignificantChange: cfg.GetSignificantChange(),
			FilterDistance:    cfg.GetFilterDistance(),
		})
	}
}

// Main
func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
	if opts.showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	st, err := store.Open(cfg.GetDatabase())
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	src, err := newSource(cfg, opts)
	if err != nil {
		log.Fatalf("failed to create position source: %v", err)
	}
	defer src.Close()

	ctrl := tracking.NewController(src, st, tracking.Config{
		FilterDistance: cfg.GetFilterDistance(),
		MaxGap:         cfg.GetMaxGap(),
	})

	runner := background.NewRunner(background.RunnerConfig{
		Budget:         cfg.GetWakeBudget(),
		MaxWakesPerDay: cfg.GetMaxWakesPerDay(),
	})
	defer runner.Close()

	rescheduler := background.NewRescheduler(runner, background.Config{
		Identifier: cfg.GetBackgroundTaskID(),
		MinDelay:   cfg.GetMinBackgroundDelay(),
		Window:     cfg.GetWakeWindow(),
	})
	if err := rescheduler.Register(ctrl); err != nil {
		log.Fatalf("failed to register background task: %v", err)
	}
	ctrl.SetRescheduler(rescheduler)

	client := httputil.NewStandardClient("waymark/" + version.Version)

	// Create a wait group for the controller and HTTP server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("tracking controller stopped: %v", err)
		}
		log.Print("controller routine terminated")
	}()

	if cfg.GetAutoStart() {
		status, err := ctrl.RequestPermission(ctx)
		if err != nil {
			log.Printf("failed to start tracking: %v", err)
		} else {
			log.Printf("tracking requested, state %s", status.State)
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(api.Config{
			Tracker:    ctrl,
			Store:      st,
			Geocoder:   geocode.NewNominatim(cfg.GetNominatimURL(), client),
			Directions: directions.NewOSRM(cfg.GetOSRMURL(), client),
			Wakes:      rescheduler,
			Runner:     runner,
			MaxGap:     cfg.GetMaxGap(),
		}).ServeMux()

		if err := st.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
