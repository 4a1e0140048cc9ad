// Package config loads waymark's runtime configuration. Every field is
// optional; Get* accessors return the documented default for unset fields.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/waymark/internal/background"
	"github.com/banshee-data/waymark/internal/position"
	"github.com/banshee-data/waymark/internal/routes"
	"github.com/banshee-data/waymark/internal/tracking"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration. The same keys are accepted in JSON and
// YAML files.
type Config struct {
	// Tracking
	FilterDistanceM   *float64 `json:"filter_distance_m,omitempty" yaml:"filter_distance_m" validate:"omitempty,gt=0"`
	MaxGapM           *float64 `json:"max_gap_m,omitempty" yaml:"max_gap_m" validate:"omitempty,gt=0"`
	SignificantChange *bool    `json:"significant_change,omitempty" yaml:"significant_change"`
	AutoStart         *bool    `json:"auto_start,omitempty" yaml:"auto_start"`

	// Background wakes; durations are strings like "15m"
	MinBackgroundDelay *string `json:"min_background_delay,omitempty" yaml:"min_background_delay"`
	WakeBudget         *string `json:"wake_budget,omitempty" yaml:"wake_budget"`
	WakeWindow         *string `json:"wake_window,omitempty" yaml:"wake_window"`
	BackgroundTaskID   *string `json:"background_task_id,omitempty" yaml:"background_task_id" validate:"omitempty,min=1"`
	MaxWakesPerDay     *int    `json:"max_wakes_per_day,omitempty" yaml:"max_wakes_per_day" validate:"omitempty,gte=0"`

	// Storage and HTTP
	Database *string `json:"database,omitempty" yaml:"database" validate:"omitempty,min=1"`
	Listen   *string `json:"listen,omitempty" yaml:"listen" validate:"omitempty,hostname_port"`

	// GPS receiver
	SerialPort *string `json:"serial_port,omitempty" yaml:"serial_port" validate:"omitempty,min=1"`
	BaudRate   *int    `json:"baud_rate,omitempty" yaml:"baud_rate" validate:"omitempty,gt=0"`
	DataBits   *int    `json:"data_bits,omitempty" yaml:"data_bits" validate:"omitempty,min=5,max=8"`
	StopBits   *int    `json:"stop_bits,omitempty" yaml:"stop_bits" validate:"omitempty,oneof=1 2"`
	Parity     *string `json:"parity,omitempty" yaml:"parity"`

	// External services
	NominatimURL *string `json:"nominatim_url,omitempty" yaml:"nominatim_url" validate:"omitempty,url"`
	OSRMURL      *string `json:"osrm_url,omitempty" yaml:"osrm_url" validate:"omitempty,url"`
}

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a .json, .yaml or .yml file. Fields omitted from the file keep
// their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks field ranges and that durations parse.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	for name, v := range map[string]*string{
		"min_background_delay": c.MinBackgroundDelay,
		"wake_budget":          c.WakeBudget,
		"wake_window":          c.WakeWindow,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.GetWakeWindow() >= c.GetWakeBudget() {
		return fmt.Errorf("wake_window (%s) must be shorter than wake_budget (%s)", c.GetWakeWindow(), c.GetWakeBudget())
	}

	if _, err := c.PortOptions().Normalize(); err != nil {
		return err
	}
	return nil
}

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetFilterDistance returns the sample filter threshold in metres.
func (c *Config) GetFilterDistance() float64 {
	if c.FilterDistanceM == nil {
		return tracking.DefaultFilterDistance
	}
	return *c.FilterDistanceM
}

// GetMaxGap returns the route split distance in metres.
func (c *Config) GetMaxGap() float64 {
	if c.MaxGapM == nil {
		return routes.DefaultMaxGap
	}
	return *c.MaxGapM
}

func (c *Config) GetSignificantChange() bool {
	if c.SignificantChange == nil {
		return true
	}
	return *c.SignificantChange
}

func (c *Config) GetAutoStart() bool {
	if c.AutoStart == nil {
		return true
	}
	return *c.AutoStart
}

func (c *Config) GetMinBackgroundDelay() time.Duration {
	return parseDuration(c.MinBackgroundDelay, background.DefaultMinDelay)
}

func (c *Config) GetWakeBudget() time.Duration {
	return parseDuration(c.WakeBudget, 30*time.Second)
}

func (c *Config) GetWakeWindow() time.Duration {
	return parseDuration(c.WakeWindow, background.DefaultWindow)
}

func (c *Config) GetBackgroundTaskID() string {
	if c.BackgroundTaskID == nil {
		return background.DefaultIdentifier
	}
	return *c.BackgroundTaskID
}

func (c *Config) GetMaxWakesPerDay() int {
	if c.MaxWakesPerDay == nil {
		return 96
	}
	return *c.MaxWakesPerDay
}

// GetDatabase returns a SQLite path or a postgres:// DSN.
func (c *Config) GetDatabase() string {
	if c.Database == nil {
		return "waymark.db"
	}
	return *c.Database
}

func (c *Config) GetListen() string {
	if c.Listen == nil {
		return ":8080"
	}
	return *c.Listen
}

func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil {
		return "/dev/ttyACM0"
	}
	return *c.SerialPort
}

// PortOptions returns the receiver's serial settings. Unset fields are
// filled in by PortOptions.Normalize.
func (c *Config) PortOptions() position.PortOptions {
	var opts position.PortOptions
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	return opts
}

func (c *Config) GetNominatimURL() string {
	if c.NominatimURL == nil {
		return "https://nominatim.openstreetmap.org"
	}
	return *c.NominatimURL
}

func (c *Config) GetOSRMURL() string {
	if c.OSRMURL == nil {
		return "https://router.project-osrm.org"
	}
	return *c.OSRMURL
}
