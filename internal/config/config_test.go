package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := Empty()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100.0, cfg.GetFilterDistance())
	assert.Equal(t, 200.0, cfg.GetMaxGap())
	assert.Equal(t, 15*time.Minute, cfg.GetMinBackgroundDelay())
	assert.Equal(t, 30*time.Second, cfg.GetWakeBudget())
	assert.Equal(t, 20*time.Second, cfg.GetWakeWindow())
	assert.Equal(t, "waymark.background-location-update", cfg.GetBackgroundTaskID())
	assert.Equal(t, 96, cfg.GetMaxWakesPerDay())
	assert.True(t, cfg.GetSignificantChange())
	assert.True(t, cfg.GetAutoStart())
	assert.Equal(t, "waymark.db", cfg.GetDatabase())
	assert.Equal(t, ":8080", cfg.GetListen())
	assert.Equal(t, "/dev/ttyACM0", cfg.GetSerialPort())
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.GetNominatimURL())
	assert.Equal(t, "https://router.project-osrm.org", cfg.GetOSRMURL())

	opts, err := cfg.PortOptions().Normalize()
	require.NoError(t, err)
	assert.Equal(t, 9600, opts.BaudRate)
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "waymark.json", `{
  "filter_distance_m": 50,
  "max_gap_m": 500,
  "min_background_delay": "20m",
  "significant_change": false,
  "database": "postgres://waymark@localhost/waymark",
  "baud_rate": 4800
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50.0, cfg.GetFilterDistance())
	assert.Equal(t, 500.0, cfg.GetMaxGap())
	assert.Equal(t, 20*time.Minute, cfg.GetMinBackgroundDelay())
	assert.False(t, cfg.GetSignificantChange())
	assert.Equal(t, "postgres://waymark@localhost/waymark", cfg.GetDatabase())
	assert.Equal(t, 4800, cfg.PortOptions().BaudRate)

	// unset fields keep defaults
	assert.Equal(t, 30*time.Second, cfg.GetWakeBudget())
	assert.True(t, cfg.GetAutoStart())
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "waymark.yaml", `
filter_distance_m: 75
auto_start: false
wake_budget: 45s
wake_window: 40s
listen: 127.0.0.1:9090
serial_port: /dev/ttyUSB0
parity: even
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 75.0, cfg.GetFilterDistance())
	assert.False(t, cfg.GetAutoStart())
	assert.Equal(t, 45*time.Second, cfg.GetWakeBudget())
	assert.Equal(t, 40*time.Second, cfg.GetWakeWindow())
	assert.Equal(t, "127.0.0.1:9090", cfg.GetListen())
	assert.Equal(t, "/dev/ttyUSB0", cfg.GetSerialPort())
	assert.Equal(t, "even", cfg.PortOptions().Parity)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"extension", "waymark.toml", `filter_distance_m = 1`, "extension"},
		{"bad json", "waymark.json", `{"filter_distance_m": }`, "parse config JSON"},
		{"bad yaml", "waymark.yml", "filter_distance_m: [", "parse config YAML"},
		{"negative distance", "waymark.json", `{"filter_distance_m": -1}`, "FilterDistanceM"},
		{"zero max gap", "waymark.json", `{"max_gap_m": 0}`, "MaxGapM"},
		{"bad duration", "waymark.json", `{"wake_budget": "soon"}`, "wake_budget"},
		{"window not shorter than budget", "waymark.json", `{"wake_window": "30s"}`, "wake_window"},
		{"bad url", "waymark.json", `{"osrm_url": "not a url"}`, "OSRMURL"},
		{"bad listen", "waymark.json", `{"listen": "8080"}`, "Listen"},
		{"bad stop bits", "waymark.json", `{"stop_bits": 3}`, "StopBits"},
		{"bad parity", "waymark.json", `{"parity": "mark"}`, "parity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_TooLarge(t *testing.T) {
	path := writeConfig(t, "big.json", `{"database": "`+strings.Repeat("x", maxFileSize)+`"}`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
