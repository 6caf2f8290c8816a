package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "topojson", cfg.Data.GeometryFormat)
	assert.Equal(t, "MA_TOWNS_MPO101", cfg.Data.Object)
	assert.Equal(t, "MA_TOWNS_NON_MPO101", cfg.Data.OutlineObject)
	assert.Equal(t, []int{2012, 2020, 2040}, cfg.Data.YearList())
	assert.Equal(t, 2012, cfg.Data.DefaultYear)
	assert.Equal(t, "en-US", cfg.Data.Locale)
	assert.InDelta(t, 0.5, cfg.Data.Tolerance, 0.0001)
	assert.False(t, cfg.Data.Preload)

	path, ok := cfg.Data.YearPath(2040)
	require.True(t, ok)
	assert.Equal(t, "data/CTPS_TOWNS_MAPC_VMT_2040.csv", path)

	assert.Equal(t, 30*time.Second, cfg.Fetch.FetchTimeout())
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, "vmt-browser/1.0", cfg.Fetch.UserAgent)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "sqlite", cfg.Cache.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
data:
  base_url: https://www.ctps.org/map/vmt
  geometry_format: geojson
  years:
    - year: 2016
      path: data/towns_2016.csv
  default_year: 2016
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "geojson", cfg.Data.GeometryFormat)
	assert.Equal(t, []int{2016}, cfg.Data.YearList())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, "MA_TOWNS_MPO101", cfg.Data.Object)
	assert.Equal(t, "https://www.ctps.org/map/vmt/data/towns_2016.csv", cfg.Data.Resolve("data/towns_2016.csv"))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
cache:
  enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("VMT_LOG_LEVEL", "warn")
	t.Setenv("VMT_CACHE_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("VMT_SERVER_PORT", "3000")
	t.Setenv("VMT_DATA_DEFAULT_YEAR", "2040")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 2040, cfg.Data.DefaultYear)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestResolve(t *testing.T) {
	local := DataConfig{}
	assert.Equal(t, "data/a.csv", local.Resolve("data/a.csv"))

	remote := DataConfig{BaseURL: "https://example.com/vmt/"}
	assert.Equal(t, "https://example.com/vmt/data/a.csv", remote.Resolve("/data/a.csv"))
	assert.Equal(t, "file:///tmp/a.csv", remote.Resolve("file:///tmp/a.csv"))
}

// validDefaults returns a Config with the shipped defaults for validation tests.
func validDefaults() *Config {
	return &Config{
		Data: DataConfig{
			GeometryPath:   "data/MA_TOWNS_MPO101.json",
			GeometryFormat: "topojson",
			Years: []YearSource{
				{Year: 2012, Path: "a.csv"},
				{Year: 2040, Path: "b.csv"},
			},
			DefaultYear: 2012,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no years", func(c *Config) { c.Data.Years = nil }, "at least one year"},
		{"duplicate year", func(c *Config) { c.Data.Years[1].Year = 2012 }, "lists 2012 twice"},
		{"missing path", func(c *Config) { c.Data.Years[0].Path = "" }, "needs a year and a path"},
		{"default not listed", func(c *Config) { c.Data.DefaultYear = 2020 }, "default_year 2020"},
		{"bad format", func(c *Config) { c.Data.GeometryFormat = "kml" }, "geometry_format"},
		{"no geometry", func(c *Config) { c.Data.GeometryPath = "" }, "geometry_path"},
		{"cache without path", func(c *Config) { c.Cache.Enabled = true }, "cache.path"},
		{"postgres without url", func(c *Config) { c.Cache.Enabled = true; c.Cache.Driver = "postgres" }, "cache.database_url"},
		{"unknown driver", func(c *Config) { c.Cache.Enabled = true; c.Cache.Driver = "redis" }, "cache.driver"},
	}
	require.NoError(t, validDefaults().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
