package config

import (
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data       DataConfig       `yaml:"data" mapstructure:"data"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the boundary and tabular sources. Relative paths are
// resolved against BaseURL when it is set, otherwise against the working
// directory.
type DataConfig struct {
	BaseURL        string       `yaml:"base_url" mapstructure:"base_url"`
	GeometryPath   string       `yaml:"geometry_path" mapstructure:"geometry_path"`
	GeometryFormat string       `yaml:"geometry_format" mapstructure:"geometry_format"`
	Object         string       `yaml:"object" mapstructure:"object"`
	OutlinePath    string       `yaml:"outline_path" mapstructure:"outline_path"`
	OutlineObject  string       `yaml:"outline_object" mapstructure:"outline_object"`
	Years          []YearSource `yaml:"years" mapstructure:"years"`
	DefaultYear    int          `yaml:"default_year" mapstructure:"default_year"`
	Preload        bool         `yaml:"preload" mapstructure:"preload"`
	Locale         string       `yaml:"locale" mapstructure:"locale"`
	Tolerance      float64      `yaml:"discrepancy_tolerance" mapstructure:"discrepancy_tolerance"`
}

// YearSource maps a forecast year to its tabular file.
type YearSource struct {
	Year int    `yaml:"year" mapstructure:"year"`
	Path string `yaml:"path" mapstructure:"path"`
}

// FetchConfig configures the HTTP fetcher.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerHost float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
}

// CacheConfig configures the payload cache and load history store.
type CacheConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	TTLHours    int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background load-health checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	WarningThreshold     int     `yaml:"warning_threshold" mapstructure:"warning_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// FetchTimeout returns the per-request timeout.
func (c FetchConfig) FetchTimeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// YearList returns the configured years in ascending order.
func (c DataConfig) YearList() []int {
	out := make([]int, 0, len(c.Years))
	for _, y := range c.Years {
		out = append(out, y.Year)
	}
	sort.Ints(out)
	return out
}

// YearPath returns the tabular path for year.
func (c DataConfig) YearPath(year int) (string, bool) {
	for _, y := range c.Years {
		if y.Year == year {
			return y.Path, true
		}
	}
	return "", false
}

// Resolve joins a relative source path onto BaseURL.
func (c DataConfig) Resolve(path string) string {
	if c.BaseURL == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Validate checks cross-field constraints the defaults cannot express.
func (c *Config) Validate() error {
	if len(c.Data.Years) == 0 {
		return eris.New("config: data.years must list at least one year")
	}
	seen := make(map[int]bool, len(c.Data.Years))
	for _, y := range c.Data.Years {
		if y.Year <= 0 || y.Path == "" {
			return eris.Errorf("config: data.years entry %+v needs a year and a path", y)
		}
		if seen[y.Year] {
			return eris.Errorf("config: data.years lists %d twice", y.Year)
		}
		seen[y.Year] = true
	}
	if !seen[c.Data.DefaultYear] {
		return eris.Errorf("config: data.default_year %d is not in data.years", c.Data.DefaultYear)
	}
	switch c.Data.GeometryFormat {
	case "topojson", "geojson", "shapefile":
	default:
		return eris.Errorf("config: data.geometry_format %q must be topojson, geojson or shapefile", c.Data.GeometryFormat)
	}
	if c.Data.GeometryPath == "" {
		return eris.New("config: data.geometry_path is required")
	}
	if c.Cache.Enabled {
		switch c.Cache.Driver {
		case "", "sqlite":
			if c.Cache.Path == "" {
				return eris.New("config: cache.path is required for the sqlite cache")
			}
		case "postgres":
			if c.Cache.DatabaseURL == "" {
				return eris.New("config: cache.database_url is required for the postgres cache")
			}
		default:
			return eris.Errorf("config: cache.driver %q must be sqlite or postgres", c.Cache.Driver)
		}
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VMT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.base_url", "")
	v.SetDefault("data.geometry_path", "data/MA_TOWNS_MPO101.json")
	v.SetDefault("data.geometry_format", "topojson")
	v.SetDefault("data.object", "MA_TOWNS_MPO101")
	v.SetDefault("data.outline_path", "data/MA_TOWNS_NON_MPO101.json")
	v.SetDefault("data.outline_object", "MA_TOWNS_NON_MPO101")
	v.SetDefault("data.years", []map[string]any{
		{"year": 2012, "path": "data/CTPS_TOWNS_MAPC_VMT_2012.csv"},
		{"year": 2020, "path": "data/CTPS_TOWNS_MAPC_VMT_2020.csv"},
		{"year": 2040, "path": "data/CTPS_TOWNS_MAPC_VMT_2040.csv"},
	})
	v.SetDefault("data.default_year", 2012)
	v.SetDefault("data.preload", false)
	v.SetDefault("data.locale", "en-US")
	v.SetDefault("data.discrepancy_tolerance", 0.5)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.user_agent", "vmt-browser/1.0")
	v.SetDefault("fetch.rate_per_host", 20.0)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "vmt-cache.db")
	v.SetDefault("cache.max_conns", 5)
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.warning_threshold", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
