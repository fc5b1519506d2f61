// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/geohealth/access-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Grid    GridConfig    `yaml:"grid" mapstructure:"grid"`
	OSRM    OSRMConfig    `yaml:"osrm" mapstructure:"osrm"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Region  RegionConfig  `yaml:"region" mapstructure:"region"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. Driver is "sqlite",
// "postgres", or "none" for purely file-to-file invocations.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GridConfig configures hex grid generation.
type GridConfig struct {
	Resolution int `yaml:"resolution" mapstructure:"resolution"`
}

// OSRMConfig configures the routing engine client.
type OSRMConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	Profile          string  `yaml:"profile" mapstructure:"profile"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	FallbackSpeedKmh float64 `yaml:"fallback_speed_kmh" mapstructure:"fallback_speed_kmh"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
}

// MetricsConfig configures the aggregation phase.
type MetricsConfig struct {
	BandsKm      []float64 `yaml:"bands_km" mapstructure:"bands_km"`
	ProfilesPath string    `yaml:"profiles_path" mapstructure:"profiles_path"`
}

// RegionConfig bounds sanity checks on input coordinates. Optional; when the
// box is unset no region check is applied.
type RegionConfig struct {
	Name    string     `yaml:"name" mapstructure:"name"`
	BBox    model.BBox `yaml:"bbox" mapstructure:"bbox"`
	UTMZone int        `yaml:"utm_zone" mapstructure:"utm_zone"`
}

// FetchConfig configures input data acquisition.
type FetchConfig struct {
	DataDir        string `yaml:"data_dir" mapstructure:"data_dir"`
	BoundaryAPIURL string `yaml:"boundary_api_url" mapstructure:"boundary_api_url"`
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ACCESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "access.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("grid.resolution", 8)
	v.SetDefault("osrm.base_url", "http://localhost:5000")
	v.SetDefault("osrm.profile", "driving")
	v.SetDefault("osrm.timeout_secs", 10)
	v.SetDefault("osrm.rate_limit", 100)
	v.SetDefault("osrm.max_retries", 3)
	v.SetDefault("osrm.fallback_speed_kmh", 30)
	v.SetDefault("osrm.breaker_threshold", 10)
	v.SetDefault("metrics.bands_km", []float64{5, 10, 20})
	v.SetDefault("fetch.data_dir", "data")
	v.SetDefault("fetch.boundary_api_url", "https://www.geoboundaries.org/api/current/gbOpen")
	v.SetDefault("fetch.user_agent", "access-cli/1.0")

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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration bounds. Collects every problem rather than
// stopping at the first.
func (c *Config) Validate() error {
	var problems []string

	if c.Grid.Resolution < 0 || c.Grid.Resolution > 15 {
		problems = append(problems, "grid.resolution must be between 0 and 15")
	}
	if c.OSRM.FallbackSpeedKmh <= 0 {
		problems = append(problems, "osrm.fallback_speed_kmh must be > 0")
	}
	if c.OSRM.RateLimit < 0 {
		problems = append(problems, "osrm.rate_limit must be >= 0")
	}
	if c.OSRM.MaxRetries < 0 {
		problems = append(problems, "osrm.max_retries must be >= 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	for _, b := range c.Metrics.BandsKm {
		if b <= 0 {
			problems = append(problems, "metrics.bands_km values must be > 0")
			break
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
