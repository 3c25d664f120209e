package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/landcover-cli/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Source   SourceConfig   `yaml:"source" mapstructure:"source"`
	Sink     SinkConfig     `yaml:"sink" mapstructure:"sink"`
	Mirror   MirrorConfig   `yaml:"mirror" mapstructure:"mirror"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// AnalysisConfig is the analysis parameter surface. It is read once and
// passed by value to every stage.
type AnalysisConfig struct {
	StartYear      int      `yaml:"start_year" mapstructure:"start_year"`
	EndYear        int      `yaml:"end_year" mapstructure:"end_year"`
	CloudThreshold float64  `yaml:"cloud_threshold" mapstructure:"cloud_threshold"`
	Bands          []string `yaml:"bands" mapstructure:"bands"`
	ForestClassID  int      `yaml:"forest_class_id" mapstructure:"forest_class_id"`
	SplitThreshold float64  `yaml:"train_validation_split_threshold" mapstructure:"train_validation_split_threshold"`
	Trees          int      `yaml:"random_forest_tree_count" mapstructure:"random_forest_tree_count"`
	Seed           int64    `yaml:"random_seed" mapstructure:"random_seed"`
	SampleScale    float64  `yaml:"sample_scale" mapstructure:"sample_scale"`
	ReduceScale    float64  `yaml:"reduce_scale" mapstructure:"reduce_scale"`

	Sensor    string `yaml:"sensor" mapstructure:"sensor"`
	Region    string `yaml:"region" mapstructure:"region"` // GeoJSON file; empty is unbounded
	FailFast  bool   `yaml:"fail_fast" mapstructure:"fail_fast"`
	Workers   int    `yaml:"workers" mapstructure:"workers"`
	TileSize  int    `yaml:"tile_size" mapstructure:"tile_size"`
	TrendBand string `yaml:"trend_band" mapstructure:"trend_band"`

	MaxDepth         int `yaml:"max_depth" mapstructure:"max_depth"`
	MinLeafSize      int `yaml:"min_leaf_size" mapstructure:"min_leaf_size"`
	FeaturesPerSplit int `yaml:"features_per_split" mapstructure:"features_per_split"`
}

// SourceConfig configures the directory imagery archive.
type SourceConfig struct {
	Dir        string  `yaml:"dir" mapstructure:"dir"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
	Retries    int     `yaml:"retries" mapstructure:"retries"`
}

// SinkConfig selects the raster sink and run registry.
type SinkConfig struct {
	Driver string         `yaml:"driver" mapstructure:"driver"` // "sqlite", "postgres" or "dir"
	DSN    string         `yaml:"dsn" mapstructure:"dsn"`
	Dir    string         `yaml:"dir" mapstructure:"dir"`
	Pool   *db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// MirrorConfig configures remote archive mirroring.
type MirrorConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultBands are the composite bands used for classification.
var DefaultBands = []string{"BLUE", "GREEN", "RED", "NIR", "SWIR1", "SWIR2", "NDVI", "NDMI", "EVI"}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LANDCOVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("analysis.start_year", 2018)
	v.SetDefault("analysis.end_year", 2023)
	v.SetDefault("analysis.cloud_threshold", 10.0)
	v.SetDefault("analysis.bands", DefaultBands)
	v.SetDefault("analysis.forest_class_id", 1)
	v.SetDefault("analysis.train_validation_split_threshold", 0.3)
	v.SetDefault("analysis.random_forest_tree_count", 100)
	v.SetDefault("analysis.random_seed", 42)
	v.SetDefault("analysis.sample_scale", 30.0)
	v.SetDefault("analysis.reduce_scale", 30.0)
	v.SetDefault("analysis.sensor", "LANDSAT_8_SR")
	v.SetDefault("analysis.region", "")
	v.SetDefault("analysis.fail_fast", false)
	v.SetDefault("analysis.workers", 0)
	v.SetDefault("analysis.tile_size", 256)
	v.SetDefault("analysis.trend_band", "NDVI")
	v.SetDefault("analysis.max_depth", 0)
	v.SetDefault("analysis.min_leaf_size", 1)
	v.SetDefault("analysis.features_per_split", 0)
	v.SetDefault("source.dir", "archive")
	v.SetDefault("source.rate_per_sec", 0.0)
	v.SetDefault("source.burst", 1)
	v.SetDefault("source.retries", 3)
	v.SetDefault("sink.driver", "sqlite")
	v.SetDefault("sink.dsn", "landcover.db")
	v.SetDefault("sink.dir", "")
	v.SetDefault("mirror.base_url", "")
	v.SetDefault("mirror.timeout_secs", 300)
	v.SetDefault("mirror.concurrency", 4)
	v.SetDefault("mirror.rate_per_sec", 0.0)
	v.SetDefault("mirror.user_agent", "landcover-cli/1.0")
	v.SetDefault("server.port", 8080)
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

// Validate checks the analysis parameters.
func (a AnalysisConfig) Validate() error {
	var errs []string
	if a.EndYear < a.StartYear {
		errs = append(errs, fmt.Sprintf("analysis.end_year %d is before start_year %d", a.EndYear, a.StartYear))
	}
	if a.CloudThreshold < 0 || a.CloudThreshold > 100 {
		errs = append(errs, "analysis.cloud_threshold must be between 0 and 100")
	}
	if a.SplitThreshold < 0 || a.SplitThreshold > 1 {
		errs = append(errs, "analysis.train_validation_split_threshold must be between 0 and 1")
	}
	if a.Trees <= 0 {
		errs = append(errs, "analysis.random_forest_tree_count must be > 0")
	}
	if a.SampleScale <= 0 || a.ReduceScale <= 0 {
		errs = append(errs, "analysis.sample_scale and reduce_scale must be > 0")
	}
	if len(a.Bands) == 0 {
		errs = append(errs, "analysis.bands must not be empty")
	}
	if a.Sensor == "" {
		errs = append(errs, "analysis.sensor is required")
	}
	if a.TrendBand == "" {
		errs = append(errs, "analysis.trend_band is required")
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the settings required by mode: "analyze", "composite",
// "mirror", "runs" or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	needSink := func() {
		switch c.Sink.Driver {
		case "sqlite", "postgres":
			if c.Sink.DSN == "" {
				errs = append(errs, "sink.dsn is required")
			}
		case "dir":
			if c.Sink.Dir == "" {
				errs = append(errs, "sink.dir is required for the dir driver")
			}
		default:
			errs = append(errs, fmt.Sprintf("sink.driver %q is not one of sqlite, postgres, dir", c.Sink.Driver))
		}
	}

	switch mode {
	case "analyze", "composite":
		if err := c.Analysis.Validate(); err != nil {
			errs = append(errs, strings.TrimPrefix(err.Error(), "config: "))
		}
		if c.Source.Dir == "" {
			errs = append(errs, "source.dir is required")
		}
		needSink()
	case "mirror":
		if c.Mirror.Concurrency <= 0 {
			errs = append(errs, "mirror.concurrency must be > 0")
		}
	case "runs":
		needSink()
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		needSink()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
