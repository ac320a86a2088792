package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the top-level configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Run       RunConfig       `yaml:"run" mapstructure:"run"`
	Ancillary AncillaryConfig `yaml:"ancillary" mapstructure:"ancillary"`
	Taxonomy  TaxonomyConfig  `yaml:"taxonomy" mapstructure:"taxonomy"`
	Publish   PublishConfig   `yaml:"publish" mapstructure:"publish"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
}

// LogConfig configures logging. File enables a rotating log next to stderr.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// RunConfig configures a classification run.
type RunConfig struct {
	InputDir              string        `yaml:"input_dir" mapstructure:"input_dir"`
	OutputDir             string        `yaml:"output_dir" mapstructure:"output_dir"`
	InputFile             string        `yaml:"input_file" mapstructure:"input_file"`
	OutputFile            string        `yaml:"output_file" mapstructure:"output_file"`
	InputLayer            string        `yaml:"input_layer" mapstructure:"input_layer"`
	OutputLayer           string        `yaml:"output_layer" mapstructure:"output_layer"`
	BatchSize             int           `yaml:"batch_size" mapstructure:"batch_size"`
	Workers               int           `yaml:"workers" mapstructure:"workers"`
	RuleTimeout           time.Duration `yaml:"rule_timeout" mapstructure:"rule_timeout"`
	MaxConcurrentCounties int           `yaml:"max_concurrent_counties" mapstructure:"max_concurrent_counties"`
	KeepWorkingColumns    bool          `yaml:"keep_working_columns" mapstructure:"keep_working_columns"`
}

// AncillaryConfig names the reference layers. Layer paths are relative to
// Dir unless absolute.
type AncillaryConfig struct {
	Dir    string            `yaml:"dir" mapstructure:"dir"`
	Layers map[string]string `yaml:"layers" mapstructure:"layers"`
	NoData map[string]int    `yaml:"nodata" mapstructure:"nodata"`
}

// TaxonomyConfig points at a taxonomy file; empty uses the built-in one.
type TaxonomyConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PublishConfig configures the PostGIS publish.
type PublishConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
	Table       string `yaml:"table" mapstructure:"table"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`

	RetryAttempts  int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

// MetricsConfig configures the Prometheus outputs.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
}

// ReportConfig configures the xlsx run report. Empty Dir disables it.
type ReportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// DefaultAncillaryLayers maps the layer names the default rule set asks for
// to file names under ancillary.dir. Names are lower case because viper
// folds keys read from files and the environment.
func DefaultAncillaryLayers() map[string]string {
	return map[string]string{
		"here":           "here_turf.shp",
		"transmission":   "transmission_lines.shp",
		"uac":            "census_urban_areas.shp",
		"landfills":      "landfills.shp",
		"mines":          "mines.shp",
		"solar":          "solar_fields.shp",
		"timber_pa":      "timber_harvest_pa.shp",
		"timber_md":      "timber_harvest_md.shp",
		"lcmap_patterns": "lcmap_change_patterns.tif",
		"lcmap_age":      "lcmap_succession_age.tif",
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LANDUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("run.input_dir", "data/input")
	v.SetDefault("run.output_dir", "data/output")
	v.SetDefault("run.input_file", "psegs.gpkg")
	v.SetDefault("run.output_file", "landuse.gpkg")
	v.SetDefault("run.input_layer", "psegs")
	v.SetDefault("run.output_layer", "landuse")
	v.SetDefault("run.batch_size", 10000)
	v.SetDefault("run.workers", 0)
	v.SetDefault("run.rule_timeout", 30*time.Minute)
	v.SetDefault("run.max_concurrent_counties", 1)
	v.SetDefault("run.keep_working_columns", false)
	v.SetDefault("ancillary.dir", "data/ancillary")
	v.SetDefault("ancillary.layers", DefaultAncillaryLayers())
	v.SetDefault("ancillary.nodata", map[string]int{"lcmap_patterns": 100, "lcmap_age": 0})
	v.SetDefault("taxonomy.path", "")
	v.SetDefault("publish.database_url", "")
	v.SetDefault("publish.schema", "landuse")
	v.SetDefault("publish.table", "psegs")
	v.SetDefault("publish.batch_size", 50000)
	v.SetDefault("publish.retry_attempts", 3)
	v.SetDefault("publish.retry_backoff", 500*time.Millisecond)
	v.SetDefault("publish.connect_timeout", 30*time.Second)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("report.dir", "")

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

// Validate checks values Load cannot reject on its own.
func (c *Config) Validate() error {
	var errs []string
	if c.Run.InputDir == "" {
		errs = append(errs, "run.input_dir is empty")
	}
	if c.Run.OutputDir == "" {
		errs = append(errs, "run.output_dir is empty")
	}
	if c.Run.InputLayer == "" {
		errs = append(errs, "run.input_layer is empty")
	}
	if c.Run.OutputLayer == "" {
		errs = append(errs, "run.output_layer is empty")
	}
	if c.Run.BatchSize < 1 {
		errs = append(errs, "run.batch_size must be at least 1")
	}
	if c.Run.Workers < 0 {
		errs = append(errs, "run.workers must not be negative")
	}
	if c.Run.RuleTimeout < 0 {
		errs = append(errs, "run.rule_timeout must not be negative")
	}
	if c.Run.MaxConcurrentCounties < 1 {
		errs = append(errs, "run.max_concurrent_counties must be at least 1")
	}
	if c.Publish.BatchSize < 0 {
		errs = append(errs, "publish.batch_size must not be negative")
	}
	if c.Publish.RetryAttempts < 0 {
		errs = append(errs, "publish.retry_attempts must not be negative")
	}
	for name, rel := range c.Ancillary.Layers {
		if strings.TrimSpace(rel) == "" {
			errs = append(errs, "ancillary.layers."+name+" has no path")
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger. When cfg.File is set the
// same entries also go to a size-rotated JSON file.
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

	if cfg.File != "" {
		sink := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(sink),
			zapCfg.Level,
		)
		logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}
	zap.ReplaceGlobals(logger)

	return nil
}
