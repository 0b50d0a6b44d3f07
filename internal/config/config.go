// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Scoring  ScoringConfig  `yaml:"scoring" mapstructure:"scoring"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// IngestConfig configures workbook ingestion.
type IngestConfig struct {
	Metrics     []string `yaml:"metrics" mapstructure:"metrics"`
	SheetName   string   `yaml:"sheet_name" mapstructure:"sheet_name"`
	SkipRows    int      `yaml:"skip_rows" mapstructure:"skip_rows"`
	MaxParallel int      `yaml:"max_parallel" mapstructure:"max_parallel"`
}

// ScoringConfig configures question generation.
type ScoringConfig struct {
	Threshold     float64 `yaml:"threshold" mapstructure:"threshold"`
	DefaultWeight float64 `yaml:"default_weight" mapstructure:"default_weight"`
}

// ThresholdDecimal returns the question threshold as a decimal.
func (c ScoringConfig) ThresholdDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Threshold)
}

// DefaultWeightDecimal returns the fallback metric weight as a decimal.
func (c ScoringConfig) DefaultWeightDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.DefaultWeight)
}

// ScheduleConfig configures unattended pipeline runs.
type ScheduleConfig struct {
	Cron      string   `yaml:"cron" mapstructure:"cron"`
	SourceDir string   `yaml:"source_dir" mapstructure:"source_dir"`
	Sources   []string `yaml:"sources" mapstructure:"sources"`
}

// FetchConfig configures remote workbook retrieval.
type FetchConfig struct {
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
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
	v.SetEnvPrefix("FINREVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("ingest.metrics", []string{"Revenue", "Gross Profit", "EBITDA"})
	v.SetDefault("ingest.skip_rows", 1)
	v.SetDefault("ingest.max_parallel", 4)
	v.SetDefault("scoring.threshold", 0.5)
	v.SetDefault("scoring.default_weight", 0.5)
	v.SetDefault("schedule.cron", "0 6 * * *")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_sec", 2)
	v.SetDefault("fetch.user_agent", "finreview-cli")
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
