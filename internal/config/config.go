// Package config loads hexspot configuration from config.yaml, .env and
// HEXSPOT_* environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/hexspot/internal/dataset"
	"github.com/sells-group/hexspot/internal/fetcher"
	"github.com/sells-group/hexspot/internal/model"
	"github.com/sells-group/hexspot/internal/pipeline"
	"github.com/sells-group/hexspot/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Families []model.Family `yaml:"families" mapstructure:"families"`
	Input    InputConfig    `yaml:"input" mapstructure:"input"`
	Store    store.Config   `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// AnalysisConfig holds the default analysis parameters.
type AnalysisConfig struct {
	K            int     `yaml:"k" mapstructure:"k"`
	Significance float64 `yaml:"significance" mapstructure:"significance"`
	Permutations int     `yaml:"permutations" mapstructure:"permutations"`
	Seed         uint64  `yaml:"seed" mapstructure:"seed"`
	Concurrency  int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// Options converts the section to pipeline options.
func (a AnalysisConfig) Options() pipeline.Options {
	return pipeline.Options{
		K:            a.K,
		Significance: a.Significance,
		Permutations: a.Permutations,
		Seed:         a.Seed,
	}
}

// InputConfig configures how cell tables are read.
type InputConfig struct {
	IDColumn    string `yaml:"id_column" mapstructure:"id_column"`
	Charset     string `yaml:"charset" mapstructure:"charset"`
	FillMissing bool   `yaml:"fill_missing" mapstructure:"fill_missing"`
}

// Options converts the section to dataset options.
func (i InputConfig) Options() dataset.Options {
	return dataset.Options{IDColumn: i.IDColumn, Charset: i.Charset, FillMissing: i.FillMissing}
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	RequestsPerSec  float64  `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	Burst           int      `yaml:"burst" mapstructure:"burst"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// CacheConfig configures the optional Redis result cache. An empty URL
// disables caching.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url" mapstructure:"redis_url"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// FetchConfig configures remote dataset downloads.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	FTPTimeoutSecs    int     `yaml:"ftp_timeout_secs" mapstructure:"ftp_timeout_secs"`
}

// Options converts the section to fetcher options.
func (f FetchConfig) Options() fetcher.Options {
	return fetcher.Options{
		HTTP: fetcher.HTTPOptions{
			UserAgent:         f.UserAgent,
			Timeout:           time.Duration(f.TimeoutSecs) * time.Second,
			MaxRetries:        f.MaxRetries,
			RequestsPerSecond: f.RequestsPerSecond,
		},
		FTP: fetcher.FTPOptions{Timeout: time.Duration(f.FTPTimeoutSecs) * time.Second},
	}
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. A .env file in the
// working directory is applied to the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HEXSPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("analysis.k", 3)
	v.SetDefault("analysis.significance", 0.05)
	v.SetDefault("analysis.permutations", 0)
	v.SetDefault("analysis.seed", 1)
	v.SetDefault("analysis.concurrency", 4)
	v.SetDefault("input.id_column", dataset.DefaultIDColumn)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "hexspot.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.requests_per_sec", 20)
	v.SetDefault("server.burst", 40)
	v.SetDefault("server.max_body_bytes", 32<<20)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("fetch.user_agent", "hexspot/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_second", 5)
	v.SetDefault("fetch.ftp_timeout_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if len(cfg.Families) == 0 {
		cfg.Families = DefaultFamilies()
	}

	return &cfg, nil
}

// Validate checks value ranges and family definitions.
func (c *Config) Validate() error {
	if err := c.Analysis.Options().Validate(); err != nil {
		return eris.Wrap(err, "config: analysis")
	}
	if c.Analysis.Concurrency < 1 {
		return eris.Errorf("config: analysis.concurrency %d must be >= 1", c.Analysis.Concurrency)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store.driver %q", c.Store.Driver)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	return ValidateFamilies(c.Families)
}

// Family returns the configured family with the given name.
func (c *Config) Family(name string) (model.Family, bool) {
	for _, f := range c.Families {
		if f.Name == name {
			return f, true
		}
	}
	return model.Family{}, false
}

// ValidateFamilies checks that names are set and unique and that every
// family has usable weights.
func ValidateFamilies(fams []model.Family) error {
	seen := make(map[string]bool, len(fams))
	for _, f := range fams {
		if f.Name == "" {
			return eris.New("config: family without a name")
		}
		if seen[f.Name] {
			return eris.Errorf("config: duplicate family %q", f.Name)
		}
		seen[f.Name] = true
		if err := f.Validate(nil); err != nil {
			return eris.Wrap(err, "config: invalid family")
		}
		if _, err := f.NormalizedWeights(); err != nil {
			return eris.Wrapf(err, "config: family %q", f.Name)
		}
	}
	return nil
}

type familyFile struct {
	Families []model.Family `yaml:"families"`
}

// LoadFamilies reads feature families from a YAML preset file of the form
// `families: [{name, features: [...]}]`.
func LoadFamilies(path string) ([]model.Family, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read families %s", path)
	}
	var f familyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "config: parse families %s", path)
	}
	if len(f.Families) == 0 {
		return nil, eris.Errorf("config: no families in %s", path)
	}
	if err := ValidateFamilies(f.Families); err != nil {
		return nil, err
	}
	return f.Families, nil
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
