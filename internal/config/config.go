// Package config aggregates the application configuration from environment
// variables and an optional YAML file. The environment seeds defaults and
// overrides; the file, when present, overrides both.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"gexhaus/internal/chain"
	"gexhaus/internal/feed"
	"gexhaus/internal/storage"
	"gexhaus/internal/stress"
	"gexhaus/internal/surface"
)

const envPrefix = "GEXHAUS"

// Config is the complete application configuration.
type Config struct {
	// Symbols is the tracked universe; every daily run covers each symbol.
	Symbols []string `yaml:"symbols" envconfig:"SYMBOLS" default:"SPY" validate:"min=1,dive,required"`

	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	Feed    FeedConfig    `yaml:"feed" envconfig:"FEED"`

	Storage   storage.Config        `yaml:"storage" envconfig:"STORAGE"`
	Validator chain.ValidatorConfig `yaml:"validator" envconfig:"VALIDATOR"`
	Surface   surface.Config        `yaml:"surface" envconfig:"SURFACE"`
	Stress    stress.Config         `yaml:"stress" envconfig:"STRESS"`
	Vendor    feed.RetryConfig      `yaml:"vendor" envconfig:"VENDOR"`
}

// ServerConfig tunes the read-API HTTP server.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s" validate:"gt=0"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/gexhaus.log"`
}

// FeedConfig locates the local data drops the file-backed sources read.
type FeedConfig struct {
	SnapshotDir string `yaml:"snapshot_dir" envconfig:"SNAPSHOT_DIR" default:"data/snapshots" validate:"required"`
	PriceDir    string `yaml:"price_dir" envconfig:"PRICE_DIR" default:"data/prices" validate:"required"`
}

// Load reads the configuration: environment first, then the YAML file at
// path when it exists. Pass an empty path to skip the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Optional file.
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Default returns the built-in configuration without consulting the
// environment. Used by tests and as a CLI fallback.
func Default() *Config {
	return &Config{
		Symbols: []string{"SPY"},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/gexhaus.log",
		},
		Feed: FeedConfig{
			SnapshotDir: "data/snapshots",
			PriceDir:    "data/prices",
		},
		Storage:   storage.DefaultConfig(),
		Validator: chain.DefaultValidatorConfig(),
		Surface:   surface.DefaultConfig(),
		Stress:    stress.DefaultConfig(),
		Vendor:    feed.DefaultRetryConfig(),
	}
}
