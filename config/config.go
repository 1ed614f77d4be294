// Package config loads pipeline configuration from a file with
// TRANQ_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Topics   TopicsConfig   `mapstructure:"topics"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type TopicsConfig struct {
	JSON       string `mapstructure:"json"`
	XML        string `mapstructure:"xml"`
	Downstream string `mapstructure:"downstream"`
}

type IngestConfig struct {
	// UnresolvedPolicy is "skip" or "fail".
	UnresolvedPolicy string `mapstructure:"unresolved_policy"`
}

type PipelineConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

var supportedDrivers = map[string]bool{
	"sqlite":   true,
	"postgres": true,
	"mysql":    true,
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("tranq")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only surfaces env values for keys viper already knows, so
	// bind every key explicitly; required keys without a default, like
	// database.dsn, can then come from the environment alone.
	for _, key := range []string{
		"database.driver",
		"database.dsn",
		"topics.json",
		"topics.xml",
		"topics.downstream",
		"ingest.unresolved_policy",
		"pipeline.max_attempts",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("topics.json", "orders-json")
	v.SetDefault("topics.xml", "orders-xml")
	v.SetDefault("topics.downstream", "order-acks")
	v.SetDefault("ingest.unresolved_policy", "skip")
	v.SetDefault("pipeline.max_attempts", 3)
}

func (c Config) Validate() error {
	if !supportedDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver %q is not one of sqlite, postgres, mysql", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Ingest.UnresolvedPolicy != "skip" && c.Ingest.UnresolvedPolicy != "fail" {
		return fmt.Errorf("ingest.unresolved_policy %q is not skip or fail", c.Ingest.UnresolvedPolicy)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1")
	}
	if c.Topics.Downstream == "" {
		return fmt.Errorf("topics.downstream is required")
	}
	if c.Topics.JSON == c.Topics.Downstream || c.Topics.XML == c.Topics.Downstream {
		return fmt.Errorf("topics.downstream must differ from the inbound topics")
	}
	return nil
}
