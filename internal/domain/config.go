package domain

import "time"

// Configuration Models

// Config represents the main application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Rules   RulesConfig   `mapstructure:"rules"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RulesConfig points at the guideline rule definitions and sets scoring
// defaults.
type RulesConfig struct {
	// File is the path to the validity-periods YAML file. Optional; rules
	// may also be supplied inline per request.
	File string `mapstructure:"file"`

	// DefaultPolicy is the prior policy applied when a request does not
	// specify one.
	DefaultPolicy string `mapstructure:"default_policy"`

	// DefaultGraceDays applies to rules loaded from the short-form validity
	// file, which only specifies intervals.
	DefaultGraceDays int `mapstructure:"default_grace_days"`
}

// LimitsConfig bounds the API surface.
type LimitsConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	ResultCacheSize   int     `mapstructure:"result_cache_size"`
	MaxBatchEvents    int     `mapstructure:"max_batch_events"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
