// Package config provides configuration management for the concordance
// server and CLI.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/concordance-score-server/internal/domain"
)

// Manager loads and validates application configuration using Viper.
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/concordance-score-server/")

	// Set environment variable prefix and enable automatic env binding
	viper.SetEnvPrefix("CONCORDANCE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// Rules defaults
	viper.SetDefault("rules.file", "")
	viper.SetDefault("rules.default_policy", string(domain.PriorStrict))
	viper.SetDefault("rules.default_grace_days", 0)

	// Limits defaults
	viper.SetDefault("limits.requests_per_second", 50)
	viper.SetDefault("limits.burst", 100)
	viper.SetDefault("limits.result_cache_size", 1024)
	viper.SetDefault("limits.max_batch_events", 500000)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetRulesConfig returns guideline rules configuration
func (m *Manager) GetRulesConfig() *domain.RulesConfig {
	return &m.config.Rules
}

// GetLimitsConfig returns API limits configuration
func (m *Manager) GetLimitsConfig() *domain.LimitsConfig {
	return &m.config.Limits
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	// Validate scoring defaults
	if !domain.PriorPolicy(config.Rules.DefaultPolicy).Valid() {
		return fmt.Errorf("invalid default prior policy: %s", config.Rules.DefaultPolicy)
	}
	if config.Rules.DefaultGraceDays < 0 {
		return fmt.Errorf("default grace days must not be negative: %d", config.Rules.DefaultGraceDays)
	}

	// Validate limits
	if config.Limits.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive: %f", config.Limits.RequestsPerSecond)
	}
	if config.Limits.Burst <= 0 {
		return fmt.Errorf("rate limit burst must be positive: %d", config.Limits.Burst)
	}
	if config.Limits.ResultCacheSize <= 0 {
		return fmt.Errorf("result cache size must be positive: %d", config.Limits.ResultCacheSize)
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}
