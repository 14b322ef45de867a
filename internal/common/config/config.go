// Package config provides configuration management for langline.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for langline.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	AgentSync AgentSyncConfig `mapstructure:"agentSync"`
	Cron      CronConfig      `mapstructure:"cron"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
// An empty URL selects the in-memory storage backend.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// AuthConfig holds bearer-token verification configuration.
// An empty VerifyURL disables verification; requests run anonymously.
type AuthConfig struct {
	VerifyURL     string `mapstructure:"verifyUrl"`
	VerifyTimeout int    `mapstructure:"verifyTimeout"` // in seconds
}

// AgentSyncConfig controls reconciliation of the external agent catalog.
type AgentSyncConfig struct {
	Scope      string `mapstructure:"scope"`      // none | all | org:UUID[,org:UUID]*
	CatalogURL string `mapstructure:"catalogUrl"` // external catalog DSN, empty disables
	WriteBack  bool   `mapstructure:"writeBack"`
	LazyTTL    int    `mapstructure:"lazyTtl"` // seconds between per-assistant refreshes
}

// CronConfig holds the cron scheduler cadence.
type CronConfig struct {
	TickInterval int `mapstructure:"tickInterval"` // in seconds
}

// PromptsConfig holds the external prompt service configuration.
type PromptsConfig struct {
	BaseURL  string `mapstructure:"baseUrl"`
	APIKey   string `mapstructure:"apiKey"`
	CacheTTL int    `mapstructure:"cacheTtl"` // in seconds
}

// MetricsConfig holds metrics exposition configuration.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// NATSConfig holds NATS messaging configuration. Empty URL means the
// in-memory event bus is used.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// GraphConfig holds graph execution defaults.
type GraphConfig struct {
	DefaultGraphID string `mapstructure:"defaultGraphId"`
	DefaultModel   string `mapstructure:"defaultModel"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// VerifyTimeoutDuration returns the auth verification timeout as a time.Duration.
func (a *AuthConfig) VerifyTimeoutDuration() time.Duration {
	return time.Duration(a.VerifyTimeout) * time.Second
}

// LazyTTLDuration returns the lazy-sync TTL as a time.Duration.
func (a *AgentSyncConfig) LazyTTLDuration() time.Duration {
	return time.Duration(a.LazyTTL) * time.Second
}

// TickIntervalDuration returns the cron tick interval as a time.Duration.
func (c *CronConfig) TickIntervalDuration() time.Duration {
	return time.Duration(c.TickInterval) * time.Second
}

// CacheTTLDuration returns the prompt cache TTL as a time.Duration.
func (p *PromptsConfig) CacheTTLDuration() time.Duration {
	return time.Duration(p.CacheTTL) * time.Second
}

// detectDefaultLogFormat returns "json" in production-like environments and
// "text" for terminal use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("LANGLINE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 300) // SSE streams are long-lived

	// Database defaults - empty URL means in-memory storage
	v.SetDefault("database.url", "")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Auth defaults - empty verify URL means anonymous mode
	v.SetDefault("auth.verifyUrl", "")
	v.SetDefault("auth.verifyTimeout", 5)

	// Agent-sync defaults
	v.SetDefault("agentSync.scope", "none")
	v.SetDefault("agentSync.catalogUrl", "")
	v.SetDefault("agentSync.writeBack", false)
	v.SetDefault("agentSync.lazyTtl", 300)

	// Cron defaults
	v.SetDefault("cron.tickInterval", 30)

	// Prompts defaults
	v.SetDefault("prompts.baseUrl", "")
	v.SetDefault("prompts.apiKey", "")
	v.SetDefault("prompts.cacheTtl", 300)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)

	// NATS defaults - empty URL means in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.maxReconnects", 10)

	// Graph defaults
	v.SetDefault("graph.defaultGraphId", "agent")
	v.SetDefault("graph.defaultModel", "claude-sonnet-4-5")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix LANGLINE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/langline/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("LANGLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for env vars whose conventional names don't follow
	// the LANGLINE_ prefix (SDK and deployment parity).
	_ = v.BindEnv("database.url", "DATABASE_URL", "LANGLINE_DATABASE_URL")
	_ = v.BindEnv("agentSync.scope", "AGENT_SYNC_SCOPE", "LANGLINE_AGENT_SYNC_SCOPE")
	_ = v.BindEnv("agentSync.catalogUrl", "AGENT_CATALOG_URL", "LANGLINE_AGENT_CATALOG_URL")
	_ = v.BindEnv("auth.verifyUrl", "AUTH_VERIFY_URL", "LANGLINE_AUTH_VERIFY_URL")
	_ = v.BindEnv("prompts.baseUrl", "PROMPT_SERVICE_URL", "LANGLINE_PROMPTS_BASE_URL")
	_ = v.BindEnv("prompts.apiKey", "PROMPT_SERVICE_API_KEY", "LANGLINE_PROMPTS_API_KEY")
	_ = v.BindEnv("prompts.cacheTtl", "PROMPT_CACHE_TTL", "LANGLINE_PROMPTS_CACHE_TTL")
	_ = v.BindEnv("server.port", "PORT", "LANGLINE_SERVER_PORT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/langline/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.URL != "" && cfg.Database.MaxConns <= 0 {
		errs = append(errs, "database.maxConns must be positive when database.url is set")
	}

	scope := strings.TrimSpace(cfg.AgentSync.Scope)
	if scope != "" && scope != "none" && scope != "all" && !strings.HasPrefix(scope, "org:") {
		errs = append(errs, "agentSync.scope must be one of: none, all, org:UUID[,org:UUID]*")
	}

	if cfg.Cron.TickInterval <= 0 {
		errs = append(errs, "cron.tickInterval must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
