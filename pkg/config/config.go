// Package config loads gatelink configuration from the environment, with an
// optional YAML file overlay for deployments that prefer files over
// environment variables. Environment variables win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cpike5/gatelink/pkg/observability"
	"github.com/cpike5/gatelink/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Invite        InviteConfig        `yaml:"invite"`
	Authz         AuthzConfig         `yaml:"authz"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// InviteConfig holds invite lifecycle configuration
type InviteConfig struct {
	// DefaultTTL applies when an issue call carries no TTL override.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// MaxTTL caps per-call TTL overrides.
	MaxTTL time.Duration `yaml:"max_ttl"`

	// Retention is how long expired invites survive for audit before the
	// cleanup sweep deletes them.
	Retention time.Duration `yaml:"retention"`

	// GenerateAttempts bounds the code-collision retry loop.
	GenerateAttempts int `yaml:"generate_attempts"`

	// CleanupInterval is the in-process sweep cadence; zero disables the
	// in-process sweep (use the standalone sweeper instead).
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// AuthzConfig holds authorization cache configuration
type AuthzConfig struct {
	// Backend selects the cache implementation: "redis" or "memory".
	Backend string `yaml:"backend"`

	// Window is the sliding freshness window for cached role sets.
	Window time.Duration `yaml:"window"`

	// MaxEntries bounds the in-process backend.
	MaxEntries int `yaml:"max_entries"`
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`
}

// LoadConfig loads configuration: defaults, then the YAML file named by
// GATELINK_CONFIG_FILE (if any), then environment variables.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("GATELINK_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()
	cfg.Observability.LogLevel = observability.ParseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: storage.DefaultConfig(),
		Invite: InviteConfig{
			DefaultTTL:       24 * time.Hour,
			MaxTTL:           7 * 24 * time.Hour,
			Retention:        7 * 24 * time.Hour,
			GenerateAttempts: 10,
			CleanupInterval:  1 * time.Hour,
		},
		Authz: AuthzConfig{
			Backend:    "memory",
			Window:     5 * time.Minute,
			MaxEntries: 10000,
		},
		Observability: ObservabilityConfig{
			LogLevelName:   "info",
			MetricsEnabled: true,
		},
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.Server.Host = getEnv("GATELINK_HOST", c.Server.Host)
	c.Server.Port = getEnv("GATELINK_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("GATELINK_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("GATELINK_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("GATELINK_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("GATELINK_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Storage.Type = getEnv("GATELINK_STORAGE_TYPE", c.Storage.Type)
	c.Storage.PostgresURL = getEnv("GATELINK_POSTGRES_URL", c.Storage.PostgresURL)
	c.Storage.PostgresMaxConns = getEnvInt("GATELINK_POSTGRES_MAX_CONNS", c.Storage.PostgresMaxConns)
	c.Storage.PostgresMinConns = getEnvInt("GATELINK_POSTGRES_MIN_CONNS", c.Storage.PostgresMinConns)
	c.Storage.PostgresTimeout = getEnvDuration("GATELINK_POSTGRES_TIMEOUT", c.Storage.PostgresTimeout)
	c.Storage.RedisURL = getEnv("GATELINK_REDIS_URL", c.Storage.RedisURL)
	c.Storage.RedisPassword = getEnv("GATELINK_REDIS_PASSWORD", c.Storage.RedisPassword)

	c.Invite.DefaultTTL = getEnvDuration("GATELINK_INVITE_TTL", c.Invite.DefaultTTL)
	c.Invite.MaxTTL = getEnvDuration("GATELINK_INVITE_MAX_TTL", c.Invite.MaxTTL)
	c.Invite.Retention = getEnvDuration("GATELINK_INVITE_RETENTION", c.Invite.Retention)
	c.Invite.GenerateAttempts = getEnvInt("GATELINK_INVITE_GENERATE_ATTEMPTS", c.Invite.GenerateAttempts)
	c.Invite.CleanupInterval = getEnvDuration("GATELINK_CLEANUP_INTERVAL", c.Invite.CleanupInterval)

	c.Authz.Backend = getEnv("GATELINK_AUTHZ_BACKEND", c.Authz.Backend)
	c.Authz.Window = getEnvDuration("GATELINK_AUTHZ_WINDOW", c.Authz.Window)
	c.Authz.MaxEntries = getEnvInt("GATELINK_AUTHZ_MAX_ENTRIES", c.Authz.MaxEntries)

	c.Observability.LogLevelName = getEnv("GATELINK_LOG_LEVEL", c.Observability.LogLevelName)
	c.Observability.MetricsEnabled = getEnvBool("GATELINK_METRICS_ENABLED", c.Observability.MetricsEnabled)
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage type postgres requires GATELINK_POSTGRES_URL")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	switch c.Authz.Backend {
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("authz backend redis requires GATELINK_REDIS_URL")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown authz backend %q", c.Authz.Backend)
	}

	if c.Invite.DefaultTTL <= 0 {
		return fmt.Errorf("invite TTL must be positive")
	}
	if c.Invite.MaxTTL < c.Invite.DefaultTTL {
		return fmt.Errorf("invite max TTL must be at least the default TTL")
	}
	if c.Invite.Retention <= 0 {
		return fmt.Errorf("invite retention must be positive")
	}
	if c.Authz.Window <= 0 {
		return fmt.Errorf("authz window must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}
