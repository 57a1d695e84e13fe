// Package config loads and validates relay.yml.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/chanrelay/internal/session"
	"github.com/dyluth/chanrelay/internal/store"
)

const (
	// DefaultPath is where the CLI and daemon look for configuration.
	DefaultPath = "relay.yml"

	// MaxInstanceNameLength keeps instance names usable as DNS labels.
	MaxInstanceNameLength = 63
)

// InstanceNamePattern: lowercase alphanumeric, hyphens allowed but not at start/end.
var InstanceNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// RelayConfig represents the top-level relay.yml configuration
type RelayConfig struct {
	Version  string          `yaml:"version"`
	Instance string          `yaml:"instance"`
	Tenancy  session.Tenancy `yaml:"tenancy"`
	Redis    RedisConfig     `yaml:"redis"`
	Store    StoreConfig     `yaml:"store"`
	Gateway  GatewayConfig   `yaml:"gateway"`
	Router   RouterConfig    `yaml:"router"`
	Session  SessionConfig   `yaml:"session"`
	Leader   LeaderConfig    `yaml:"leader"`
	Health   HealthConfig    `yaml:"health"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// RedisConfig locates the event bus.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// StoreConfig selects the routing store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres or memory
	DSN    string `yaml:"dsn"`
}

// GatewayConfig selects how forwards are performed.
type GatewayConfig struct {
	Kind     string          `yaml:"kind"` // redis or telegram
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
}

// TelegramConfig configures the Bot API gateway. The token is read from the
// environment variable named by TokenEnv, never from the file.
type TelegramConfig struct {
	TokenEnv string        `yaml:"token_env"`
	APIURL   string        `yaml:"api_url,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Retries  int           `yaml:"retries,omitempty"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker around outbound calls.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// RouterConfig sizes post routing.
type RouterConfig struct {
	Workers             int `yaml:"workers"`
	MaxParallelForwards int `yaml:"max_parallel_forwards"`
	HistoryLimit        int `yaml:"history_limit"`
}

// SessionConfig controls operator session expiry.
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LeaderConfig tunes the Redis lease that picks the one relayd per instance
// consuming posts and commands. A lost leader is replaced within TTL.
type LeaderConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// HealthConfig sets the health/metrics listen address.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig sets log level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// ValidateInstanceName checks an instance name against DNS label rules.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxInstanceNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxInstanceNameLength)
	}
	if !InstanceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *RelayConfig {
	c := &RelayConfig{Version: "1.0"}
	c.applyDefaults()
	return c
}

func (c *RelayConfig) applyDefaults() {
	if c.Instance == "" {
		c.Instance = "default"
	}
	if c.Tenancy == "" {
		c.Tenancy = session.TenancySingle
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = store.DriverSQLite
	}
	if c.Store.DSN == "" && c.Store.Driver == store.DriverSQLite {
		c.Store.DSN = "relay.db"
	}
	if c.Gateway.Kind == "" {
		c.Gateway.Kind = "redis"
	}
	if c.Gateway.Kind == "telegram" {
		if c.Gateway.Telegram == nil {
			c.Gateway.Telegram = &TelegramConfig{}
		}
		tg := c.Gateway.Telegram
		if tg.TokenEnv == "" {
			tg.TokenEnv = "BOT_TOKEN"
		}
		if tg.Timeout == 0 {
			tg.Timeout = 10 * time.Second
		}
		if tg.Retries == 0 {
			tg.Retries = 2
		}
		if tg.Breaker.MaxFailures == 0 {
			tg.Breaker.MaxFailures = 5
		}
		if tg.Breaker.OpenTimeout == 0 {
			tg.Breaker.OpenTimeout = 30 * time.Second
		}
	}
	if c.Router.Workers == 0 {
		c.Router.Workers = 4
	}
	if c.Router.MaxParallelForwards == 0 {
		c.Router.MaxParallelForwards = 8
	}
	if c.Session.IdleTimeout == 0 {
		c.Session.IdleTimeout = 15 * time.Minute
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = time.Minute
	}
	if c.Leader.TTL == 0 {
		c.Leader.TTL = 10 * time.Second
	}
	if c.Health.Addr == "" {
		c.Health.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate applies defaults and performs strict validation on the configuration
func (c *RelayConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	c.applyDefaults()

	if err := ValidateInstanceName(c.Instance); err != nil {
		return err
	}
	if err := c.Tenancy.Validate(); err != nil {
		return err
	}

	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	case store.DriverMemory:
	default:
		return fmt.Errorf("invalid store.driver: %s (must be 'sqlite', 'postgres' or 'memory')", c.Store.Driver)
	}

	switch c.Gateway.Kind {
	case "redis":
	case "telegram":
		if c.Gateway.Telegram.Timeout < 0 || c.Gateway.Telegram.Breaker.OpenTimeout < 0 {
			return fmt.Errorf("gateway.telegram durations must be positive")
		}
		if c.Gateway.Telegram.Retries < 0 {
			return fmt.Errorf("gateway.telegram.retries must be >= 0, got %d", c.Gateway.Telegram.Retries)
		}
	default:
		return fmt.Errorf("invalid gateway.kind: %s (must be 'redis' or 'telegram')", c.Gateway.Kind)
	}

	if c.Router.Workers < 1 {
		return fmt.Errorf("router.workers must be >= 1, got %d", c.Router.Workers)
	}
	if c.Router.MaxParallelForwards < 1 {
		return fmt.Errorf("router.max_parallel_forwards must be >= 1, got %d", c.Router.MaxParallelForwards)
	}
	if c.Router.HistoryLimit < 0 {
		return fmt.Errorf("router.history_limit must be >= 0, got %d", c.Router.HistoryLimit)
	}
	if c.Session.IdleTimeout < 0 {
		return fmt.Errorf("session.idle_timeout must be >= 0 (0 disables expiry)")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be positive")
	}
	if c.Leader.TTL < time.Second {
		return fmt.Errorf("leader.ttl must be at least 1s, got %s", c.Leader.TTL)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging.format: %s (must be 'json' or 'console')", c.Logging.Format)
	}

	return nil
}

// Load reads and validates relay.yml from the specified path
func Load(path string) (*RelayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config RelayConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// ApplyEnv overrides file values with RELAY_INSTANCE_NAME, REDIS_URL and
// RELAY_STORE_DSN when they are set, then re-validates.
func (c *RelayConfig) ApplyEnv(getenv func(string) string) error {
	if v := getenv("RELAY_INSTANCE_NAME"); v != "" {
		c.Instance = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := getenv("RELAY_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	return c.Validate()
}

// TelegramToken resolves the bot token from the configured environment variable.
func (c *RelayConfig) TelegramToken(getenv func(string) string) (string, error) {
	if c.Gateway.Telegram == nil {
		return "", fmt.Errorf("gateway.telegram is not configured")
	}
	token := getenv(c.Gateway.Telegram.TokenEnv)
	if token == "" {
		return "", fmt.Errorf("environment variable %s is empty", c.Gateway.Telegram.TokenEnv)
	}
	return token, nil
}
