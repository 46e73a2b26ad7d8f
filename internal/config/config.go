// Package config loads process configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/roamly/discovery/pkg/logger"
)

// ConfigFileEnv names the environment variable pointing at an optional YAML file.
const ConfigFileEnv = "DISCOVERY_CONFIG"

// Config is the full process configuration.
type Config struct {
	Server      ServerConfig         `yaml:"server"`
	Logging     logger.LoggingConfig `yaml:"logging"`
	Database    DatabaseConfig       `yaml:"database"`
	Redis       RedisConfig          `yaml:"redis"`
	Discovery   DiscoveryConfig      `yaml:"discovery"`
	Suggestions SuggestionsConfig    `yaml:"suggestions"`
	Places      PlacesConfig         `yaml:"places"`
	Auth        AuthConfig           `yaml:"auth"`
	RateLimit   RateLimitConfig      `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
	// AllowedOrigins enables CORS for the listed origins; separate with ";" in the environment.
	AllowedOrigins []string `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	Migrate         bool   `yaml:"migrate" env:"DATABASE_MIGRATE"`
}

// Enabled reports whether a SQL repository is configured.
func (d DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(d.DSN) != ""
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_ENRICHMENT_TTL"`
}

// Enabled reports whether the enrichment cache is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type DiscoveryConfig struct {
	PrefetchWindow  int           `yaml:"prefetch_window" env:"DISCOVERY_PREFETCH_WINDOW"`
	SuggestionLimit int           `yaml:"suggestion_limit" env:"DISCOVERY_SUGGESTION_LIMIT"`
	SessionTTL      time.Duration `yaml:"session_ttl" env:"DISCOVERY_SESSION_TTL"`
	SweepInterval   time.Duration `yaml:"sweep_interval" env:"DISCOVERY_SWEEP_INTERVAL"`
}

type SuggestionsConfig struct {
	URL        string        `yaml:"url" env:"SUGGESTIONS_URL"`
	APIKey     string        `yaml:"api_key" env:"SUGGESTIONS_API_KEY"`
	ResultPath string        `yaml:"result_path" env:"SUGGESTIONS_RESULT_PATH"`
	Timeout    time.Duration `yaml:"timeout" env:"SUGGESTIONS_TIMEOUT"`
}

type PlacesConfig struct {
	URL     string        `yaml:"url" env:"PLACES_URL"`
	APIKey  string        `yaml:"api_key" env:"PLACES_API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"PLACES_TIMEOUT"`
	RPS     float64       `yaml:"rps" env:"PLACES_RPS"`
	Burst   int           `yaml:"burst" env:"PLACES_BURST"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps" env:"RATE_LIMIT_RPS"`
	Burst int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Redis: RedisConfig{TTL: 24 * time.Hour},
		Discovery: DiscoveryConfig{
			PrefetchWindow:  2,
			SuggestionLimit: 12,
			SessionTTL:      30 * time.Minute,
			SweepInterval:   time.Minute,
		},
		Suggestions: SuggestionsConfig{ResultPath: "$.candidates", Timeout: 45 * time.Second},
		Places:      PlacesConfig{Timeout: 8 * time.Second, RPS: 5, Burst: 3},
		RateLimit:   RateLimitConfig{RPS: 20, Burst: 40},
	}
}

// Load reads defaults, then the YAML file named by DISCOVERY_CONFIG (if any),
// then environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads defaults plus a YAML file, without environment overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate checks invariants the rest of the process relies on.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Discovery.PrefetchWindow < 0 {
		return fmt.Errorf("discovery.prefetch_window must not be negative")
	}
	if c.Discovery.SuggestionLimit <= 0 {
		return fmt.Errorf("discovery.suggestion_limit must be positive")
	}
	if c.Discovery.SessionTTL <= 0 {
		return fmt.Errorf("discovery.session_ttl must be positive")
	}
	if c.Discovery.SweepInterval <= 0 {
		return fmt.Errorf("discovery.sweep_interval must be positive")
	}
	if c.Places.RPS < 0 || c.Places.Burst < 0 {
		return fmt.Errorf("places rate limit must not be negative")
	}
	if c.Database.Enabled() && strings.TrimSpace(c.Database.Driver) == "" {
		return fmt.Errorf("database.driver is required when database.dsn is set")
	}
	return nil
}
