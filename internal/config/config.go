// Package config centralizes configuration for the Beacon services.
// Values load from environment variables via envconfig and are validated
// with go-playground/validator plus per-subsystem custom checks.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// EnvironmentProduction is the production environment identifier.
// Several validators harden requirements when it is active.
const EnvironmentProduction = "production"

// Config is the complete configuration tree for one Beacon process.
type Config struct {
	App           AppConfig           `envconfig:"APP"`
	Server        ServerConfig        `envconfig:"SERVER"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Cache         CacheConfig         `envconfig:"CACHE"`
	Observability ObservabilityConfig `envconfig:"OBS"`
}

// AppConfig holds process identity and logging settings.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"beacon"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	Environment     string        `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// EnvironmentAliases maps alternate environment names onto canonical
	// ones during evaluation, e.g. "test:development,qa:staging".
	EnvironmentAliases map[string]string `envconfig:"ENV_ALIASES"`
}

// ServerConfig groups the listener configurations.
type ServerConfig struct {
	API APIConfig `envconfig:"API"`
}

// Load reads the configuration tree from BEACON_-prefixed environment
// variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process("BEACON", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate runs struct-tag validation followed by the subsystem checks
// that depend on the active environment.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if err := c.Database.Validate(c.App.Environment); err != nil {
		return err
	}
	if err := c.Redis.Validate(c.App.Environment); err != nil {
		return err
	}
	if err := c.Server.API.Validate(c.App.Environment); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Observability.Validate(); err != nil {
		return err
	}

	return nil
}

// LogConfig emits the loaded configuration without secrets.
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("api_port", c.Server.API.Port),
		slog.Bool("db_configured", c.Database.IsConfigured()),
		slog.Bool("redis_configured", c.Redis.IsConfigured()),
		slog.Bool("distributed_cache", c.Cache.DistributedEnabled),
		slog.Duration("flag_ttl", c.Cache.FlagTTL),
		slog.Duration("config_ttl", c.Cache.ConfigTTL),
	)
}

// Shared validation helpers.

// validatePort checks that port parses into [1, 65535].
func validatePort(port, context string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", context)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", context, err)
	}
	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", context, portNum)
	}
	return nil
}

// validateHost checks that host is non-empty with no surrounding whitespace.
func validateHost(host, context string) error {
	if host == "" {
		return fmt.Errorf("%s host cannot be empty", context)
	}
	if strings.TrimSpace(host) != host {
		return fmt.Errorf("%s host cannot contain whitespace", context)
	}
	return nil
}

// validatePasswordStrength enforces minimum credential length in production.
func validatePasswordStrength(password, context, environment string) error {
	if environment == EnvironmentProduction && len(password) < 12 {
		return fmt.Errorf("%s password must be at least 12 characters in production", context)
	}
	return nil
}

// isSecureSSLMode reports whether the mode is production-safe.
func isSecureSSLMode(mode string) bool {
	return mode == "require" || mode == "verify-ca" || mode == "verify-full"
}

// parseAndValidateURL parses rawURL and enforces an allowed scheme and a
// non-empty host.
func parseAndValidateURL(rawURL string, allowedSchemes []string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if !slices.Contains(allowedSchemes, parsed.Scheme) {
		return nil, fmt.Errorf("invalid scheme '%s', must be one of: %v", parsed.Scheme, allowedSchemes)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("host is required in URL")
	}
	return parsed, nil
}
