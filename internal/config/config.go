// ABOUTME: Configuration loading and parsing for frame-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete frame-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Stream   StreamConfig   `yaml:"stream"`
	Relay    RelayConfig    `yaml:"relay"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// StreamConfig holds the connection admission and lifetime policy.
type StreamConfig struct {
	// MaxConnectionsPerUser caps concurrent streams per identity.
	MaxConnectionsPerUser int `yaml:"max_connections_per_user"`

	// AllowedOrigins restricts the Origin header on upgrade requests.
	// Empty means any origin (same-origin and native clients included).
	AllowedOrigins []string `yaml:"allowed_origins"`

	MaxLifetime   time.Duration `yaml:"-"`
	IdleTimeout   time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	MaxLifetimeRaw   string `yaml:"max_lifetime"`
	IdleTimeoutRaw   string `yaml:"idle_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// RelayConfig holds the optional NATS cross-node relay configuration.
type RelayConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DatabaseConfig holds the optional session audit log location.
// An empty path disables audit recording.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with the original deployment defaults.
func (c *Config) applyDefaults() {
	if c.Stream.MaxConnectionsPerUser == 0 {
		c.Stream.MaxConnectionsPerUser = 3
	}
	if c.Stream.MaxLifetime == 0 {
		c.Stream.MaxLifetime = 2 * time.Hour
	}
	if c.Stream.SweepInterval == 0 {
		c.Stream.SweepInterval = time.Minute
	}
	if c.Relay.SubjectPrefix == "" {
		c.Relay.SubjectPrefix = "frames"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Stream.MaxConnectionsPerUser < 1 {
		return fmt.Errorf("stream.max_connections_per_user must be at least 1")
	}
	if c.Relay.Enabled && c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required when relay is enabled")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Stream.MaxLifetimeRaw != "" {
		cfg.Stream.MaxLifetime, err = time.ParseDuration(cfg.Stream.MaxLifetimeRaw)
		if err != nil {
			return fmt.Errorf("parsing max_lifetime %q: %w", cfg.Stream.MaxLifetimeRaw, err)
		}
	}

	if cfg.Stream.IdleTimeoutRaw != "" {
		cfg.Stream.IdleTimeout, err = time.ParseDuration(cfg.Stream.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Stream.IdleTimeoutRaw, err)
		}
	}

	if cfg.Stream.SweepIntervalRaw != "" {
		cfg.Stream.SweepInterval, err = time.ParseDuration(cfg.Stream.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Stream.SweepIntervalRaw, err)
		}
	}

	return nil
}
