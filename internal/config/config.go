// ABOUTME: Configuration loading and parsing for slskd-relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete slskd-relay configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Relay    RelayConfig    `yaml:"relay"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RelayConfig holds relay protocol timing configuration.
type RelayConfig struct {
	ChallengeTTL   time.Duration `yaml:"-"`
	RequestTimeout time.Duration `yaml:"-"`
	UploadTokenTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ChallengeTTLRaw   string `yaml:"challenge_ttl"`
	RequestTimeoutRaw string `yaml:"request_timeout"`
	UploadTokenTTLRaw string `yaml:"upload_token_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file omits a value.
const (
	DefaultHTTPAddr       = "127.0.0.1:5030"
	DefaultChallengeTTL   = 30 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultUploadTokenTTL = 60 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

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

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Relay.ChallengeTTL == 0 {
		c.Relay.ChallengeTTL = DefaultChallengeTTL
	}
	if c.Relay.RequestTimeout == 0 {
		c.Relay.RequestTimeout = DefaultRequestTimeout
	}
	if c.Relay.UploadTokenTTL == 0 {
		c.Relay.UploadTokenTTL = DefaultUploadTokenTTL
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Relay.ChallengeTTL < 0 || c.Relay.RequestTimeout < 0 || c.Relay.UploadTokenTTL < 0 {
		return fmt.Errorf("relay durations must be positive")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Relay.ChallengeTTLRaw != "" {
		cfg.Relay.ChallengeTTL, err = time.ParseDuration(cfg.Relay.ChallengeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing challenge_ttl %q: %w", cfg.Relay.ChallengeTTLRaw, err)
		}
	}

	if cfg.Relay.RequestTimeoutRaw != "" {
		cfg.Relay.RequestTimeout, err = time.ParseDuration(cfg.Relay.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Relay.RequestTimeoutRaw, err)
		}
	}

	if cfg.Relay.UploadTokenTTLRaw != "" {
		cfg.Relay.UploadTokenTTL, err = time.ParseDuration(cfg.Relay.UploadTokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing upload_token_ttl %q: %w", cfg.Relay.UploadTokenTTLRaw, err)
		}
	}

	return nil
}
