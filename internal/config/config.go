// ABOUTME: Configuration loading and parsing for the taskdeck server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete taskdeck server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DataConfig holds the data directory for persisted state (secret file,
// sessions file, credentials file, settings fragment).
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// AuthConfig holds authentication tuning. All fields have safe defaults.
type AuthConfig struct {
	MaxLoginAttempts int `yaml:"max_login_attempts"`

	LoginWindow      time.Duration `yaml:"-"`
	SessionTTL       time.Duration `yaml:"-"`
	RealtimeTokenTTL time.Duration `yaml:"-"`
	SweepInterval    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	LoginWindowRaw      string `yaml:"login_window"`
	SessionTTLRaw       string `yaml:"session_ttl"`
	RealtimeTokenTTLRaw string `yaml:"realtime_token_ttl"`
	SweepIntervalRaw    string `yaml:"sweep_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Paths into the data directory. Each file carries restrictive permissions
// and is owned exclusively by the server process.

// SecretPath returns the shared secret file path.
func (c *Config) SecretPath() string { return filepath.Join(c.Data.Dir, "secret") }

// SessionsPath returns the durable session store path.
func (c *Config) SessionsPath() string { return filepath.Join(c.Data.Dir, "sessions.json") }

// CredentialsPath returns the per-backend credentials file path.
func (c *Config) CredentialsPath() string { return filepath.Join(c.Data.Dir, "credentials.toml") }

// SettingsPath returns the provider settings fragment path.
func (c *Config) SettingsPath() string { return filepath.Join(c.Data.Dir, "settings.toml") }

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Auth.MaxLoginAttempts < 0 {
		return fmt.Errorf("auth.max_login_attempts must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		out  *time.Duration
	}{
		{cfg.Auth.LoginWindowRaw, "login_window", &cfg.Auth.LoginWindow},
		{cfg.Auth.SessionTTLRaw, "session_ttl", &cfg.Auth.SessionTTL},
		{cfg.Auth.RealtimeTokenTTLRaw, "realtime_token_ttl", &cfg.Auth.RealtimeTokenTTL},
		{cfg.Auth.SweepIntervalRaw, "sweep_interval", &cfg.Auth.SweepInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.out = d
	}

	return nil
}
