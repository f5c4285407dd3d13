// ABOUTME: Configuration loading and parsing for almond-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Almond entry types
const (
	TypeOAuth2 = "oauth2"
	TypeLocal  = "local"
)

// DefaultOAuth2Host is the hosted Almond service used by oauth2 entries without a host.
const DefaultOAuth2Host = "https://almond.stanford.edu"

// DefaultLocalHost is the address a locally installed Almond listens on.
const DefaultLocalHost = "http://localhost:3000"

// DefaultEntryID names the integration entry when almond.entry_id is unset.
const DefaultEntryID = "almond"

// CallbackPath is where the gateway receives the OAuth2 authorization code.
const CallbackPath = "/auth/almond/callback"

// AuthorizePath starts the OAuth2 flow for an oauth2 entry.
const AuthorizePath = "/auth/almond/authorize"

// Config represents the complete almond-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Almond     AlmondConfig     `yaml:"almond" toml:"almond"`
	HTTPClient HTTPClientConfig `yaml:"http_client" toml:"http_client"`
	Dedupe     DedupeConfig     `yaml:"dedupe" toml:"dedupe"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve on :443 with tailnet certificates
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// BaseURL is the external URL of the gateway, used to derive the OAuth2 redirect
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AlmondConfig describes the Almond integration entry
type AlmondConfig struct {
	Type         string `yaml:"type" toml:"type"` // oauth2 or local
	Host         string `yaml:"host" toml:"host"`
	ClientID     string `yaml:"client_id" toml:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url" toml:"redirect_url"`
	EntryID      string `yaml:"entry_id" toml:"entry_id"`
}

// HTTPClientConfig tunes the HTTP client shared by all Almond requests
type HTTPClientConfig struct {
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// DedupeConfig controls how long request IDs and OAuth states are remembered
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values that have a sensible default
func (c *Config) applyDefaults() {
	c.Almond.Type = strings.ToLower(strings.TrimSpace(c.Almond.Type))
	if c.Almond.Type == TypeOAuth2 && c.Almond.Host == "" {
		c.Almond.Host = DefaultOAuth2Host
	}
	c.Almond.Host = strings.TrimSuffix(c.Almond.Host, "/")
	if c.Almond.EntryID == "" {
		c.Almond.EntryID = DefaultEntryID
	}
	if c.Almond.Type == TypeOAuth2 && c.Almond.RedirectURL == "" && c.Server.BaseURL != "" {
		c.Almond.RedirectURL = strings.TrimSuffix(c.Server.BaseURL, "/") + CallbackPath
	}

	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 10 * time.Minute
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = 10000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Almond.Type {
	case TypeOAuth2:
		if c.Almond.ClientID == "" {
			return fmt.Errorf("almond.client_id is required for oauth2")
		}
		if c.Almond.ClientSecret == "" {
			return fmt.Errorf("almond.client_secret is required for oauth2")
		}
		if c.Almond.RedirectURL == "" {
			return fmt.Errorf("almond.redirect_url is required for oauth2 (or set server.base_url)")
		}
	case TypeLocal:
		if c.Almond.Host == "" {
			return fmt.Errorf("almond.host is required for local")
		}
	case "":
		return fmt.Errorf("almond.type is required (oauth2 or local)")
	default:
		return fmt.Errorf("almond.type must be oauth2 or local, got %q", c.Almond.Type)
	}

	if c.Dedupe.MaxSize < 0 {
		return fmt.Errorf("dedupe.max_size must not be negative")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.HTTPClient.TimeoutRaw != "" {
		cfg.HTTPClient.Timeout, err = time.ParseDuration(cfg.HTTPClient.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing http_client.timeout %q: %w", cfg.HTTPClient.TimeoutRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}
