// ABOUTME: Configuration loading and parsing for switchboard
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete switchboard configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Responder ResponderConfig `yaml:"responder"`
	Relay     RelayConfig     `yaml:"relay"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration.
// When enabled, the dashboard is reachable only on the tailnet; Funnel
// additionally exposes the public widget endpoint over HTTPS.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve with Tailscale-provisioned certs
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ResponderConfig holds automated responder configuration
type ResponderConfig struct {
	// Endpoint is the base URL of the responder service. Empty disables
	// automated replies entirely.
	Endpoint string `yaml:"endpoint"`

	Timeout       time.Duration `yaml:"-"`
	IdleThreshold time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
	// IdleThreshold re-enables automated replies for an assigned conversation
	// that has been idle this long. Zero (the default) disables the rule.
	IdleThresholdRaw string `yaml:"idle_threshold"`
}

// RelayConfig holds relay timing configuration
type RelayConfig struct {
	TypingExpiry  time.Duration `yaml:"-"`
	ReplyDelayMin time.Duration `yaml:"-"`
	ReplyDelayMax time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TypingExpiryRaw  string `yaml:"typing_expiry"`
	ReplyDelayMinRaw string `yaml:"reply_delay_min"`
	ReplyDelayMaxRaw string `yaml:"reply_delay_max"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when fields are unset
const (
	DefaultTypingExpiry     = 3 * time.Second
	DefaultReplyDelayMin    = 1 * time.Second
	DefaultReplyDelayMax    = 3 * time.Second
	DefaultResponderTimeout = 30 * time.Second
)

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
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for optional timing fields.
func (c *Config) applyDefaults() {
	if c.Relay.TypingExpiry == 0 {
		c.Relay.TypingExpiry = DefaultTypingExpiry
	}
	if c.Relay.ReplyDelayMin == 0 {
		c.Relay.ReplyDelayMin = DefaultReplyDelayMin
	}
	if c.Relay.ReplyDelayMax == 0 {
		c.Relay.ReplyDelayMax = DefaultReplyDelayMax
	}
	if c.Responder.Timeout == 0 {
		c.Responder.Timeout = DefaultResponderTimeout
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

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Relay.ReplyDelayMax < c.Relay.ReplyDelayMin {
		return fmt.Errorf("relay.reply_delay_max must be >= relay.reply_delay_min")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Responder.TimeoutRaw, &cfg.Responder.Timeout, "responder.timeout"},
		{cfg.Responder.IdleThresholdRaw, &cfg.Responder.IdleThreshold, "responder.idle_threshold"},
		{cfg.Relay.TypingExpiryRaw, &cfg.Relay.TypingExpiry, "relay.typing_expiry"},
		{cfg.Relay.ReplyDelayMinRaw, &cfg.Relay.ReplyDelayMin, "relay.reply_delay_min"},
		{cfg.Relay.ReplyDelayMaxRaw, &cfg.Relay.ReplyDelayMax, "relay.reply_delay_max"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
