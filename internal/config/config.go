// ABOUTME: Configuration loading and parsing for wbot-gateway
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

// Engine names accepted in engine.name.
const (
	EngineSimulator = "simulator"
)

// Config represents the complete wbot-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Engine    EngineConfig    `yaml:"engine" toml:"engine"`
	Caches    CachesConfig    `yaml:"caches" toml:"caches"`
	Lifecycle LifecycleConfig `yaml:"lifecycle" toml:"lifecycle"`
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
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
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve with Tailscale certs on :443
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// EngineConfig selects and tunes the protocol engine.
type EngineConfig struct {
	Name                string   `yaml:"name" toml:"name"`
	Version             []int    `yaml:"version" toml:"version"`
	Browser             []string `yaml:"browser" toml:"browser"`
	MarkOnlineOnConnect bool     `yaml:"mark_online_on_connect" toml:"mark_online_on_connect"`

	QRInterval        time.Duration `yaml:"-" toml:"-"`
	ConnectTimeout    time.Duration `yaml:"-" toml:"-"`
	RetryRequestDelay time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	QRIntervalRaw        string `yaml:"qr_interval" toml:"qr_interval"`
	ConnectTimeoutRaw    string `yaml:"connect_timeout" toml:"connect_timeout"`
	RetryRequestDelayRaw string `yaml:"retry_request_delay" toml:"retry_request_delay"`
}

// CacheConfig bounds one ephemeral cache.
type CacheConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	TTLRaw  string        `yaml:"ttl" toml:"ttl"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`
}

// CachesConfig holds the per-account cache bounds.
type CachesConfig struct {
	Messages CacheConfig `yaml:"messages" toml:"messages"`
	Retries  CacheConfig `yaml:"retries" toml:"retries"`
	Groups   CacheConfig `yaml:"groups" toml:"groups"`
	Mapping  CacheConfig `yaml:"mapping" toml:"mapping"`
}

// LifecycleConfig holds the QR and reconnect bounds.
type LifecycleConfig struct {
	MaxQR             int             `yaml:"max_qr" toml:"max_qr"`
	ReconnectSchedule []time.Duration `yaml:"-" toml:"-"`
	RestartDelay      time.Duration   `yaml:"-" toml:"-"`

	ReconnectScheduleRaw []string `yaml:"reconnect_schedule" toml:"reconnect_schedule"`
	RestartDelayRaw      string   `yaml:"restart_delay" toml:"restart_delay"`
}

// MatrixConfig holds the session notice relay configuration
type MatrixConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
	RoomID      string `yaml:"room_id" toml:"room_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format is a config file syntax.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes, defaults, and validates configuration data.
func Parse(data []byte, format Format) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8080"},
		Database: DatabaseConfig{Path: "wbot.db"},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in every unset tunable.
func (c *Config) applyDefaults() {
	if c.Engine.Name == "" {
		c.Engine.Name = EngineSimulator
	}
	if len(c.Engine.Version) == 0 {
		c.Engine.Version = []int{2, 3000, 1015901307}
	}
	if len(c.Engine.Browser) == 0 {
		c.Engine.Browser = []string{"wbot", "Chrome", "10.0"}
	}
	if c.Engine.QRInterval == 0 {
		c.Engine.QRInterval = 20 * time.Second
	}
	if c.Engine.ConnectTimeout == 0 {
		c.Engine.ConnectTimeout = 20 * time.Second
	}
	if c.Engine.RetryRequestDelay == 0 {
		c.Engine.RetryRequestDelay = 250 * time.Millisecond
	}

	defaultCache(&c.Caches.Messages, 60*time.Second, 1000)
	defaultCache(&c.Caches.Retries, 600*time.Second, 1000)
	defaultCache(&c.Caches.Groups, 3600*time.Second, 10000)
	defaultCache(&c.Caches.Mapping, 72*time.Hour, 10000)

	if c.Lifecycle.MaxQR == 0 {
		c.Lifecycle.MaxQR = 3
	}
	if len(c.Lifecycle.ReconnectSchedule) == 0 {
		c.Lifecycle.ReconnectSchedule = []time.Duration{
			2 * time.Second,
			5 * time.Second,
			10 * time.Second,
			30 * time.Second,
			60 * time.Second,
		}
	}
	if c.Lifecycle.RestartDelay == 0 {
		c.Lifecycle.RestartDelay = 2 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func defaultCache(cc *CacheConfig, ttl time.Duration, size int) {
	if cc.TTL == 0 {
		cc.TTL = ttl
	}
	if cc.MaxSize == 0 {
		cc.MaxSize = size
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The server address is required unless Tailscale is enabled
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

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Engine.Name != EngineSimulator {
		return fmt.Errorf("engine.name %q is not supported", c.Engine.Name)
	}
	if len(c.Engine.Browser) != 3 {
		return fmt.Errorf("engine.browser must have exactly 3 entries")
	}

	if c.Lifecycle.MaxQR < 1 {
		return fmt.Errorf("lifecycle.max_qr must be positive")
	}
	for i, d := range c.Lifecycle.ReconnectSchedule {
		if d <= 0 {
			return fmt.Errorf("lifecycle.reconnect_schedule[%d] must be positive", i)
		}
	}

	for name, cc := range map[string]CacheConfig{
		"messages": c.Caches.Messages,
		"retries":  c.Caches.Retries,
		"groups":   c.Caches.Groups,
		"mapping":  c.Caches.Mapping,
	} {
		if cc.TTL < 0 || cc.MaxSize < 0 {
			return fmt.Errorf("caches.%s bounds must not be negative", name)
		}
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" || c.Matrix.AccessToken == "" || c.Matrix.RoomID == "" {
			return fmt.Errorf("matrix.homeserver, matrix.access_token and matrix.room_id are required when matrix is enabled")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is invalid", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is invalid", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"engine.qr_interval", cfg.Engine.QRIntervalRaw, &cfg.Engine.QRInterval},
		{"engine.connect_timeout", cfg.Engine.ConnectTimeoutRaw, &cfg.Engine.ConnectTimeout},
		{"engine.retry_request_delay", cfg.Engine.RetryRequestDelayRaw, &cfg.Engine.RetryRequestDelay},
		{"caches.messages.ttl", cfg.Caches.Messages.TTLRaw, &cfg.Caches.Messages.TTL},
		{"caches.retries.ttl", cfg.Caches.Retries.TTLRaw, &cfg.Caches.Retries.TTL},
		{"caches.groups.ttl", cfg.Caches.Groups.TTLRaw, &cfg.Caches.Groups.TTL},
		{"caches.mapping.ttl", cfg.Caches.Mapping.TTLRaw, &cfg.Caches.Mapping.TTL},
		{"lifecycle.restart_delay", cfg.Lifecycle.RestartDelayRaw, &cfg.Lifecycle.RestartDelay},
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

	for i, raw := range cfg.Lifecycle.ReconnectScheduleRaw {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing lifecycle.reconnect_schedule[%d] %q: %w", i, raw, err)
		}
		cfg.Lifecycle.ReconnectSchedule = append(cfg.Lifecycle.ReconnectSchedule, d)
	}

	return nil
}
