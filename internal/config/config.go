// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/image-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	PathPrefix string `kong:"help='Path prefix the proxy is served under (overrides config).',env='PATH_PREFIX'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Upstream UpstreamConfig `toml:"upstream"`
	Target   TargetConfig   `toml:"target"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig holds inbound routing settings for the image proxy.
type ProxyConfig struct {
	PathPrefix string `toml:"path_prefix"`
}

// UpstreamConfig holds outbound fetch settings.
type UpstreamConfig struct {
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int    `toml:"read_timeout_seconds"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	IdleConnections       int    `toml:"idle_connections"`
	Accept                string `toml:"accept"`
	AcceptLanguage        string `toml:"accept_language"`
}

// TargetConfig restricts which URLs the proxy will fetch.
// The zero value allows http and https targets on any host.
type TargetConfig struct {
	AllowedSchemes       []string `toml:"allowed_schemes"`
	AllowedHosts         []string `toml:"allowed_hosts"`
	BlockPrivateNetworks bool     `toml:"block_private_networks"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/image-proxy/config.toml then configs/config.toml. If neither exists the
// built-in defaults are used.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.PathPrefix != "" {
		c.Proxy.PathPrefix = cli.PathPrefix
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	for name, v := range map[string]int{
		"upstream.connect_timeout_seconds": c.Upstream.ConnectTimeoutSeconds,
		"upstream.read_timeout_seconds":    c.Upstream.ReadTimeoutSeconds,
		"upstream.timeout_seconds":         c.Upstream.TimeoutSeconds,
		"upstream.idle_connections":        c.Upstream.IdleConnections,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative; got %d", name, v)
		}
	}

	// Path prefix.
	p := c.Proxy.PathPrefix
	if p[0] != '/' {
		return fmt.Errorf("proxy.path_prefix must start with '/'; got %q", p)
	}
	if p == "/" || strings.HasSuffix(p, "/") {
		return fmt.Errorf("proxy.path_prefix must not be '/' or end with '/'; got %q", p)
	}
	for _, reserved := range []string{"/healthz", "/status"} {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return fmt.Errorf("proxy.path_prefix %q conflicts with reserved route %q", p, reserved)
		}
	}

	// Target policy.
	for _, s := range c.Target.AllowedSchemes {
		switch strings.ToLower(s) {
		case "http", "https":
			// valid
		default:
			return fmt.Errorf("target.allowed_schemes entries must be http or https; got %q", s)
		}
	}
	for _, h := range c.Target.AllowedHosts {
		if h == "" || strings.ContainsAny(h, "/:") {
			return fmt.Errorf("target.allowed_hosts entries must be bare host names; got %q", h)
		}
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled {
		mp := c.Metrics.Path
		if mp[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", mp)
		}
		for _, reserved := range []string{p, "/healthz", "/status"} {
			if mp == reserved || strings.HasPrefix(mp, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", mp, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB; the proxy only serves GET
	}
	if c.Proxy.PathPrefix == "" {
		c.Proxy.PathPrefix = "/image-proxy"
	}
	if c.Upstream.ConnectTimeoutSeconds == 0 {
		c.Upstream.ConnectTimeoutSeconds = 10
	}
	if c.Upstream.ReadTimeoutSeconds == 0 {
		c.Upstream.ReadTimeoutSeconds = 30
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.Accept == "" {
		c.Upstream.Accept = "image/*"
	}
	if c.Upstream.AcceptLanguage == "" {
		c.Upstream.AcceptLanguage = "en"
	}
	if len(c.Target.AllowedSchemes) == 0 {
		c.Target.AllowedSchemes = []string{"http", "https"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
