package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 4096

[proxy]
path_prefix = "/img"

[upstream]
connect_timeout_seconds = 3
read_timeout_seconds = 7
timeout_seconds = 20
idle_connections = 50
accept = "image/png"
accept_language = "de"

[target]
allowed_schemes = ["https"]
allowed_hosts = ["cdn.example.com", "*.images.example.org"]
block_private_networks = true

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Proxy.PathPrefix != "/img" {
		t.Errorf("Proxy.PathPrefix = %q, want %q", cfg.Proxy.PathPrefix, "/img")
	}
	want := UpstreamConfig{
		ConnectTimeoutSeconds: 3,
		ReadTimeoutSeconds:    7,
		TimeoutSeconds:        20,
		IdleConnections:       50,
		Accept:                "image/png",
		AcceptLanguage:        "de",
	}
	if diff := cmp.Diff(want, cfg.Upstream); diff != "" {
		t.Errorf("Upstream mismatch (-want +got):\n%s", diff)
	}
	wantTarget := TargetConfig{
		AllowedSchemes:       []string{"https"},
		AllowedHosts:         []string{"cdn.example.com", "*.images.example.org"},
		BlockPrivateNetworks: true,
	}
	if diff := cmp.Diff(wantTarget, cfg.Target); diff != "" {
		t.Errorf("Target mismatch (-want +got):\n%s", diff)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 1024*1024)
	}
	if cfg.Proxy.PathPrefix != "/image-proxy" {
		t.Errorf("default Proxy.PathPrefix = %q, want %q", cfg.Proxy.PathPrefix, "/image-proxy")
	}
	want := UpstreamConfig{
		ConnectTimeoutSeconds: 10,
		ReadTimeoutSeconds:    30,
		TimeoutSeconds:        60,
		IdleConnections:       100,
		Accept:                "image/*",
		AcceptLanguage:        "en",
	}
	if diff := cmp.Diff(want, cfg.Upstream); diff != "" {
		t.Errorf("default Upstream mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"http", "https"}, cfg.Target.AllowedSchemes); diff != "" {
		t.Errorf("default Target.AllowedSchemes mismatch (-want +got):\n%s", diff)
	}
	if len(cfg.Target.AllowedHosts) != 0 || cfg.Target.BlockPrivateNetworks {
		t.Errorf("default Target = %+v, want permissive", cfg.Target)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load(&CLI{})
	if err != nil {
		t.Fatalf("Load() error = %v; a missing search-path config should fall back to defaults", err)
	}
	if cfg.Proxy.PathPrefix != "/image-proxy" {
		t.Errorf("Proxy.PathPrefix = %q, want %q", cfg.Proxy.PathPrefix, "/image-proxy")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeConfig(t, "[server\nport = ")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for malformed TOML, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[proxy]
path_prefix = "/image-proxy"

[log]
level = "info"
`)

	cli := &CLI{
		Config:     path,
		Host:       "127.0.0.1",
		Port:       3000,
		PathPrefix: "/pics",
		LogLevel:   "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Proxy.PathPrefix != "/pics" {
		t.Errorf("Proxy.PathPrefix = %q, want %q (CLI override)", cfg.Proxy.PathPrefix, "/pics")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"port too large", "[server]\nport = 70000\n", "server.port"},
		{"negative body_max_bytes", "[server]\nbody_max_bytes = -1\n", "body_max_bytes"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5\n", "upstream.timeout_seconds"},
		{"negative connect timeout", "[upstream]\nconnect_timeout_seconds = -1\n", "upstream.connect_timeout_seconds"},
		{"negative read timeout", "[upstream]\nread_timeout_seconds = -1\n", "upstream.read_timeout_seconds"},
		{"negative idle connections", "[upstream]\nidle_connections = -1\n", "upstream.idle_connections"},
		{"prefix without slash", "[proxy]\npath_prefix = \"image-proxy\"\n", "proxy.path_prefix"},
		{"root prefix", "[proxy]\npath_prefix = \"/\"\n", "proxy.path_prefix"},
		{"trailing slash prefix", "[proxy]\npath_prefix = \"/image-proxy/\"\n", "proxy.path_prefix"},
		{"prefix conflicts with healthz", "[proxy]\npath_prefix = \"/healthz\"\n", "conflicts"},
		{"unsupported scheme", "[target]\nallowed_schemes = [\"ftp\"]\n", "target.allowed_schemes"},
		{"host with port", "[target]\nallowed_hosts = [\"example.com:443\"]\n", "target.allowed_hosts"},
		{"empty host", "[target]\nallowed_hosts = [\"\"]\n", "target.allowed_hosts"},
		{"invalid log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"invalid log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"rate limit zero", "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n", "requests_per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}
	// WriteFile is subject to umask; set the bits explicitly.
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "writable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0644 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	(&Config{}).WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no output without a config file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "[proxy]\npath_prefix = \"/img\"\n")

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "")
	path2 := writeConfig(t, "")

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"custom", "/custom-metrics", ""},
		{"no leading slash", "metrics", "metrics.path"},
		{"proxy prefix exact", "/image-proxy", "conflicts"},
		{"proxy prefix sub", "/image-proxy/metrics", "conflicts"},
		{"healthz", "/healthz", "conflicts"},
		{"status", "/status", "conflicts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[metrics]
enabled = true
path = "`+tt.path+`"
`)
			cfg, err := Load(cliWithPath(cfgPath))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Load() error = %v", err)
				}
				if cfg.Metrics.Path != tt.path {
					t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, tt.path)
				}
				return
			}
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "bad-no-slash"
`)

	_, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
