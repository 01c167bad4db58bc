package config

import (
	"os"
	"path/filepath"
	"testing"
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
public_url = "https://proxy.example.com/"
body_max_bytes = 5242880

[upstream]
timeout_seconds = 30
max_redirects = 5
max_body_bytes = 1048576
user_agent = "test-agent"

[rewrite]
disable_banner = true

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
	if cfg.Server.PublicURL != "https://proxy.example.com" {
		t.Errorf("Server.PublicURL = %q, want trailing slash trimmed", cfg.Server.PublicURL)
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 30)
	}
	if cfg.Upstream.MaxRedirects != 5 {
		t.Errorf("Upstream.MaxRedirects = %d, want %d", cfg.Upstream.MaxRedirects, 5)
	}
	if cfg.Upstream.MaxBodyBytes != 1048576 {
		t.Errorf("Upstream.MaxBodyBytes = %d, want %d", cfg.Upstream.MaxBodyBytes, 1048576)
	}
	if cfg.Upstream.UserAgent != "test-agent" {
		t.Errorf("Upstream.UserAgent = %q, want %q", cfg.Upstream.UserAgent, "test-agent")
	}
	if !cfg.Rewrite.DisableBanner {
		t.Error("Rewrite.DisableBanner = false, want true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "[server]\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 5000)
	}
	if cfg.Server.PublicURL != "" {
		t.Errorf("default Server.PublicURL = %q, want empty", cfg.Server.PublicURL)
	}
	if len(cfg.Server.CORS.AllowOrigins) != 1 || cfg.Server.CORS.AllowOrigins[0] != "*" {
		t.Errorf("default CORS.AllowOrigins = %v, want [*]", cfg.Server.CORS.AllowOrigins)
	}
	if cfg.Upstream.TimeoutSeconds != 10 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 10)
	}
	if cfg.Upstream.MaxRedirects != 10 {
		t.Errorf("default Upstream.MaxRedirects = %d, want %d", cfg.Upstream.MaxRedirects, 10)
	}
	if cfg.Upstream.MaxBodyBytes != 10*1024*1024 {
		t.Errorf("default Upstream.MaxBodyBytes = %d, want %d", cfg.Upstream.MaxBodyBytes, 10*1024*1024)
	}
	if cfg.Rewrite.BannerText == "" {
		t.Error("default Rewrite.BannerText is empty")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 5000)
	}
	if cfg.FilePath() != "" {
		t.Errorf("FilePath() = %q, want empty", cfg.FilePath())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_SyntaxError(t *testing.T) {
	path := writeConfig(t, "[server\nport = ")
	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected parse error, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
timeout_seconds = 10

[log]
level = "info"
`)

	cli := &CLI{
		Config:   path,
		Host:     "127.0.0.1",
		Port:     3000,
		Timeout:  25,
		LogLevel: "debug",
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
	if cfg.Upstream.TimeoutSeconds != 25 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d (CLI override)", cfg.Upstream.TimeoutSeconds, 25)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"negative port", "[server]\nport = -1\n"},
		{"port too large", "[server]\nport = 70000\n"},
		{"negative body max", "[server]\nbody_max_bytes = -1\n"},
		{"relative public url", "[server]\npublic_url = \"/proxy\"\n"},
		{"public url with query", "[server]\npublic_url = \"https://p.example/?a=1\"\n"},
		{"negative timeout", "[upstream]\ntimeout_seconds = -5\n"},
		{"negative redirects", "[upstream]\nmax_redirects = -1\n"},
		{"negative max body", "[upstream]\nmax_body_bytes = -1\n"},
		{"rate limit without rps", "[server.rate_limit]\nenabled = true\n"},
		{"bad log level", "[log]\nlevel = \"verbose\"\n"},
		{"bad log format", "[log]\nformat = \"xml\"\n"},
		{"metrics path no slash", "[metrics]\nenabled = true\npath = \"metrics\"\n"},
		{"metrics path reserved", "[metrics]\nenabled = true\npath = \"/proxy\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.data)
			if _, err := Load(cliWithPath(path)); err == nil {
				t.Fatal("Load() expected validation error, got nil")
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 25.5
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("RateLimit.Enabled = false, want true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 25.5 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 25.5", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_CORSOrigins(t *testing.T) {
	path := writeConfig(t, `
[server.cors]
allow_origins = ["https://app.example.com"]
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Server.CORS.AllowOrigins; len(got) != 1 || got[0] != "https://app.example.com" {
		t.Errorf("CORS.AllowOrigins = %v, want [https://app.example.com]", got)
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "no-slash"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "[server]\n")

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
	path1 := writeConfig(t, "[server]\n")
	path2 := writeConfig(t, "[server]\n")

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 5000}
	if got := sc.Addr(); got != "127.0.0.1:5000" {
		t.Errorf("Addr() = %q, want %q", got, "127.0.0.1:5000")
	}
}
