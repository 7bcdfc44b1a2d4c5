package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}

	expected := Default()
	if cfg.Hostname != expected.Hostname {
		t.Errorf("expected hostname %q, got %q", expected.Hostname, cfg.Hostname)
	}
}

func TestLoadValidTOML(t *testing.T) {
	content := `
[loginproxy]
hostname = "proxy1.example.net"
log_level = "debug"
listen = ":1100"
max_reconnects = 5
connect_timeout = "45s"
ssl_flags = ["starttls", "any_cert"]
rawlog_dir = "/var/log/loginproxy/raw"

[loginproxy.admin]
http_address = ":9070"
grpc_address = ":9071"
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hostname != "proxy1.example.net" {
		t.Errorf("hostname = %q, want 'proxy1.example.net'", cfg.Hostname)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want 'debug'", cfg.LogLevel)
	}
	if cfg.Listen != ":1100" {
		t.Errorf("listen = %q, want ':1100'", cfg.Listen)
	}
	if cfg.MaxReconnects != 5 {
		t.Errorf("max_reconnects = %d, want 5", cfg.MaxReconnects)
	}
	if cfg.ConnectTimeout != "45s" {
		t.Errorf("connect_timeout = %q, want '45s'", cfg.ConnectTimeout)
	}
	if len(cfg.SSLFlags) != 2 || cfg.SSLFlags[0] != "starttls" || cfg.SSLFlags[1] != "any_cert" {
		t.Errorf("ssl_flags = %v, want [starttls any_cert]", cfg.SSLFlags)
	}
	if cfg.RawlogDir != "/var/log/loginproxy/raw" {
		t.Errorf("rawlog_dir = %q, want '/var/log/loginproxy/raw'", cfg.RawlogDir)
	}
	if cfg.Admin.HTTPAddress != ":9070" || cfg.Admin.GRPCAddress != ":9071" {
		t.Errorf("admin = %+v, want http=:9070 grpc=:9071", cfg.Admin)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	content := `
[loginproxy
hostname = "broken
`
	path := createTempConfig(t, content)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid TOML, got nil")
	}
}

func TestLoadPartialConfig(t *testing.T) {
	content := `
[loginproxy]
hostname = "partial.example.com"
`
	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hostname != "partial.example.com" {
		t.Errorf("hostname = %q, want 'partial.example.com'", cfg.Hostname)
	}

	defaults := Default()
	if cfg.LogLevel != defaults.LogLevel {
		t.Errorf("log_level = %q, want default %q", cfg.LogLevel, defaults.LogLevel)
	}
	if cfg.MaxReconnects != defaults.MaxReconnects {
		t.Errorf("max_reconnects = %d, want default %d", cfg.MaxReconnects, defaults.MaxReconnects)
	}
}

func TestLoadSharedServerConfig(t *testing.T) {
	content := `
[server]
hostname = "shared.example.com"

[loginproxy]
log_level = "warn"
`
	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hostname != "shared.example.com" {
		t.Errorf("hostname = %q, want 'shared.example.com'", cfg.Hostname)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log_level = %q, want 'warn'", cfg.LogLevel)
	}
}

func TestLoadLoginProxyOverridesServer(t *testing.T) {
	content := `
[server]
hostname = "shared.example.com"

[loginproxy]
hostname = "proxy.example.com"
`
	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hostname != "proxy.example.com" {
		t.Errorf("hostname = %q, want 'proxy.example.com' (loginproxy should override server)", cfg.Hostname)
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := Default()

	flags := &Flags{
		Hostname:      "flag.example.com",
		LogLevel:      "debug",
		Listen:        ":2000",
		MaxReconnects: 7,
		SourceIP:      "10.0.0.1",
	}

	result := ApplyFlags(cfg, flags)

	if result.Hostname != "flag.example.com" {
		t.Errorf("hostname = %q, want 'flag.example.com'", result.Hostname)
	}
	if result.LogLevel != "debug" {
		t.Errorf("log_level = %q, want 'debug'", result.LogLevel)
	}
	if result.Listen != ":2000" {
		t.Errorf("listen = %q, want ':2000'", result.Listen)
	}
	if result.MaxReconnects != 7 {
		t.Errorf("max_reconnects = %d, want 7", result.MaxReconnects)
	}
	if result.SourceIP != "10.0.0.1" {
		t.Errorf("source_ip = %q, want '10.0.0.1'", result.SourceIP)
	}
}

func TestApplyFlagsEmptyValuesDoNotOverride(t *testing.T) {
	cfg := Default()
	cfg.Hostname = "original.example.com"
	cfg.LogLevel = "warn"
	cfg.MaxReconnects = 9

	flags := &Flags{}

	result := ApplyFlags(cfg, flags)

	if result.Hostname != "original.example.com" {
		t.Errorf("hostname = %q, want 'original.example.com' (should not be overridden)", result.Hostname)
	}
	if result.LogLevel != "warn" {
		t.Errorf("log_level = %q, want 'warn' (should not be overridden)", result.LogLevel)
	}
	if result.MaxReconnects != 9 {
		t.Errorf("max_reconnects = %d, want 9 (should not be overridden)", result.MaxReconnects)
	}
}

func TestLoadMetricsConfig(t *testing.T) {
	content := `
[loginproxy]
hostname = "mail.example.com"

[loginproxy.metrics]
enabled = true
address = ":9200"
path = "/custom-metrics"
`
	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Metrics.Enabled {
		t.Errorf("metrics.enabled = %v, want true", cfg.Metrics.Enabled)
	}
	if cfg.Metrics.Address != ":9200" {
		t.Errorf("metrics.address = %q, want ':9200'", cfg.Metrics.Address)
	}
	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("metrics.path = %q, want '/custom-metrics'", cfg.Metrics.Path)
	}
}

func TestLoadMetricsConfigPartial(t *testing.T) {
	content := `
[loginproxy]
hostname = "mail.example.com"

[loginproxy.metrics]
enabled = true
`
	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Metrics.Enabled {
		t.Errorf("metrics.enabled = %v, want true", cfg.Metrics.Enabled)
	}

	defaults := Default()
	if cfg.Metrics.Address != defaults.Metrics.Address {
		t.Errorf("metrics.address = %q, want default %q", cfg.Metrics.Address, defaults.Metrics.Address)
	}
	if cfg.Metrics.Path != defaults.Metrics.Path {
		t.Errorf("metrics.path = %q, want default %q", cfg.Metrics.Path, defaults.Metrics.Path)
	}
}

func TestFlagPriorityOverConfig(t *testing.T) {
	content := `
[loginproxy]
hostname = "config.example.com"
log_level = "info"
max_reconnects = 3
`
	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	flags := &Flags{
		Hostname:      "flag.example.com",
		MaxReconnects: 8,
	}

	result := ApplyFlags(cfg, flags)

	if result.Hostname != "flag.example.com" {
		t.Errorf("hostname = %q, want 'flag.example.com' (flag should override)", result.Hostname)
	}
	if result.MaxReconnects != 8 {
		t.Errorf("max_reconnects = %d, want 8 (flag should override)", result.MaxReconnects)
	}
	if result.LogLevel != "info" {
		t.Errorf("log_level = %q, want 'info' (config value should remain)", result.LogLevel)
	}
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create temp config: %v", err)
	}
	return path
}
