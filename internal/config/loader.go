package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath    string
	Hostname      string
	LogLevel      string
	Listen        string
	MaxReconnects int
	SourceIP      string
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "./loginproxy.toml", "Path to configuration file")
	flag.StringVar(&f.Hostname, "hostname", "", "Proxy hostname (advertised in XCLIENT DESTNAME)")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.Listen, "listen", "", "Client-facing listen address")
	flag.IntVar(&f.MaxReconnects, "max-reconnects", 0, "Maximum per-session reconnect attempts")
	flag.StringVar(&f.SourceIP, "source-ip", "", "Bind address for outgoing backend connects")

	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config. If the
// file does not exist, returns the default configuration. The loader
// reads from both [server] (shared settings) and [loginproxy]
// (specific settings), with [loginproxy] values taking precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	cfg = mergeServerConfig(cfg, fileConfig.Server)
	cfg = mergeConfig(cfg, fileConfig.LoginProxy)

	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config. Non-zero/
// non-empty flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.Hostname != "" {
		cfg.Hostname = f.Hostname
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Listen != "" {
		cfg.Listen = f.Listen
	}
	if f.MaxReconnects > 0 {
		cfg.MaxReconnects = f.MaxReconnects
	}
	if f.SourceIP != "" {
		cfg.SourceIP = f.SourceIP
	}
	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags,
// then applies flag overrides.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(cfg, f), nil
}

// mergeServerConfig merges shared server settings into the config.
func mergeServerConfig(dst Config, src ServerConfig) Config {
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}
	return dst
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src Config) Config {
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.Listen != "" {
		dst.Listen = src.Listen
	}
	if src.MaxReconnects > 0 {
		dst.MaxReconnects = src.MaxReconnects
	}
	if src.MaxDisconnectDelay != "" {
		dst.MaxDisconnectDelay = src.MaxDisconnectDelay
	}
	if src.ConnectTimeout != "" {
		dst.ConnectTimeout = src.ConnectTimeout
	}
	if src.NotifyRefresh != "" {
		dst.NotifyRefresh = src.NotifyRefresh
	}
	if src.HostImmediateFailAfter != "" {
		dst.HostImmediateFailAfter = src.HostImmediateFailAfter
	}
	if src.SourceIP != "" {
		dst.SourceIP = src.SourceIP
	}
	if len(src.SSLFlags) > 0 {
		dst.SSLFlags = src.SSLFlags
	}
	if src.RawlogDir != "" {
		dst.RawlogDir = src.RawlogDir
	}

	if src.Admin.HTTPAddress != "" {
		dst.Admin.HTTPAddress = src.Admin.HTTPAddress
	}
	if src.Admin.GRPCAddress != "" {
		dst.Admin.GRPCAddress = src.Admin.GRPCAddress
	}

	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}
	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	return dst
}
