// Package config provides configuration management for the login-proxy.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/infodancer/loginproxy/internal/proxy"
)

// FileConfig is the top-level wrapper for the shared configuration file.
// [server] holds settings shared across this codebase's mail services;
// [loginproxy] holds settings specific to this one.
type FileConfig struct {
	Server     ServerConfig `toml:"server"`
	LoginProxy Config       `toml:"loginproxy"`
}

// ServerConfig holds shared settings used by all mail services in this
// codebase family.
type ServerConfig struct {
	Hostname string `toml:"hostname"`
}

// Config holds the resolved login-proxy configuration.
type Config struct {
	Hostname string `toml:"hostname"`
	LogLevel string `toml:"log_level"`
	Listen   string `toml:"listen"`

	MaxReconnects          int    `toml:"max_reconnects"`
	MaxDisconnectDelay     string `toml:"max_disconnect_delay"`
	ConnectTimeout         string `toml:"connect_timeout"`
	NotifyRefresh          string `toml:"notify_refresh"`
	HostImmediateFailAfter string `toml:"host_immediate_failure_after"`

	SourceIP  string   `toml:"source_ip"`
	SSLFlags  []string `toml:"ssl_flags"`
	RawlogDir string   `toml:"rawlog_dir"`

	Admin   AdminConfig   `toml:"admin"`
	Metrics MetricsConfig `toml:"metrics"`
}

// AdminConfig holds the admin surface's listen addresses.
type AdminConfig struct {
	HTTPAddress string `toml:"http_address"`
	GRPCAddress string `toml:"grpc_address"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		Hostname: "localhost",
		LogLevel: "info",
		Listen:   ":110",

		MaxReconnects:          2,
		MaxDisconnectDelay:     "15s",
		ConnectTimeout:         "30s",
		NotifyRefresh:          "60s",
		HostImmediateFailAfter: "4s",

		SSLFlags: []string{"starttls"},

		Admin: AdminConfig{
			HTTPAddress: ":8070",
			GRPCAddress: ":8071",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9101",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return errors.New("hostname is required")
	}
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.MaxReconnects < 0 {
		return errors.New("max_reconnects must not be negative")
	}

	for name, val := range map[string]string{
		"max_disconnect_delay":         c.MaxDisconnectDelay,
		"connect_timeout":              c.ConnectTimeout,
		"notify_refresh":                c.NotifyRefresh,
		"host_immediate_failure_after": c.HostImmediateFailAfter,
	} {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if _, err := c.ParseSSLFlags(); err != nil {
		return err
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

// ParseSSLFlags translates the configured flag names into a proxy.SSLFlag
// bitmask. Unknown names are rejected.
func (c *Config) ParseSSLFlags() (proxy.SSLFlag, error) {
	var out proxy.SSLFlag
	for _, name := range c.SSLFlags {
		switch name {
		case "yes":
			out |= proxy.SSLYes
		case "starttls":
			out |= proxy.SSLStartTLS
		case "any_cert":
			out |= proxy.SSLAnyCert
		default:
			return 0, fmt.Errorf("unknown ssl_flags entry %q", name)
		}
	}
	return out, nil
}

// MaxDisconnectDelayDuration returns the configured pacing window, or 0
// (immediate disconnect) if unset or invalid.
func (c *Config) MaxDisconnectDelayDuration() time.Duration {
	return parseDurationOr(c.MaxDisconnectDelay, 0)
}

// ConnectTimeoutDuration returns the configured pre-login budget, or 30s
// if unset or invalid.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return parseDurationOr(c.ConnectTimeout, 30*time.Second)
}

// NotifyRefreshDuration returns the configured anvil-notify period, or 60s
// if unset or invalid.
func (c *Config) NotifyRefreshDuration() time.Duration {
	return parseDurationOr(c.NotifyRefresh, 60*time.Second)
}

// HostImmediateFailAfterDuration returns the configured fast-fail window,
// or 4s if unset or invalid.
func (c *Config) HostImmediateFailAfterDuration() time.Duration {
	return parseDurationOr(c.HostImmediateFailAfter, 4*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
