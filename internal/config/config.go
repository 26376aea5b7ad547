package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost           = "localhost:8888"
	DefaultPath           = "/networktables/ws"
	DefaultReconnectDelay = 300 * time.Millisecond
)

// Environment overrides. NT_HOST plays the part of the data-nt-host
// attribute a dashboard page uses to point at a different server.
const (
	EnvHost   = "NT_HOST"
	EnvSecure = "NT_SECURE"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config describes where the NetworkTables websocket lives and how the
// client talks to it.
type Config struct {
	Host   string `yaml:"host"`
	Secure bool   `yaml:"secure"`
	Path   string `yaml:"path"`

	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	// PingInterval of zero disables keepalive pings.
	PingInterval time.Duration `yaml:"ping_interval"`
}

func Default() *Config {
	return &Config{
		Host:             DefaultHost,
		Path:             DefaultPath,
		ReconnectDelay:   DefaultReconnectDelay,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// Load reads a YAML config file on top of the defaults and applies the
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from NT_HOST and NT_SECURE when they are set.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvHost); v != "" {
		c.Host = v
	}
	if v := os.Getenv(EnvSecure); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvSecure, v, err)
		}
		c.Secure = secure
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidConfig)
	}
	if strings.Contains(c.Host, "/") {
		return fmt.Errorf("%w: host %q must not contain a scheme or path", ErrInvalidConfig, c.Host)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: path %q must start with /", ErrInvalidConfig, c.Path)
	}
	for name, d := range map[string]time.Duration{
		"reconnect_delay":   c.ReconnectDelay,
		"handshake_timeout": c.HandshakeTimeout,
		"write_timeout":     c.WriteTimeout,
		"ping_interval":     c.PingInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidConfig, name)
		}
	}
	return nil
}

// Scheme is wss when the server is reached over TLS, ws otherwise.
func (c *Config) Scheme() string {
	if c.Secure {
		return "wss"
	}
	return "ws"
}

// URL returns the websocket endpoint.
func (c *Config) URL() string {
	u := url.URL{Scheme: c.Scheme(), Host: c.Host, Path: c.Path}
	return u.String()
}
