package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for ssebridged.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// ListenAddr is the address the HTTP server binds to (host:port).
	ListenAddr string `yaml:"listen_addr"`

	// Path is the mount point of the bridge endpoint.
	Path string `yaml:"path"`

	// ShutdownTimeout bounds how long a graceful shutdown may take.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BridgeConfig holds per-channel bridge settings.
type BridgeConfig struct {
	// AllowedOrigins is the case-insensitive origin allow-list.
	// Empty allows every origin. Reloaded on config change.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// KeepaliveInterval controls SSE comment-frame keepalives. Zero disables.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`

	// MaxBodyBytes caps a single POST message body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// MaxPendingFrames caps outbound frames buffered before a socket binds.
	MaxPendingFrames int `yaml:"max_pending_frames"`

	// MaxReassembly caps out-of-order inbound messages held per channel.
	MaxReassembly int `yaml:"max_reassembly"`

	// AcceptBacklog is the buffer depth of the new-channels queue.
	AcceptBacklog int `yaml:"accept_backlog"`
}

// MetricsConfig holds metrics exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
