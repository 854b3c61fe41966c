package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for errors. Call after applying defaults.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with '/', got %q", c.Server.Path)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout cannot be negative")
	}
	if c.Bridge.KeepaliveInterval < 0 {
		return fmt.Errorf("bridge.keepalive_interval cannot be negative")
	}
	if c.Bridge.MaxBodyBytes < 0 {
		return fmt.Errorf("bridge.max_body_bytes cannot be negative")
	}
	if c.Bridge.MaxPendingFrames < 0 {
		return fmt.Errorf("bridge.max_pending_frames cannot be negative")
	}
	if c.Bridge.MaxReassembly < 0 {
		return fmt.Errorf("bridge.max_reassembly cannot be negative")
	}
	for _, o := range c.Bridge.AllowedOrigins {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("bridge.allowed_origins contains an empty entry")
		}
	}
	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
		}
		if c.Metrics.Path == c.Server.Path {
			return fmt.Errorf("metrics.path cannot equal server.path (%q)", c.Server.Path)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return nil
}
