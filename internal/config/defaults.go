package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultPath              = "/sse"
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultKeepaliveInterval = 15 * time.Second
	DefaultMaxBodyBytes      = 4 << 20
	DefaultMaxPendingFrames  = 256
	DefaultMaxReassembly     = 1024
	DefaultAcceptBacklog     = 32
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
)

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Bridge.KeepaliveInterval == 0 {
		c.Bridge.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.Bridge.MaxBodyBytes == 0 {
		c.Bridge.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Bridge.MaxPendingFrames == 0 {
		c.Bridge.MaxPendingFrames = DefaultMaxPendingFrames
	}
	if c.Bridge.MaxReassembly == 0 {
		c.Bridge.MaxReassembly = DefaultMaxReassembly
	}
	if c.Bridge.AcceptBacklog == 0 {
		c.Bridge.AcceptBacklog = DefaultAcceptBacklog
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
