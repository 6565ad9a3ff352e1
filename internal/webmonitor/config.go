package webmonitor

import (
	"path/filepath"
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr              string
	AssetsDir         string
	RecentDetections  int
	StatusInterval    time.Duration
	KeepaliveInterval time.Duration
	MaxBodyBytes      int64
	StreamWidth       int
	StreamHeight      int
	// ServeMetrics mounts /metrics on the UI server.
	ServeMetrics bool
}

// DefaultConfig returns the stock UI server settings.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		AssetsDir:         filepath.Clean("./assets"),
		RecentDetections:  5,
		StatusInterval:    2 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		MaxBodyBytes:      1 << 20,
		StreamWidth:       640,
		StreamHeight:      480,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RecentDetections <= 0 {
		c.RecentDetections = def.RecentDetections
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = def.KeepaliveInterval
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.StreamWidth <= 0 || c.StreamHeight <= 0 {
		c.StreamWidth, c.StreamHeight = def.StreamWidth, def.StreamHeight
	}
	return c
}
