package luna

import (
	"errors"
	"strings"
	"time"
)

// Config controls how the adapter reaches the compositor daemon.
type Config struct {
	SocketPath       string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		SocketPath:       "/tmp/luna-compositor.sock",
		ConnectTimeout:   5 * time.Second,
		OperationTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.SocketPath) != "" {
		defaults.SocketPath = c.SocketPath
	}
	if c.ConnectTimeout != 0 {
		defaults.ConnectTimeout = c.ConnectTimeout
	}
	if c.OperationTimeout != 0 {
		defaults.OperationTimeout = c.OperationTimeout
	}
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SocketPath) == "" {
		return errors.New("socket_path is required")
	}
	if c.ConnectTimeout < 0 {
		return errors.New("connect_timeout must be zero or positive")
	}
	return nil
}
