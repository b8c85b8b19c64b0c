// Package config loads the runtime configuration: built-in defaults, merged
// with an optional YAML file, overridden by CARDHOST_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/odvcencio/cardhost/pkg/errors"
)

// Default configuration values exported for documentation and validation.
const (
	DefaultBusDriver        = "memory"
	DefaultBusURL           = "nats://localhost:4222"
	DefaultBusTimeout       = 30 * time.Second
	DefaultToolkitDriver    = "memory"
	DefaultCompositorSocket = "/tmp/luna-compositor.sock"
	DefaultApplicationsDir  = "/usr/share/cardhost/applications"
	DefaultDataDir          = "~/.cardhost"
	DefaultAPIBind          = "127.0.0.1:4477"
	DefaultLogLevel         = "info"
)

// Config is the complete cardhost configuration.
type Config struct {
	Bus     BusConfig     `yaml:"bus"`
	Toolkit ToolkitConfig `yaml:"toolkit"`
	Apps    AppsConfig    `yaml:"apps"`
	Data    DataConfig    `yaml:"data"`
	API     APIConfig     `yaml:"api"`
	Log     LogConfig     `yaml:"log"`
}

// BusConfig selects and configures the service bus transport.
type BusConfig struct {
	Driver  string        `yaml:"driver"` // "nats" or "memory"
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ToolkitConfig selects the window toolkit backend.
type ToolkitConfig struct {
	Driver string `yaml:"driver"` // "luna" or "memory"
	Socket string `yaml:"socket"`
}

// AppsConfig locates application descriptors.
type AppsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// DataConfig locates mutable runtime state.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// APIConfig configures the management HTTP surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Driver:  DefaultBusDriver,
			URL:     DefaultBusURL,
			Timeout: DefaultBusTimeout,
		},
		Toolkit: ToolkitConfig{
			Driver: DefaultToolkitDriver,
			Socket: DefaultCompositorSocket,
		},
		Apps: AppsConfig{
			Dir:   DefaultApplicationsDir,
			Watch: true,
		},
		Data: DataConfig{
			Dir: DefaultDataDir,
		},
		API: APIConfig{
			Enabled: true,
			Bind:    DefaultAPIBind,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file at
// path, and CARDHOST_* environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadAndMerge(cfg, path); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "loading config from "+path)
		}
	}

	applyEnvOverrides(cfg)
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigParse, "parsing YAML")
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeConfigParse, "parsing YAML")
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Booleans use the raw document to
// distinguish "false" from "absent".
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override.Bus.Driver != "" {
		base.Bus.Driver = override.Bus.Driver
	}
	if override.Bus.URL != "" {
		base.Bus.URL = override.Bus.URL
	}
	if override.Bus.Timeout != 0 {
		base.Bus.Timeout = override.Bus.Timeout
	}
	if override.Toolkit.Driver != "" {
		base.Toolkit.Driver = override.Toolkit.Driver
	}
	if override.Toolkit.Socket != "" {
		base.Toolkit.Socket = override.Toolkit.Socket
	}
	if override.Apps.Dir != "" {
		base.Apps.Dir = override.Apps.Dir
	}
	if boolFieldSet(raw, "apps", "watch") {
		base.Apps.Watch = override.Apps.Watch
	}
	if override.Data.Dir != "" {
		base.Data.Dir = override.Data.Dir
	}
	if boolFieldSet(raw, "api", "enabled") {
		base.API.Enabled = override.API.Enabled
	}
	if override.API.Bind != "" {
		base.API.Bind = override.API.Bind
	}
	if override.Log.Level != "" {
		base.Log.Level = override.Log.Level
	}
	if override.Log.Dir != "" {
		base.Log.Dir = override.Log.Dir
	}
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	current := raw
	for i, key := range path {
		value, ok := current[key]
		if !ok {
			return false
		}
		if i == len(path)-1 {
			_, isBool := value.(bool)
			return isBool
		}
		next, ok := value.(map[string]any)
		if !ok {
			return false
		}
		current = next
	}
	return false
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CARDHOST_BUS_DRIVER"); v != "" {
		cfg.Bus.Driver = v
	}
	if v := os.Getenv("CARDHOST_BUS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("CARDHOST_BUS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bus.Timeout = d
		}
	}
	if v := os.Getenv("CARDHOST_TOOLKIT_DRIVER"); v != "" {
		cfg.Toolkit.Driver = v
	}
	if v := os.Getenv("CARDHOST_COMPOSITOR_SOCKET"); v != "" {
		cfg.Toolkit.Socket = v
	}
	if v := os.Getenv("CARDHOST_APPS_DIR"); v != "" {
		cfg.Apps.Dir = v
	}
	if v := os.Getenv("CARDHOST_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("CARDHOST_API_BIND"); v != "" {
		cfg.API.Bind = v
	}
	if v := os.Getenv("CARDHOST_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CARDHOST_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
}

// expandPaths resolves ~ in directory settings.
func (c *Config) expandPaths() {
	c.Data.Dir = expandHome(c.Data.Dir)
	c.Apps.Dir = expandHome(c.Apps.Dir)
	c.Log.Dir = expandHome(c.Log.Dir)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return path
		}
		return home + strings.TrimPrefix(path, "~")
	}
	return path
}

// Validate checks the configuration for values the runtime cannot start
// with.
func (c *Config) Validate() error {
	switch c.Bus.Driver {
	case "nats", "memory":
	default:
		return apperrors.New(apperrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown bus driver %q (want nats or memory)", c.Bus.Driver))
	}
	switch c.Toolkit.Driver {
	case "luna", "memory":
	default:
		return apperrors.New(apperrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown toolkit driver %q (want luna or memory)", c.Toolkit.Driver))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return apperrors.New(apperrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if c.Bus.Timeout < 0 {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "bus timeout must be zero or positive")
	}
	if c.API.Enabled && strings.TrimSpace(c.API.Bind) == "" {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, "api bind address is required when api is enabled")
	}
	return nil
}
