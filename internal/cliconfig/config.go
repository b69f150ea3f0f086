package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bft-labs/chromasync/pkg/coordinator"
	"github.com/bft-labs/chromasync/pkg/log"
)

const (
	// DefaultMetricsAddr is where the Prometheus handler listens unless
	// configured otherwise. An empty address disables it.
	DefaultMetricsAddr = "127.0.0.1:9464"

	settingsFileName = "settings.json"
	themeFileName    = "theme.css"
)

// Config holds CLI configuration for chromasync.
type Config struct {
	DataDir      string
	SettingsPath string
	ThemePath    string

	LogLevel    string
	MetricsAddr string

	SystemTimeout      time.Duration
	PhaseTimeout       time.Duration
	HealthCheckTimeout time.Duration
	TickInterval       time.Duration
	HealthInterval     time.Duration

	EnforceSequential bool
	WatchSettings     bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	cc := coordinator.DefaultConfig()
	return Config{
		DataDir:            DefaultDataDir(),
		LogLevel:           "info",
		MetricsAddr:        DefaultMetricsAddr,
		SystemTimeout:      cc.SystemTimeout,
		PhaseTimeout:       cc.PhaseTimeout,
		HealthCheckTimeout: cc.HealthCheckTimeout,
		TickInterval:       cc.TickInterval,
		HealthInterval:     cc.HealthInterval,
		EnforceSequential:  cc.EnforceSequentialInitialization,
		WatchSettings:      true,
	}
}

// DefaultDataDir returns ~/.chromasync, or "" when the home directory is
// unknown.
func DefaultDataDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".chromasync")
	}
	return ""
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.SettingsPath == "" {
		if c.DataDir == "" {
			return fmt.Errorf("settings path is required (or data-dir)")
		}
		c.SettingsPath = filepath.Join(c.DataDir, settingsFileName)
	}
	if c.ThemePath == "" {
		// fall back next to the settings file
		c.ThemePath = filepath.Join(filepath.Dir(c.SettingsPath), themeFileName)
	}

	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	return c.Coordinator().Validate()
}

// Coordinator converts the timing fields into a coordinator.Config.
func (c Config) Coordinator() coordinator.Config {
	return coordinator.Config{
		SystemTimeout:                   c.SystemTimeout,
		PhaseTimeout:                    c.PhaseTimeout,
		HealthCheckTimeout:              c.HealthCheckTimeout,
		EnforceSequentialInitialization: c.EnforceSequential,
		TickInterval:                    c.TickInterval,
		HealthInterval:                  c.HealthInterval,
	}
}

// Level returns the parsed log level.
func (c Config) Level() log.Level {
	l, _ := log.ParseLevel(c.LogLevel)
	return l
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setBoolFromString parses a string to bool and sets the destination.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = b
	return nil
}
