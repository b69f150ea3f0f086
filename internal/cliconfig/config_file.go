package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	DataDir            string `toml:"data_dir"`
	SettingsPath       string `toml:"settings_path"`
	ThemePath          string `toml:"theme_path"`
	LogLevel           string `toml:"log_level"`
	MetricsAddr        string `toml:"metrics_addr"`
	SystemTimeout      string `toml:"system_timeout"`
	PhaseTimeout       string `toml:"phase_timeout"`
	HealthCheckTimeout string `toml:"health_check_timeout"`
	TickInterval       string `toml:"tick_interval"`
	HealthInterval     string `toml:"health_interval"`
	EnforceSequential  *bool  `toml:"enforce_sequential"`
	WatchSettings      *bool  `toml:"watch_settings"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.chromasync/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".chromasync", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("settings", fc.SettingsPath, &cfg.SettingsPath)
	s.setString("theme", fc.ThemePath, &cfg.ThemePath)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	if err := s.setDuration("system-timeout", fc.SystemTimeout, &cfg.SystemTimeout); err != nil {
		return err
	}
	if err := s.setDuration("phase-timeout", fc.PhaseTimeout, &cfg.PhaseTimeout); err != nil {
		return err
	}
	if err := s.setDuration("health-timeout", fc.HealthCheckTimeout, &cfg.HealthCheckTimeout); err != nil {
		return err
	}
	if err := s.setDuration("tick", fc.TickInterval, &cfg.TickInterval); err != nil {
		return err
	}
	if err := s.setDuration("health-interval", fc.HealthInterval, &cfg.HealthInterval); err != nil {
		return err
	}

	s.setBool("sequential", fc.EnforceSequential, &cfg.EnforceSequential)
	s.setBool("watch-settings", fc.WatchSettings, &cfg.WatchSettings)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
