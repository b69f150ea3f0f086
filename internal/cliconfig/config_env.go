package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (CHROMASYNC_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", os.Getenv("CHROMASYNC_DATA_DIR"), &cfg.DataDir)
	s.setString("settings", os.Getenv("CHROMASYNC_SETTINGS"), &cfg.SettingsPath)
	s.setString("theme", os.Getenv("CHROMASYNC_THEME"), &cfg.ThemePath)
	s.setString("log-level", os.Getenv("CHROMASYNC_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("metrics-addr", os.Getenv("CHROMASYNC_METRICS_ADDR"), &cfg.MetricsAddr)

	if err := s.setDuration("system-timeout", os.Getenv("CHROMASYNC_SYSTEM_TIMEOUT"), &cfg.SystemTimeout); err != nil {
		return err
	}
	if err := s.setDuration("phase-timeout", os.Getenv("CHROMASYNC_PHASE_TIMEOUT"), &cfg.PhaseTimeout); err != nil {
		return err
	}
	if err := s.setDuration("health-timeout", os.Getenv("CHROMASYNC_HEALTH_TIMEOUT"), &cfg.HealthCheckTimeout); err != nil {
		return err
	}
	if err := s.setDuration("tick", os.Getenv("CHROMASYNC_TICK_INTERVAL"), &cfg.TickInterval); err != nil {
		return err
	}
	if err := s.setDuration("health-interval", os.Getenv("CHROMASYNC_HEALTH_INTERVAL"), &cfg.HealthInterval); err != nil {
		return err
	}

	if err := s.setBoolFromString("sequential", os.Getenv("CHROMASYNC_ENFORCE_SEQUENTIAL"), &cfg.EnforceSequential); err != nil {
		return err
	}
	if err := s.setBoolFromString("watch-settings", os.Getenv("CHROMASYNC_WATCH_SETTINGS"), &cfg.WatchSettings); err != nil {
		return err
	}

	return nil
}
