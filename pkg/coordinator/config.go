package coordinator

import (
	"fmt"
	"time"

	"github.com/bft-labs/chromasync/pkg/lifecycle"
)

// Config holds the coordinator timing and gating configuration.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config struct {
	// SystemTimeout bounds a single system's Initialize. Zero disables it.
	// Default: 5s
	SystemTimeout time.Duration

	// PhaseTimeout bounds a whole phase. Systems still initializing when it
	// expires are marked failed. Zero disables it. Default: 15s
	PhaseTimeout time.Duration

	// HealthCheckTimeout bounds each system's HealthCheck. Default: 2s
	HealthCheckTimeout time.Duration

	// EnforceSequentialInitialization makes any initialization failure
	// fatal. When false, startup continues degraded and only critical
	// systems stop it. Default: true
	EnforceSequentialInitialization bool

	// TickInterval is the animation frame interval used by Run. Zero
	// disables ticking. Default: 1/60 s
	TickInterval time.Duration

	// HealthInterval is the periodic health check interval used by Run.
	// Zero disables periodic checks. Default: 10s
	HealthInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SystemTimeout:                   5 * time.Second,
		PhaseTimeout:                    15 * time.Second,
		HealthCheckTimeout:              2 * time.Second,
		EnforceSequentialInitialization: true,
		TickInterval:                    time.Second / 60,
		HealthInterval:                  10 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"system timeout", c.SystemTimeout},
		{"phase timeout", c.PhaseTimeout},
		{"health check timeout", c.HealthCheckTimeout},
		{"tick interval", c.TickInterval},
		{"health interval", c.HealthInterval},
	}
	for _, d := range durations {
		if d.d < 0 {
			return &lifecycle.ConfigError{Detail: fmt.Sprintf("%s must not be negative, got %s", d.name, d.d)}
		}
	}
	if c.PhaseTimeout > 0 && c.SystemTimeout > c.PhaseTimeout {
		return &lifecycle.ConfigError{
			Detail: fmt.Sprintf("system timeout %s exceeds phase timeout %s", c.SystemTimeout, c.PhaseTimeout),
		}
	}
	return nil
}
