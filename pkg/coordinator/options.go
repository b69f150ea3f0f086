package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/bft-labs/chromasync/internal/ports"
	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/log"
	"github.com/bft-labs/chromasync/pkg/services/perfmon"
)

// StateHandler receives every lifecycle transition of a managed system.
// It is called synchronously from the goroutine performing the transition.
type StateHandler func(event.SystemStateChangedEvent)

// Option configures optional behavior of a Coordinator.
type Option func(*options)

type options struct {
	logger       log.Logger
	tracer       trace.Tracer
	registerer   prometheus.Registerer
	extra        []lifecycle.Descriptor
	settingsRepo ports.SettingsRepository
	themeSink    ports.ThemeSink
	stateHandler StateHandler
	perfConfig   perfmon.Config
	perfOpts     []perfmon.Option
	now          func() time.Time
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = log.OrNoop(logger)
	}
}

// WithTracer sets the tracer for initialization spans. The global
// OpenTelemetry tracer is used by default.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithRegisterer registers the coordinator's Prometheus collectors with reg.
// Without it the collectors are created but not registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithSystem adds a managed system next to the built-in ones. Its
// dependencies may name built-in systems.
func WithSystem(d lifecycle.Descriptor) Option {
	return func(o *options) {
		o.extra = append(o.extra, d)
	}
}

// WithSettingsRepository sets where user preferences are loaded from and
// saved to. Preferences are kept in memory by default.
func WithSettingsRepository(repo ports.SettingsRepository) Option {
	return func(o *options) {
		o.settingsRepo = repo
	}
}

// WithThemeSink sets where theme variables are published. Without a sink
// variables are only available through ThemeVariables.
func WithThemeSink(sink ports.ThemeSink) Option {
	return func(o *options) {
		o.themeSink = sink
	}
}

// WithStateHandler sets a handler for system lifecycle transitions.
func WithStateHandler(h StateHandler) Option {
	return func(o *options) {
		o.stateHandler = h
	}
}

// WithClock overrides the clock handed to systems.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithPerformanceMonitor configures the performance monitor. Zero config
// values take their defaults.
func WithPerformanceMonitor(cfg perfmon.Config, opts ...perfmon.Option) Option {
	return func(o *options) {
		o.perfConfig = cfg
		o.perfOpts = append(o.perfOpts, opts...)
	}
}
