// Package metrics holds the Prometheus collectors exported by chromasync.
//
// Collectors are created per coordinator instead of through promauto so that
// several coordinators (and tests) can coexist in one process. Pass a nil
// Registerer to keep them unregistered.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chromasync"

// Bus groups the event bus collectors.
type Bus struct {
	EventsTotal   *prometheus.CounterVec
	HandlerErrors *prometheus.CounterVec
	Subscriptions prometheus.Gauge
	Deferred      prometheus.Gauge
}

// NewBus creates the bus collectors and registers them with reg when non-nil.
func NewBus(reg prometheus.Registerer) *Bus {
	m := &Bus{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_total",
			Help:      "Total number of events dispatched by the unified event bus",
		}, []string{"type", "mode"}),
		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_handler_errors_total",
			Help:      "Total number of recovered handler errors and panics",
		}, []string{"type", "subscriber"}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_active_subscriptions",
			Help:      "Number of active bus subscriptions",
		}),
		Deferred: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_deferred_pending",
			Help:      "Number of deferred events waiting for dispatch",
		}),
	}
	register(reg, m.EventsTotal, m.HandlerErrors, m.Subscriptions, m.Deferred)
	return m
}

// Migration groups the legacy event migration collectors.
type Migration struct {
	LegacyEvents *prometheus.CounterVec
}

// NewMigration creates the migration collectors.
func NewMigration(reg prometheus.Registerer) *Migration {
	m := &Migration{
		LegacyEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "legacy_events_total",
			Help:      "Legacy event invocations by legacy name and outcome",
		}, []string{"legacy", "outcome"}),
	}
	register(reg, m.LegacyEvents)
	return m
}

// IncLegacy records a legacy invocation outcome ("migrated" or "dropped").
func (m *Migration) IncLegacy(name, outcome string) {
	if m == nil {
		return
	}
	if name == "" {
		name = "unknown"
	}
	m.LegacyEvents.WithLabelValues(name, outcome).Inc()
}

// Lifecycle groups the system lifecycle collectors.
type Lifecycle struct {
	SystemState  *prometheus.GaugeVec
	InitDuration *prometheus.HistogramVec
	Healthy      prometheus.Gauge
}

// NewLifecycle creates the lifecycle collectors.
func NewLifecycle(reg prometheus.Registerer) *Lifecycle {
	m := &Lifecycle{
		SystemState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "system_state",
			Help:      "Current lifecycle state of each managed system (0=uninitialized .. 5=destroyed)",
		}, []string{"system"}),
		InitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "system_init_seconds",
			Help:      "Time spent in system initialization",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}, []string{"system", "result"}),
		Healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "healthy",
			Help:      "1 when the last aggregated health check passed",
		}),
	}
	register(reg, m.SystemState, m.InitDuration, m.Healthy)
	return m
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) {
	if reg == nil {
		return
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}
