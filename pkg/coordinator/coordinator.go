package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/chromasync/internal/adapters/memory"
	"github.com/bft-labs/chromasync/internal/metrics"
	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/log"
	"github.com/bft-labs/chromasync/pkg/migration"
	"github.com/bft-labs/chromasync/pkg/registry"
	"github.com/bft-labs/chromasync/pkg/services/harmony"
	"github.com/bft-labs/chromasync/pkg/services/musicsync"
	"github.com/bft-labs/chromasync/pkg/services/perfmon"
	"github.com/bft-labs/chromasync/pkg/services/settings"
	"github.com/bft-labs/chromasync/pkg/services/theme"
)

// subscriberName is the bus subscriber the coordinator itself uses.
const subscriberName = "coordinator"

var (
	// ErrAlreadyInitialized is returned by Initialize on a running coordinator.
	ErrAlreadyInitialized = errors.New("coordinator: already initialized")

	// ErrNotInitialized is returned by operations that need a running
	// coordinator.
	ErrNotInitialized = errors.New("coordinator: not initialized")

	// ErrInitializationFailed is returned by Initialize after a failed
	// startup until Destroy resets the coordinator.
	ErrInitializationFailed = errors.New("coordinator: previous initialization failed, destroy before retrying")

	// ErrServiceNotReady is returned by the shared service getters before
	// the owning phase completed.
	ErrServiceNotReady = errors.New("coordinator: shared service not ready")
)

type runState int

const (
	stateIdle runState = iota
	stateInitializing
	stateReady
	stateFailed
	stateDestroyed
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateInitializing:
		return "initializing"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	case stateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Coordinator is the single entry point for starting, checking and stopping
// the managed systems, and the only sanctioned way to obtain shared services.
type Coordinator struct {
	cfg         Config
	opts        options
	logger      log.Logger
	descriptors []lifecycle.Descriptor
	graph       *lifecycle.Graph
	registry    *registry.Registry

	busMetrics       *metrics.Bus
	migrationMetrics *metrics.Migration
	lifecycleMetrics *metrics.Lifecycle

	// opMu serializes Initialize and Destroy.
	opMu sync.Mutex

	mu             sync.RWMutex
	state          runState
	bus            *event.Bus
	migrator       *migration.Migrator
	seq            *lifecycle.Sequencer
	colorDeps      map[string]ColorDependent
	lastHarmonized *event.ColorsHarmonizedEvent
}

// New creates a coordinator with the built-in systems plus any added with
// WithSystem. Every configuration problem (invalid config, unknown or cyclic
// dependencies, systems missing lifecycle operations) is reported here.
// Factories run once here and again after each Destroy, so they must be free
// of side effects.
func New(cfg Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateModuleVersions(); err != nil {
		return nil, err
	}

	o := options{
		logger: log.NoopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.settingsRepo == nil {
		o.settingsRepo = memory.NewSettingsRepository(nil)
	}

	descriptors := append(builtinDescriptors(&o), o.extra...)
	for _, d := range descriptors {
		if d.Factory == nil {
			return nil, &lifecycle.ConfigError{System: d.Name, Detail: "no factory"}
		}
	}
	graph, err := lifecycle.NewGraph(lifecycle.DefaultPhases(cfg.PhaseTimeout), descriptors)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:              cfg,
		opts:             o,
		logger:           o.logger,
		descriptors:      descriptors,
		graph:            graph,
		registry:         registry.New(),
		busMetrics:       metrics.NewBus(o.registerer),
		migrationMetrics: metrics.NewMigration(o.registerer),
		lifecycleMetrics: metrics.NewLifecycle(o.registerer),
		colorDeps:        make(map[string]ColorDependent),
	}
	if err := c.build(); err != nil {
		return nil, err
	}
	return c, nil
}

// build creates a fresh bus, migrator, system instances and sequencer.
func (c *Coordinator) build() error {
	bus := event.NewBus(
		event.WithLogger(c.logger),
		event.WithMetrics(c.busMetrics),
	)
	deps := lifecycle.Deps{
		Bus:      bus,
		Logger:   c.logger,
		Services: c.registry,
		Now:      c.opts.now,
	}

	systems := make(map[string]lifecycle.System, len(c.descriptors))
	for _, d := range c.descriptors {
		v, err := d.Factory(deps)
		if err != nil {
			bus.Destroy()
			return &lifecycle.ConfigError{System: d.Name, Detail: "factory failed: " + err.Error()}
		}
		sys, err := lifecycle.Conform(v)
		if err != nil {
			bus.Destroy()
			return fmt.Errorf("system %s: %w", d.Name, err)
		}
		systems[d.Name] = sys
	}

	seqOpts := []lifecycle.SequencerOption{
		lifecycle.WithLogger(c.logger),
		lifecycle.WithMetrics(c.lifecycleMetrics),
		lifecycle.WithEmitter(&stateRelay{bus: bus, handler: c.opts.stateHandler, now: c.opts.now}),
		lifecycle.WithReadyHook(c.publishService),
		lifecycle.WithEnforceSequential(c.cfg.EnforceSequentialInitialization),
		lifecycle.WithSystemTimeout(c.cfg.SystemTimeout),
		lifecycle.WithClock(c.opts.now),
	}
	if c.opts.tracer != nil {
		seqOpts = append(seqOpts, lifecycle.WithTracer(c.opts.tracer))
	}
	seq, err := lifecycle.NewSequencer(c.graph, systems, seqOpts...)
	if err != nil {
		bus.Destroy()
		return err
	}

	c.bus = bus
	c.seq = seq
	c.migrator = migration.New(bus,
		migration.WithLogger(c.logger),
		migration.WithMetrics(c.migrationMetrics),
		migration.WithClock(c.opts.now),
	)
	return nil
}

// publishService registers a ready system under its service key.
func (c *Coordinator) publishService(d lifecycle.Descriptor, sys lifecycle.System) error {
	if d.Service == "" {
		return nil
	}
	return c.registry.Register(d.Service, sys)
}

// Initialize starts every managed system phase by phase. With
// EnforceSequentialInitialization any failure is returned as a
// *lifecycle.PhaseError; call Destroy before retrying.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case stateInitializing, stateReady:
		c.mu.Unlock()
		return ErrAlreadyInitialized
	case stateFailed:
		c.mu.Unlock()
		return ErrInitializationFailed
	case stateDestroyed:
		c.registry.Reset()
		if err := c.build(); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.state = stateInitializing
	bus, seq := c.bus, c.seq
	c.mu.Unlock()

	if _, err := event.Listen(bus, subscriberName, c.rememberHarmonized); err != nil {
		c.setState(stateFailed)
		return err
	}

	start := time.Now()
	if err := seq.Run(ctx); err != nil {
		c.setState(stateFailed)
		c.logger.Error("coordinator initialization failed", log.Err(err))
		return err
	}

	c.setState(stateReady)
	c.logger.Info("coordinator initialized",
		log.Int("systems", len(c.descriptors)),
		log.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (c *Coordinator) setState(s runState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) rememberHarmonized(e event.ColorsHarmonizedEvent) error {
	c.mu.Lock()
	c.lastHarmonized = &e
	c.mu.Unlock()
	return nil
}

// Destroy tears down every system in reverse initialization order,
// invalidates shared service handles and removes every subscription the
// coordinator created. Teardown errors are logged and joined; teardown
// always completes. Destroy is idempotent, and a destroyed coordinator may
// be initialized again.
func (c *Coordinator) Destroy(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state == stateDestroyed {
		c.mu.Unlock()
		return nil
	}
	bus, seq := c.bus, c.seq
	deps := make([]string, 0, len(c.colorDeps))
	for name := range c.colorDeps {
		deps = append(deps, name)
	}
	c.colorDeps = make(map[string]ColorDependent)
	c.lastHarmonized = nil
	c.mu.Unlock()

	if err := bus.Flush(ctx); err != nil {
		c.logger.Warn("deferred events not flushed before teardown", log.Err(err))
	}

	err := seq.Teardown(ctx)
	c.registry.Invalidate()

	bus.UnsubscribeAll(subscriberName)
	for _, name := range deps {
		bus.UnsubscribeAll(colorSubscriber(name))
	}
	for _, name := range c.graph.Order() {
		if n := bus.UnsubscribeAll(name); n > 0 {
			c.logger.Warn("system left subscriptions after destroy",
				log.String("system", name), log.Int("subscriptions", n))
		}
	}
	bus.Destroy()

	c.setState(stateDestroyed)
	if err != nil {
		c.logger.Error("coordinator teardown completed with errors", log.Err(err))
	} else {
		c.logger.Info("coordinator destroyed")
	}
	return err
}

// Bus returns the unified event bus. After Destroy it returns the destroyed
// bus until the coordinator is initialized again.
func (c *Coordinator) Bus() *event.Bus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bus
}

// Registry returns the shared service registry.
func (c *Coordinator) Registry() *registry.Registry { return c.registry }

// Graph returns the validated dependency graph.
func (c *Coordinator) Graph() *lifecycle.Graph { return c.graph }

// Status returns the lifecycle status of a managed system.
func (c *Coordinator) Status(name string) (lifecycle.Status, bool) {
	c.mu.RLock()
	seq := c.seq
	c.mu.RUnlock()
	return seq.Status(name)
}

// EmitLegacyEvent republishes a legacy event through the migration layer and
// returns the number of unified events emitted. Malformed input is logged
// and dropped.
func (c *Coordinator) EmitLegacyEvent(name string, payload any) int {
	c.mu.RLock()
	m := c.migrator
	c.mu.RUnlock()
	return m.EmitLegacyEvent(name, payload)
}

// MigrationStats returns per legacy name migration counters.
func (c *Coordinator) MigrationStats() map[string]migration.Stats {
	c.mu.RLock()
	m := c.migrator
	c.mu.RUnlock()
	return m.Stats()
}

// Tick forwards one animation frame to every ready system.
func (c *Coordinator) Tick(delta time.Duration) {
	c.mu.RLock()
	seq, st := c.seq, c.state
	c.mu.RUnlock()
	if st != stateReady {
		return
	}
	seq.Tick(delta)
}

// Run ticks systems every TickInterval and checks health every
// HealthInterval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.RLock()
	st := c.state
	c.mu.RUnlock()
	if st != stateReady {
		return ErrNotInitialized
	}

	var tickC, healthC <-chan time.Time
	if c.cfg.TickInterval > 0 {
		t := time.NewTicker(c.cfg.TickInterval)
		defer t.Stop()
		tickC = t.C
	}
	if c.cfg.HealthInterval > 0 {
		t := time.NewTicker(c.cfg.HealthInterval)
		defer t.Stop()
		healthC = t.C
	}

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tickC:
			c.Tick(now.Sub(last))
			last = now
		case <-healthC:
			report := c.HealthCheck(ctx)
			if !report.Healthy {
				c.logger.Warn("health check failed", log.Strings("issues", report.Issues))
			}
		}
	}
}

// ThemeVariables returns the theme variables currently published.
func (c *Coordinator) ThemeVariables() (map[string]string, error) {
	sys, err := c.readySystem(theme.SystemName)
	if err != nil {
		return nil, err
	}
	applier, ok := sys.(*theme.Applier)
	if !ok {
		return nil, fmt.Errorf("coordinator: %s has type %T", theme.SystemName, sys)
	}
	return applier.Variables(), nil
}

func (c *Coordinator) readySystem(name string) (lifecycle.System, error) {
	c.mu.RLock()
	seq, st := c.seq, c.state
	c.mu.RUnlock()
	if st != stateReady {
		return nil, ErrNotInitialized
	}
	status, ok := seq.Status(name)
	if !ok {
		return nil, fmt.Errorf("coordinator: unknown system %s", name)
	}
	if !status.State.Operational() {
		return nil, fmt.Errorf("coordinator: %s is %s", name, status.State)
	}
	sys, _ := seq.System(name)
	return sys, nil
}

// SharedSettingsStore returns the settings store singleton.
func (c *Coordinator) SharedSettingsStore() (*settings.Store, error) {
	return shared[*settings.Store](c, settings.ServiceKey, lifecycle.PhaseCoreServices)
}

// SharedPerformanceMonitor returns the performance monitor singleton.
func (c *Coordinator) SharedPerformanceMonitor() (*perfmon.Monitor, error) {
	return shared[*perfmon.Monitor](c, perfmon.ServiceKey, lifecycle.PhaseCoreServices)
}

// SharedMusicSyncService returns the music sync singleton.
func (c *Coordinator) SharedMusicSyncService() (*musicsync.Service, error) {
	return shared[*musicsync.Service](c, musicsync.ServiceKey, lifecycle.PhaseSharedServices)
}

// SharedColorHarmonyService returns the colour harmony singleton.
func (c *Coordinator) SharedColorHarmonyService() (*harmony.Service, error) {
	return shared[*harmony.Service](c, harmony.ServiceKey, lifecycle.PhaseSharedServices)
}

// shared returns a registry entry once its owning phase has completed.
func shared[T any](c *Coordinator, key string, phase lifecycle.PhaseID) (T, error) {
	var zero T
	c.mu.RLock()
	seq, st := c.seq, c.state
	c.mu.RUnlock()

	if st == stateDestroyed {
		return zero, registry.ErrInvalidated
	}
	if !seq.PhaseCompleted(phase) {
		return zero, fmt.Errorf("%w: %s is published after phase %d completes", ErrServiceNotReady, key, phase)
	}
	return registry.Lookup[T](c.registry, key)
}

// stateRelay republishes lifecycle transitions as system:state-changed
// events.
type stateRelay struct {
	bus     *event.Bus
	handler StateHandler
	now     func() time.Time
}

func (r *stateRelay) OnStateChange(system string, previous, current lifecycle.State, reason string) {
	e := event.SystemStateChangedEvent{
		System:    system,
		Previous:  previous.String(),
		Current:   current.String(),
		Reason:    reason,
		Timestamp: r.now(),
	}
	r.bus.EmitSync(e)
	if r.handler != nil {
		r.handler(e)
	}
}
