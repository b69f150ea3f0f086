package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/chromasync/internal/metrics"
	"github.com/bft-labs/chromasync/pkg/log"
)

const tracerName = "github.com/bft-labs/chromasync/pkg/lifecycle"

// ReadyHook runs after a system initialized and before it is marked ready.
// An error fails the system.
type ReadyHook func(d Descriptor, sys System) error

// Sequencer initializes systems phase by phase, tracks their state and tears
// them down in reverse order.
type Sequencer struct {
	graph    *Graph
	systems  map[string]System
	trackers map[string]*Tracker

	logger        log.Logger
	tracer        trace.Tracer
	metrics       *metrics.Lifecycle
	emitter       EventEmitter
	onReady       ReadyHook
	enforce       bool
	systemTimeout time.Duration
	now           func() time.Time

	mu        sync.Mutex
	completed map[PhaseID]bool

	late sync.WaitGroup
}

// SequencerOption configures a Sequencer.
type SequencerOption func(*Sequencer)

// WithLogger sets the sequencer logger.
func WithLogger(l log.Logger) SequencerOption {
	return func(s *Sequencer) { s.logger = log.OrNoop(l) }
}

// WithTracer sets the tracer used for phase and system spans. The global
// OpenTelemetry tracer is used by default.
func WithTracer(t trace.Tracer) SequencerOption {
	return func(s *Sequencer) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMetrics attaches lifecycle collectors.
func WithMetrics(m *metrics.Lifecycle) SequencerOption {
	return func(s *Sequencer) { s.metrics = m }
}

// WithEmitter receives every state transition.
func WithEmitter(e EventEmitter) SequencerOption {
	return func(s *Sequencer) { s.emitter = e }
}

// WithReadyHook sets the hook run before a system is marked ready.
func WithReadyHook(h ReadyHook) SequencerOption {
	return func(s *Sequencer) { s.onReady = h }
}

// WithEnforceSequential makes any initialization failure fatal.
func WithEnforceSequential(enforce bool) SequencerOption {
	return func(s *Sequencer) { s.enforce = enforce }
}

// WithSystemTimeout bounds each Initialize call. Zero disables it.
func WithSystemTimeout(d time.Duration) SequencerOption {
	return func(s *Sequencer) { s.systemTimeout = d }
}

// WithClock overrides the clock used for durations and health timestamps.
func WithClock(now func() time.Time) SequencerOption {
	return func(s *Sequencer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSequencer pairs every graph node with its system instance.
func NewSequencer(g *Graph, systems map[string]System, opts ...SequencerOption) (*Sequencer, error) {
	s := &Sequencer{
		graph:     g,
		systems:   make(map[string]System, len(systems)),
		trackers:  make(map[string]*Tracker, len(systems)),
		logger:    log.NoopLogger{},
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		completed: make(map[PhaseID]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, name := range g.Order() {
		sys, ok := systems[name]
		if !ok || sys == nil {
			return nil, &ConfigError{System: name, Detail: "no system instance"}
		}
		s.systems[name] = sys
		s.trackers[name] = NewTracker(name, s.logger, s)
	}
	for name := range systems {
		if _, ok := g.byName[name]; !ok {
			return nil, &ConfigError{System: name, Detail: "system has no descriptor"}
		}
	}
	return s, nil
}

// OnStateChange mirrors transitions to metrics and forwards them to the
// configured emitter.
func (s *Sequencer) OnStateChange(system string, previous, current State, reason string) {
	if s.metrics != nil {
		s.metrics.SystemState.WithLabelValues(system).Set(float64(current))
	}
	if s.emitter != nil {
		s.emitter.OnStateChange(system, previous, current, reason)
	}
}

// Run initializes every phase in order. Members of a phase initialize
// concurrently and all reach a terminal state before the next phase starts.
//
// With sequential enforcement any failure stops startup with a *PhaseError.
// Otherwise only failures of Critical systems do, and the remaining systems
// start best effort: dependents of failed systems fail with
// ErrDependencyFailed.
func (s *Sequencer) Run(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.initialize")
	defer span.End()

	for _, phase := range s.graph.phases {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		failures := s.runPhase(ctx, phase)
		s.mu.Lock()
		s.completed[phase.ID] = true
		s.mu.Unlock()

		if len(failures) == 0 {
			continue
		}

		fatal := s.enforce
		failed := make([]string, 0, len(failures))
		for name := range failures {
			failed = append(failed, name)
			if s.graph.byName[name].Critical {
				fatal = true
			}
		}
		sort.Strings(failed)

		if fatal {
			err := &PhaseError{Phase: phase.Name, Failures: failures}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		s.logger.Warn("phase completed with failures, continuing degraded",
			log.String("phase", phase.Name),
			log.Strings("failed", failed),
		)
	}
	return nil
}

func (s *Sequencer) runPhase(ctx context.Context, phase Phase) map[string]error {
	ctx, span := s.tracer.Start(ctx, "phase "+phase.Name,
		trace.WithAttributes(attribute.String("phase", phase.Name)))
	defer span.End()

	if phase.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, phase.Timeout)
		defer cancel()
	}

	start := s.now()
	members := s.graph.members[phase.ID]

	var (
		mu       sync.Mutex
		failures = make(map[string]error)
		g        errgroup.Group
	)
	for _, name := range members {
		name := name
		g.Go(func() error {
			if err := s.initSystem(ctx, phase, name); err != nil {
				mu.Lock()
				failures[name] = err
				mu.Unlock()
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("systems", len(members)),
		attribute.Int("failed", len(failures)),
	)
	if len(failures) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d systems failed", len(failures)))
	}
	s.logger.Info("phase complete",
		log.String("phase", phase.Name),
		log.Int("systems", len(members)),
		log.Int("failed", len(failures)),
		log.Duration("elapsed", s.now().Sub(start)),
	)
	return failures
}

func (s *Sequencer) initSystem(ctx context.Context, phase Phase, name string) error {
	desc := s.graph.byName[name]
	tr := s.trackers[name]
	sys := s.systems[name]

	for _, dep := range desc.DependsOn {
		if st := s.trackers[dep].State(); !st.Operational() {
			err := fmt.Errorf("%w: %s is %s", ErrDependencyFailed, dep, st)
			_ = tr.Fail(err)
			s.observe(name, "skipped", 0)
			return err
		}
	}
	if err := tr.TransitionTo(StateInitializing, "initializing"); err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "initialize "+name, trace.WithAttributes(
		attribute.String("system", name),
		attribute.String("phase", phase.Name),
	))
	defer span.End()

	timeout := desc.Timeout
	if timeout == 0 {
		timeout = s.systemTimeout
	}
	sysCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sysCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := s.now()
	done := make(chan error, 1)
	go func() { done <- callInitialize(sysCtx, sys) }()

	var err error
	select {
	case err = <-done:
		if err != nil && errors.Is(sysCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s: %v", ErrInitTimeout, name, err)
		}
	case <-sysCtx.Done():
		err = fmt.Errorf("%w: %s after %s: %v", ErrInitTimeout, name, s.now().Sub(start).Round(time.Millisecond), sysCtx.Err())
		s.reapLate(name, sys, done)
	}
	if err == nil && s.onReady != nil {
		err = s.onReady(desc, sys)
	}

	elapsed := s.now().Sub(start)
	if err != nil {
		_ = tr.Fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.observe(name, "failed", elapsed)
		s.logger.Error("system initialization failed",
			log.String("system", name),
			log.String("phase", phase.Name),
			log.Err(err),
		)
		return err
	}

	tr.setReadyIn(elapsed)
	if err := tr.TransitionTo(StateReady, "initialized"); err != nil {
		return err
	}
	s.observe(name, "ready", elapsed)
	return nil
}

// reapLate waits for an Initialize that outlived its deadline and destroys
// the system if it eventually succeeded.
func (s *Sequencer) reapLate(name string, sys System, done <-chan error) {
	s.late.Add(1)
	go func() {
		defer s.late.Done()
		if err := <-done; err == nil {
			s.logger.Warn("system finished initializing after timeout, destroying",
				log.String("system", name))
			if derr := callDestroy(context.Background(), sys); derr != nil {
				s.logger.Error("destroy after late initialization failed",
					log.String("system", name), log.Err(derr))
			}
		}
	}()
}

func (s *Sequencer) observe(name, result string, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.InitDuration.WithLabelValues(name, result).Observe(d.Seconds())
}

// Teardown destroys every system that was initialized, in reverse
// initialization order. Failures are logged and joined; teardown always
// visits every system.
func (s *Sequencer) Teardown(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.teardown")
	defer span.End()

	var errs []error
	order := s.graph.order
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		tr := s.trackers[name]
		st := tr.State()
		if st == StateDestroyed {
			continue
		}
		if st != StateUninitialized {
			if err := callDestroy(ctx, s.systems[name]); err != nil {
				errs = append(errs, fmt.Errorf("destroy %s: %w", name, err))
				s.logger.Error("system teardown failed", log.String("system", name), log.Err(err))
			}
		}
		_ = tr.TransitionTo(StateDestroyed, "teardown")
	}

	s.waitLate(ctx)

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "teardown errors")
	}
	return err
}

func (s *Sequencer) waitLate(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.late.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("teardown stopped waiting for late initializers", log.Err(ctx.Err()))
	}
}

// Tick forwards an animation frame to every ready system. Degraded systems
// are skipped. A panicking system is degraded.
func (s *Sequencer) Tick(delta time.Duration) {
	for _, name := range s.graph.order {
		if s.trackers[name].State() != StateReady {
			continue
		}
		if err := callUpdate(s.systems[name], delta); err != nil {
			s.logger.Error("animation update failed", log.String("system", name), log.Err(err))
			s.degrade(name, err.Error())
		}
	}
}

// CheckHealth runs HealthCheck on every operational system concurrently,
// each bounded by timeout. Unhealthy ready systems become degraded and
// healthy degraded systems recover. Systems that are not operational get a
// synthesized failing result.
func (s *Sequencer) CheckHealth(ctx context.Context, timeout time.Duration) map[string]HealthResult {
	var (
		mu      sync.Mutex
		results = make(map[string]HealthResult, len(s.graph.order))
		g       errgroup.Group
	)
	for _, name := range s.graph.order {
		name := name
		st := s.trackers[name].Status()
		if !st.State.Operational() {
			res := Unhealthy(fmt.Sprintf("state is %s", st.State))
			if st.LastError != nil {
				res.Issues = append(res.Issues, st.LastError.Error())
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			res := s.checkOne(ctx, name, timeout)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Sequencer) checkOne(ctx context.Context, name string, timeout time.Duration) HealthResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch := make(chan HealthResult, 1)
	go func() { ch <- callHealth(ctx, s.systems[name]) }()

	var res HealthResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = Unhealthy("health check timed out")
	}

	tr := s.trackers[name]
	tr.RecordHealth(res, s.now())
	switch st := tr.State(); {
	case !res.Healthy && st == StateReady:
		s.degrade(name, strings.Join(res.Issues, "; "))
	case res.Healthy && st == StateDegraded:
		s.restore(name)
	}
	return res
}

func (s *Sequencer) degrade(name, reason string) {
	if reason == "" {
		reason = "unhealthy"
	}
	if err := s.trackers[name].TransitionTo(StateDegraded, reason); err != nil {
		return
	}
	if d, ok := s.systems[name].(Degradable); ok {
		d.OnDegraded(reason)
	}
}

func (s *Sequencer) restore(name string) {
	if err := s.trackers[name].TransitionTo(StateReady, "recovered"); err != nil {
		return
	}
	if d, ok := s.systems[name].(Degradable); ok {
		d.OnRecovered()
	}
}

// Graph returns the validated graph.
func (s *Sequencer) Graph() *Graph { return s.graph }

// System returns the instance registered under name.
func (s *Sequencer) System(name string) (System, bool) {
	sys, ok := s.systems[name]
	return sys, ok
}

// Status returns the lifecycle status of name.
func (s *Sequencer) Status(name string) (Status, bool) {
	tr, ok := s.trackers[name]
	if !ok {
		return Status{}, false
	}
	return tr.Status(), true
}

// Statuses returns every system status in initialization order.
func (s *Sequencer) Statuses() []Status {
	out := make([]Status, 0, len(s.graph.order))
	for _, name := range s.graph.order {
		out = append(out, s.trackers[name].Status())
	}
	return out
}

// PhaseCompleted reports whether every member of the phase reached a
// terminal state.
func (s *Sequencer) PhaseCompleted(id PhaseID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed[id]
}

func callInitialize(ctx context.Context, sys System) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w in Initialize: %v", ErrPanic, r)
		}
	}()
	return sys.Initialize(ctx)
}

func callDestroy(ctx context.Context, sys System) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w in Destroy: %v", ErrPanic, r)
		}
	}()
	return sys.Destroy(ctx)
}

func callUpdate(sys System, delta time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w in UpdateAnimation: %v", ErrPanic, r)
		}
	}()
	sys.UpdateAnimation(delta)
	return nil
}

func callHealth(ctx context.Context, sys System) (res HealthResult) {
	defer func() {
		if r := recover(); r != nil {
			res = Unhealthy(fmt.Sprintf("health check panicked: %v", r))
		}
	}()
	return sys.HealthCheck(ctx)
}
