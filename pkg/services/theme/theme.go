// Package theme publishes theme variables for the presentation layer.
//
// The applier turns colors:harmonized and music:energy into CSS custom
// property values, hands the full set to a ports.ThemeSink and announces each
// applied palette with colors:applied.
package theme

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/chromasync/internal/ports"
	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/log"
)

// SystemName is the lifecycle name of the applier.
const SystemName = "theme-applier"

// Theme variable names.
const (
	VarAccent      = "--cs-accent"
	VarAccentRGB   = "--cs-accent-rgb"
	VarEnergy      = "--cs-energy"
	VarBPM         = "--cs-bpm"
	colorVarPrefix = "--cs-color-"
)

// Sink receives theme variables.
type Sink = ports.ThemeSink

const sinkTimeout = 2 * time.Second

// Applier is the theme-applier system.
type Applier struct {
	bus    *event.Bus
	sink   Sink
	logger log.Logger
	now    func() time.Time

	mu      sync.RWMutex
	vars    map[string]string
	sinkErr error
	applied uint64
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the applier logger.
func WithLogger(l log.Logger) Option {
	return func(a *Applier) { a.logger = log.OrNoop(l) }
}

// WithClock overrides the clock used for colors:applied timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Applier) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an applier. A nil sink keeps variables in memory only.
func New(bus *event.Bus, sink Sink, opts ...Option) *Applier {
	a := &Applier{
		bus:    bus,
		sink:   sink,
		logger: log.NoopLogger{},
		now:    time.Now,
		vars:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ColorVar returns the variable name for a palette key, e.g. "DARK_VIBRANT"
// becomes "--cs-color-dark-vibrant".
func ColorVar(key string) string {
	return colorVarPrefix + strings.ReplaceAll(strings.ToLower(key), "_", "-")
}

// Initialize subscribes to harmonized palettes and energy updates.
func (a *Applier) Initialize(ctx context.Context) error {
	if _, err := event.Listen(a.bus, SystemName, a.onHarmonized); err != nil {
		return err
	}
	if _, err := event.Listen(a.bus, SystemName, a.onEnergy); err != nil {
		return err
	}
	return nil
}

func (a *Applier) onHarmonized(e event.ColorsHarmonizedEvent) error {
	a.mu.Lock()
	for k := range a.vars {
		if strings.HasPrefix(k, colorVarPrefix) {
			delete(a.vars, k)
		}
	}
	for k, v := range e.ProcessedColors {
		a.vars[ColorVar(k)] = v
	}
	a.vars[VarAccent] = e.AccentHex
	a.vars[VarAccentRGB] = e.AccentRGB
	a.applied++
	snapshot := maps.Clone(a.vars)
	a.mu.Unlock()

	a.publish(snapshot)

	a.bus.EmitSync(event.ColorsAppliedEvent{
		Variables: snapshot,
		AccentHex: e.AccentHex,
		TrackURI:  e.TrackURI,
		Timestamp: a.now(),
	})
	return nil
}

func (a *Applier) onEnergy(e event.MusicEnergyEvent) error {
	a.mu.Lock()
	a.vars[VarEnergy] = strconv.FormatFloat(e.Energy, 'f', 2, 64)
	if e.Tempo > 0 {
		a.vars[VarBPM] = strconv.FormatFloat(e.Tempo, 'f', 0, 64)
	}
	snapshot := maps.Clone(a.vars)
	a.mu.Unlock()

	a.publish(snapshot)
	return nil
}

// publish writes to the sink. A failure is recorded and logged; the
// variables stay available through Variables.
func (a *Applier) publish(vars map[string]string) {
	if a.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	err := a.sink.Publish(ctx, vars)

	a.mu.Lock()
	a.sinkErr = err
	a.mu.Unlock()

	if err != nil {
		a.logger.Error("failed to publish theme variables", log.Err(err))
	}
}

// Variables returns a copy of the current theme variables.
func (a *Applier) Variables() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.vars)
}

// Names returns the current variable names in lexical order.
func (a *Applier) Names() []string {
	vars := a.Variables()
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// UpdateAnimation is a no-op; animation timing belongs to the presentation
// layer.
func (a *Applier) UpdateAnimation(time.Duration) {}

// HealthCheck fails while the last sink write failed.
func (a *Applier) HealthCheck(context.Context) lifecycle.HealthResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	details := map[string]string{
		"variables": strconv.Itoa(len(a.vars)),
		"applied":   strconv.FormatUint(a.applied, 10),
	}
	if a.sinkErr != nil {
		res := lifecycle.Unhealthy(fmt.Sprintf("theme sink write failed: %v", a.sinkErr))
		res.Details = details
		return res
	}
	res := lifecycle.Healthy()
	res.Details = details
	return res
}

// Destroy removes the applier's subscriptions.
func (a *Applier) Destroy(context.Context) error {
	a.bus.UnsubscribeAll(SystemName)
	return nil
}
