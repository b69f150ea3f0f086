// Package pipeline verifies the colour pipeline end to end.
//
// Every colors:extracted dispatch must have produced a colors:applied before
// it returns, because each stage is emitted synchronously from the previous
// stage's handler. The pipeline also replays the last extraction when a
// harmony preference changes so the theme follows the new setting.
package pipeline

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/log"
	"github.com/bft-labs/chromasync/pkg/services/settings"
)

// SystemName is the lifecycle name of the pipeline.
const SystemName = "color-pipeline"

// Stats counts observed cycles.
type Stats struct {
	Cycles     uint64
	Complete   uint64
	Incomplete uint64
	Replays    uint64
}

// Pipeline is the color-pipeline system.
type Pipeline struct {
	bus    *event.Bus
	logger log.Logger

	mu            sync.Mutex
	stats         Stats
	applied       uint64
	checked       uint64
	lastComplete  bool
	lastExtracted *event.ColorsExtractedEvent
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l log.Logger) Option {
	return func(p *Pipeline) { p.logger = log.OrNoop(l) }
}

// New creates a pipeline.
func New(bus *event.Bus, opts ...Option) *Pipeline {
	p := &Pipeline{
		bus:          bus,
		logger:       log.NoopLogger{},
		lastComplete: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize subscribes. The pipeline initializes after the harmony and
// theme systems, so its extraction handler runs after theirs.
func (p *Pipeline) Initialize(ctx context.Context) error {
	if _, err := event.Listen(p.bus, SystemName, p.onApplied); err != nil {
		return err
	}
	if _, err := event.Listen(p.bus, SystemName, p.onExtracted); err != nil {
		return err
	}
	if _, err := event.Listen(p.bus, SystemName, p.onSettingsChanged); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) onApplied(event.ColorsAppliedEvent) error {
	p.mu.Lock()
	p.applied++
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) onExtracted(e event.ColorsExtractedEvent) error {
	p.mu.Lock()
	p.stats.Cycles++
	complete := p.applied > p.checked
	p.checked = p.applied
	p.lastComplete = complete
	if complete {
		p.stats.Complete++
	} else {
		p.stats.Incomplete++
	}
	last := e
	last.RawColors = maps.Clone(e.RawColors)
	p.lastExtracted = &last
	p.mu.Unlock()

	if !complete {
		return fmt.Errorf("colour cycle for %s finished without colors:applied", e.TrackURI)
	}
	return nil
}

func (p *Pipeline) onSettingsChanged(e event.SettingsChangedEvent) error {
	if e.Key != settings.KeyHarmonyMode && e.Key != settings.KeyAccentFallback {
		return nil
	}
	if p.Replay() {
		p.logger.Debug("replayed last extraction after settings change", log.String("key", e.Key))
	}
	return nil
}

// Replay re-emits the last extraction, if any. It reports whether anything
// was replayed.
func (p *Pipeline) Replay() bool {
	p.mu.Lock()
	if p.lastExtracted == nil {
		p.mu.Unlock()
		return false
	}
	ev := *p.lastExtracted
	ev.RawColors = maps.Clone(ev.RawColors)
	p.stats.Replays++
	p.mu.Unlock()

	p.bus.EmitSync(ev)
	return true
}

// Stats returns the cycle counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// UpdateAnimation is a no-op.
func (p *Pipeline) UpdateAnimation(time.Duration) {}

// HealthCheck fails while the most recent cycle was incomplete.
func (p *Pipeline) HealthCheck(context.Context) lifecycle.HealthResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	details := map[string]string{
		"cycles":     fmt.Sprint(p.stats.Cycles),
		"incomplete": fmt.Sprint(p.stats.Incomplete),
	}
	if !p.lastComplete {
		res := lifecycle.Unhealthy("last colour cycle did not reach colors:applied")
		res.Details = details
		return res
	}
	res := lifecycle.Healthy()
	res.Details = details
	return res
}

// Destroy removes the pipeline's subscriptions.
func (p *Pipeline) Destroy(context.Context) error {
	p.bus.UnsubscribeAll(SystemName)
	return nil
}
