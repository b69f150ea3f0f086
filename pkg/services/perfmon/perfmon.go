// Package perfmon implements the shared performance monitor.
//
// Load is the share of all CPUs the process consumed between two samples,
// read from /proc on Linux. Frame times come from animation ticks.
package perfmon

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/log"
)

const (
	// SystemName is the lifecycle name of the monitor.
	SystemName = "performance-monitor"
	// ServiceKey is the registry key the monitor is published under.
	ServiceKey = "performance-monitor"
)

// minSampleWindow is the shortest interval a load sample is computed over.
// /proc accounts CPU time in clock ticks, so shorter windows are noise.
const minSampleWindow = time.Second

// Config holds monitor thresholds.
type Config struct {
	// LoadThreshold is the process CPU load (0.0-1.0) above which the
	// monitor reports itself unhealthy. Default: 0.85
	LoadThreshold float64

	// FrameBudget is the target frame time. Default: 1/60 s.
	FrameBudget time.Duration

	// Window is the number of recent frames kept. Default: 120
	Window int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LoadThreshold: 0.85,
		FrameBudget:   time.Second / 60,
		Window:        120,
	}
}

// Snapshot is a point-in-time performance view.
type Snapshot struct {
	Goroutines  int
	CPUs        int
	CPULoad     float64
	Frames      int
	AvgFrame    time.Duration
	P95Frame    time.Duration
	MaxFrame    time.Duration
	OverBudget  int
	Bus         event.Metrics
	CollectedAt time.Time
}

// Monitor is the performance-monitor system and shared service.
type Monitor struct {
	bus    *event.Bus
	logger log.Logger
	cfg    Config
	load   func() (goroutines, cpus int, load float64)
	now    func() time.Time

	mu     sync.Mutex
	frames []time.Duration
	next   int
	filled bool
	over   int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(l log.Logger) Option {
	return func(m *Monitor) { m.logger = log.OrNoop(l) }
}

// WithLoadFunc replaces the process CPU sampler.
func WithLoadFunc(fn func() (goroutines, cpus int, load float64)) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.load = fn
		}
	}
}

// New creates a monitor. Zero config values take their defaults.
func New(bus *event.Bus, cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.LoadThreshold <= 0 {
		cfg.LoadThreshold = def.LoadThreshold
	}
	if cfg.FrameBudget <= 0 {
		cfg.FrameBudget = def.FrameBudget
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	m := &Monitor{
		bus:    bus,
		logger: log.NoopLogger{},
		cfg:    cfg,
		now:    time.Now,
		frames: make([]time.Duration, cfg.Window),
	}
	m.load = NewProcessLoad().Sample
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProcessLoad measures the share of all CPUs this process used since the
// previous sample. Samples closer together than minSampleWindow repeat the
// last value. Hosts without process CPU accounting report zero load.
type ProcessLoad struct {
	cpuSeconds func() (float64, error)
	now        func() time.Time

	mu      sync.Mutex
	lastCPU float64
	lastAt  time.Time
	load    float64
}

// NewProcessLoad creates a sampler for the current process.
func NewProcessLoad() *ProcessLoad {
	return &ProcessLoad{cpuSeconds: processCPUSeconds, now: time.Now}
}

// Sample returns the goroutine and CPU counts and the process load.
func (p *ProcessLoad) Sample() (goroutines, cpus int, load float64) {
	goroutines = runtime.NumGoroutine()
	cpus = runtime.NumCPU()
	// Guard against division by zero (can happen in restricted containers)
	if cpus <= 0 {
		cpus = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.lastAt.IsZero() && now.Sub(p.lastAt) < minSampleWindow {
		return goroutines, cpus, p.load
	}
	cpu, err := p.cpuSeconds()
	if err != nil {
		p.load = 0
		return goroutines, cpus, 0
	}
	if !p.lastAt.IsZero() {
		l := (cpu - p.lastCPU) / now.Sub(p.lastAt).Seconds() / float64(cpus)
		p.load = math.Min(math.Max(l, 0), 1)
	}
	p.lastCPU, p.lastAt = cpu, now
	return goroutines, cpus, p.load
}

// Initialize resets frame statistics and takes the first load sample.
func (m *Monitor) Initialize(context.Context) error {
	m.load()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = make([]time.Duration, m.cfg.Window)
	m.next, m.filled, m.over = 0, false, 0
	return nil
}

// UpdateAnimation records one frame.
func (m *Monitor) UpdateAnimation(delta time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames[m.next] = delta
	m.next = (m.next + 1) % len(m.frames)
	if m.next == 0 {
		m.filled = true
	}
	if delta > m.cfg.FrameBudget {
		m.over++
	}
}

// Snapshot collects the current view.
func (m *Monitor) Snapshot() Snapshot {
	goroutines, cpus, load := m.load()

	m.mu.Lock()
	n := m.next
	if m.filled {
		n = len(m.frames)
	}
	frames := append([]time.Duration(nil), m.frames[:n]...)
	over := m.over
	m.mu.Unlock()

	s := Snapshot{
		Goroutines:  goroutines,
		CPUs:        cpus,
		CPULoad:     load,
		Frames:      len(frames),
		OverBudget:  over,
		Bus:         m.bus.Metrics(),
		CollectedAt: m.now(),
	}
	if len(frames) == 0 {
		return s
	}

	var total time.Duration
	for _, f := range frames {
		total += f
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	s.AvgFrame = total / time.Duration(len(frames))
	// nearest-rank percentile
	s.P95Frame = frames[(len(frames)*95+99)/100-1]
	s.MaxFrame = frames[len(frames)-1]
	return s
}

// HealthCheck fails while the process CPU load is above the threshold.
func (m *Monitor) HealthCheck(context.Context) lifecycle.HealthResult {
	s := m.Snapshot()
	details := map[string]string{
		"goroutines": fmt.Sprint(s.Goroutines),
		"cpu_load":   fmt.Sprintf("%.2f", s.CPULoad),
		"avg_frame":  s.AvgFrame.String(),
	}
	if s.CPULoad > m.cfg.LoadThreshold {
		m.logger.Debug("high system load",
			log.Int("goroutines", s.Goroutines),
			log.Int("cpus", s.CPUs),
			log.Float64("cpu_load", s.CPULoad),
			log.Float64("threshold", m.cfg.LoadThreshold),
		)
		res := lifecycle.Unhealthy(fmt.Sprintf("cpu load %.2f above threshold %.2f", s.CPULoad, m.cfg.LoadThreshold))
		res.Details = details
		return res
	}
	res := lifecycle.Healthy()
	res.Details = details
	return res
}

// Destroy is a no-op; the monitor holds no subscriptions.
func (m *Monitor) Destroy(context.Context) error { return nil }
