// Package musicsync implements the shared music synchronisation service.
//
// It consumes music:beat and music:track-changed, smooths the tempo, derives
// an energy estimate from beat intensity and publishes it as music:energy.
package musicsync

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/log"
	"github.com/bft-labs/chromasync/pkg/services/settings"
)

const (
	// SystemName is the lifecycle name of the service.
	SystemName = "music-sync"
	// ServiceKey is the registry key the service is published under.
	ServiceKey = "music-sync"
)

const (
	bpmSmoothing    = 0.2
	energySmoothing = 0.3
	defaultValence  = 0.5

	// DefaultStaleAfter is how long a playing track may go without a beat
	// before the service reports itself unhealthy.
	DefaultStaleAfter = 5 * time.Second

	// energy halves every energyHalfLife once beats stop arriving.
	energyHalfLife = 2 * time.Second
	decayAfter     = time.Second
)

// SettingsReader is the part of the settings store the service reads.
type SettingsReader interface {
	Bool(key string, def bool) bool
}

// State is a snapshot of the service.
type State struct {
	Enabled  bool
	Playing  bool
	TrackURI string
	BPM      float64
	Energy   float64
	Valence  float64
	Beats    uint64
	LastBeat time.Time
}

// Service is the music-sync system and shared service.
type Service struct {
	bus        *event.Bus
	services   lifecycle.Resolver
	logger     log.Logger
	now        func() time.Time
	staleAfter time.Duration

	mu sync.RWMutex
	st State
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l log.Logger) Option {
	return func(s *Service) { s.logger = log.OrNoop(l) }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// New creates the service. services is used during Initialize to find the
// settings store; it may be nil, in which case sync stays enabled.
func New(bus *event.Bus, services lifecycle.Resolver, opts ...Option) *Service {
	s := &Service{
		bus:        bus,
		services:   services,
		logger:     log.NoopLogger{},
		now:        time.Now,
		staleAfter: DefaultStaleAfter,
		st:         State{Enabled: true, Valence: defaultValence, TrackURI: event.UnknownTrack},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize reads the enable flag and subscribes to music events.
func (s *Service) Initialize(ctx context.Context) error {
	enabled := true
	if s.services != nil {
		v, err := s.services.Get(settings.ServiceKey)
		if err != nil {
			return fmt.Errorf("resolve settings: %w", err)
		}
		if r, ok := v.(SettingsReader); ok {
			enabled = r.Bool(settings.KeyMusicSyncEnabled, true)
		}
	}

	s.mu.Lock()
	s.st = State{Enabled: enabled, Valence: defaultValence, TrackURI: event.UnknownTrack}
	s.mu.Unlock()

	if _, err := event.Listen(s.bus, SystemName, s.onBeat); err != nil {
		return err
	}
	if _, err := event.Listen(s.bus, SystemName, s.onTrackChanged); err != nil {
		return err
	}
	if _, err := event.Listen(s.bus, SystemName, s.onSettingsChanged); err != nil {
		return err
	}
	return nil
}

func (s *Service) onBeat(e event.MusicBeatEvent) error {
	s.mu.Lock()
	if !s.st.Enabled {
		s.mu.Unlock()
		return nil
	}
	if e.BPM > 0 {
		if s.st.BPM == 0 {
			s.st.BPM = e.BPM
		} else {
			s.st.BPM += bpmSmoothing * (e.BPM - s.st.BPM)
		}
	}
	s.st.Energy += energySmoothing * (e.Intensity - s.st.Energy)
	s.st.Beats++
	s.st.Playing = true
	s.st.LastBeat = e.Timestamp
	if s.st.LastBeat.IsZero() {
		s.st.LastBeat = s.now()
	}
	out := event.MusicEnergyEvent{
		Energy:    s.st.Energy,
		Valence:   s.st.Valence,
		Tempo:     s.st.BPM,
		TrackURI:  s.st.TrackURI,
		Timestamp: s.st.LastBeat,
	}
	s.mu.Unlock()

	s.bus.EmitSync(out)
	return nil
}

func (s *Service) onTrackChanged(e event.TrackChangedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.TrackURI = e.TrackURI
	s.st.BPM = 0
	s.st.Energy = 0
	s.st.Beats = 0
	s.st.Playing = true
	// The new track gets a full stale window before its first beat.
	s.st.LastBeat = s.now()
	s.logger.Debug("track changed", log.String("track", e.TrackURI))
	return nil
}

func (s *Service) onSettingsChanged(e event.SettingsChangedEvent) error {
	if e.Key != settings.KeyMusicSyncEnabled {
		return nil
	}
	enabled, err := strconv.ParseBool(e.Value)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", e.Key, e.Value, err)
	}
	s.mu.Lock()
	s.st.Enabled = enabled
	s.mu.Unlock()
	s.logger.Info("music sync toggled", log.Bool("enabled", enabled))
	return nil
}

// UpdateAnimation decays the energy estimate once beats stop arriving.
func (s *Service) UpdateAnimation(delta time.Duration) {
	if delta <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Energy == 0 || s.now().Sub(s.st.LastBeat) < decayAfter {
		return
	}
	s.st.Energy *= math.Pow(0.5, float64(delta)/float64(energyHalfLife))
	if s.st.Energy < 1e-4 {
		s.st.Energy = 0
	}
}

// State returns a snapshot of the service.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// HealthCheck fails when a playing track produced no beat within the stale
// window.
func (s *Service) HealthCheck(context.Context) lifecycle.HealthResult {
	st := s.State()
	details := map[string]string{
		"bpm":    strconv.FormatFloat(st.BPM, 'f', 1, 64),
		"energy": strconv.FormatFloat(st.Energy, 'f', 2, 64),
		"beats":  strconv.FormatUint(st.Beats, 10),
	}
	if st.Enabled && st.Playing {
		if since := s.now().Sub(st.LastBeat); since > s.staleAfter {
			res := lifecycle.Unhealthy(fmt.Sprintf("no beat for %s", since.Round(time.Millisecond)))
			res.Details = details
			return res
		}
	}
	res := lifecycle.Healthy()
	res.Details = details
	return res
}

// OnDegraded logs the transition; energy emission continues from the last
// value.
func (s *Service) OnDegraded(reason string) {
	s.logger.Warn("music sync degraded", log.String("reason", reason))
}

// OnRecovered logs the recovery.
func (s *Service) OnRecovered() {
	s.logger.Info("music sync recovered")
}

// Destroy removes the service's subscriptions.
func (s *Service) Destroy(context.Context) error {
	s.bus.UnsubscribeAll(SystemName)
	return nil
}
