// Package harmony implements the shared colour harmony service.
//
// Each colors:extracted event is turned into exactly one colors:harmonized
// event, emitted synchronously from the extraction handler.
package harmony

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/log"
	"github.com/bft-labs/chromasync/pkg/services/settings"
)

const (
	// SystemName is the lifecycle name of the service.
	SystemName = "color-harmony"
	// ServiceKey is the registry key the service is published under.
	ServiceKey = "color-harmony"
)

// SettingsReader is the part of the settings store the service reads.
type SettingsReader interface {
	Value(key string) string
}

// Service is the color-harmony system and shared service.
type Service struct {
	bus      *event.Bus
	services lifecycle.Resolver
	logger   log.Logger
	now      func() time.Time

	mu          sync.RWMutex
	mode        Mode
	fallback    colorful.Color
	last        *event.ColorsHarmonizedEvent
	processed   uint64
	usedDefault bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l log.Logger) Option {
	return func(s *Service) { s.logger = log.OrNoop(l) }
}

// WithClock overrides the clock used to measure processing time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates the service. services is used during Initialize to find the
// settings store; it may be nil, in which case defaults apply.
func New(bus *event.Bus, services lifecycle.Resolver, opts ...Option) *Service {
	fallback, _ := ParseHex(settings.Defaults()[settings.KeyAccentFallback])
	s := &Service{
		bus:      bus,
		services: services,
		logger:   log.NoopLogger{},
		now:      time.Now,
		mode:     DefaultMode,
		fallback: fallback,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize reads the harmony settings and subscribes to extractions.
func (s *Service) Initialize(ctx context.Context) error {
	if s.services != nil {
		v, err := s.services.Get(settings.ServiceKey)
		if err != nil {
			return fmt.Errorf("resolve settings: %w", err)
		}
		if r, ok := v.(SettingsReader); ok {
			s.applySetting(settings.KeyHarmonyMode, r.Value(settings.KeyHarmonyMode))
			s.applySetting(settings.KeyAccentFallback, r.Value(settings.KeyAccentFallback))
		}
	}

	if _, err := event.Listen(s.bus, SystemName, s.onExtracted); err != nil {
		return err
	}
	if _, err := event.Listen(s.bus, SystemName, s.onSettingsChanged); err != nil {
		return err
	}
	return nil
}

func (s *Service) onExtracted(e event.ColorsExtractedEvent) error {
	start := s.now()

	s.mu.RLock()
	mode, fallback := s.mode, s.fallback
	s.mu.RUnlock()

	res := Harmonize(e.RawColors, mode, fallback)
	out := event.ColorsHarmonizedEvent{
		ProcessedColors: res.Colors,
		AccentHex:       res.Accent.Hex(),
		AccentRGB:       RGB(res.Accent),
		Strategies:      res.Strategies,
		ProcessingTime:  s.now().Sub(start),
		TrackURI:        e.TrackURI,
	}
	if out.TrackURI == "" {
		out.TrackURI = event.UnknownTrack
	}

	s.mu.Lock()
	last := out
	last.ProcessedColors = maps.Clone(out.ProcessedColors)
	s.last = &last
	s.processed++
	s.usedDefault = res.FromFallback
	s.mu.Unlock()

	if res.FromFallback {
		s.logger.Warn("no parseable colour in extraction, using fallback accent",
			log.String("track", out.TrackURI),
			log.String("fallback", out.AccentHex),
		)
	}

	s.bus.EmitSync(out)
	return nil
}

func (s *Service) onSettingsChanged(e event.SettingsChangedEvent) error {
	return s.applySetting(e.Key, e.Value)
}

func (s *Service) applySetting(key, value string) error {
	switch key {
	case settings.KeyHarmonyMode:
		mode, ok := ParseMode(value)
		s.mu.Lock()
		s.mode = mode
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("unknown harmony mode %q, using %s", value, mode)
		}
	case settings.KeyAccentFallback:
		c, err := ParseHex(value)
		if err != nil {
			return fmt.Errorf("invalid accent fallback %q: %w", value, err)
		}
		s.mu.Lock()
		s.fallback = c
		s.mu.Unlock()
	}
	return nil
}

// Mode returns the active harmony mode.
func (s *Service) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Last returns the most recent harmonized palette, if any.
func (s *Service) Last() (event.ColorsHarmonizedEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return event.ColorsHarmonizedEvent{}, false
	}
	out := *s.last
	out.ProcessedColors = maps.Clone(s.last.ProcessedColors)
	return out, true
}

// UpdateAnimation is a no-op; harmony is event driven.
func (s *Service) UpdateAnimation(time.Duration) {}

// HealthCheck fails while the last extraction had no parseable colour.
func (s *Service) HealthCheck(context.Context) lifecycle.HealthResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	details := map[string]string{
		"mode":      string(s.mode),
		"processed": fmt.Sprint(s.processed),
	}
	if s.usedDefault {
		res := lifecycle.Unhealthy("last extraction had no parseable colour, fallback accent in use")
		res.Details = details
		return res
	}
	res := lifecycle.Healthy()
	res.Details = details
	return res
}

// Destroy removes the service's subscriptions.
func (s *Service) Destroy(context.Context) error {
	s.bus.UnsubscribeAll(SystemName)
	return nil
}
