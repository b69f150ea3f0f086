// Package settings implements the shared user preference store.
//
// Preferences are flat string key/value pairs. Every effective change is
// persisted through a ports.SettingsRepository and announced with a
// settings:changed event.
package settings

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bft-labs/chromasync/internal/ports"
	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/log"
)

const (
	// SystemName is the lifecycle name of the store.
	SystemName = "settings"
	// ServiceKey is the registry key the store is published under.
	ServiceKey = "settings"
)

// Well-known preference keys.
const (
	KeyHarmonyMode      = "harmony-mode"
	KeyAccentFallback   = "accent-fallback"
	KeyMusicSyncEnabled = "music-sync-enabled"
)

// Change sources carried in settings:changed events.
const (
	SourceAPI    = "api"
	SourceFile   = "file"
	SourceLegacy = "legacy"
)

// Defaults returns the built-in preference values.
func Defaults() map[string]string {
	return map[string]string{
		KeyHarmonyMode:      "analogous",
		KeyAccentFallback:   "#cba6f7",
		KeyMusicSyncEnabled: "true",
	}
}

// Repository persists preferences.
type Repository = ports.SettingsRepository

// Store is the settings system and shared service.
type Store struct {
	bus    *event.Bus
	repo   Repository
	logger log.Logger
	now    func() time.Time

	mu         sync.RWMutex
	values     map[string]string
	persistErr error
	loadErr    error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l log.Logger) Option {
	return func(s *Store) { s.logger = log.OrNoop(l) }
}

// WithClock overrides the event timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store. It performs no I/O until Initialize.
func New(bus *event.Bus, repo Repository, opts ...Option) *Store {
	s := &Store{
		bus:    bus,
		repo:   repo,
		logger: log.NoopLogger{},
		now:    time.Now,
		values: Defaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads persisted preferences over the defaults and starts
// accepting settings:changed events from other producers. An unreadable
// repository leaves the defaults in effect and the store unhealthy until a
// later Reload succeeds; nothing is saved over it in the meantime.
func (s *Store) Initialize(ctx context.Context) error {
	persisted, err := s.repo.Load(ctx)
	if err != nil {
		s.logger.Error("failed to load settings, using defaults", log.Err(err))
		persisted = nil
		err = fmt.Errorf("load settings: %w", err)
	}

	s.mu.Lock()
	s.values = Defaults()
	maps.Copy(s.values, persisted)
	s.loadErr = err
	n := len(s.values)
	s.mu.Unlock()

	if _, err := event.Listen(s.bus, SystemName, s.onExternalChange); err != nil {
		return err
	}
	s.logger.Info("settings loaded", log.Int("keys", n))
	return nil
}

// onExternalChange applies changes announced by other producers (for
// example migrated legacy events). The event is already on the bus, so it is
// not re-emitted.
func (s *Store) onExternalChange(e event.SettingsChangedEvent) error {
	if e.Source == SourceAPI || e.Source == SourceFile {
		return nil
	}
	changed, err := s.apply(context.Background(), e.Key, e.Value)
	if err != nil || !changed {
		return err
	}
	s.logger.Debug("applied external settings change",
		log.String("key", e.Key), log.String("source", e.Source))
	return nil
}

// Get returns the value for key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Value returns the value for key, or "" when unset.
func (s *Store) Value(key string) string {
	v, _ := s.Get(key)
	return v
}

// Bool parses the value for key, returning def when unset or unparseable.
func (s *Store) Bool(key string, def bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// All returns a copy of every preference.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Keys returns the preference keys in lexical order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set stores value under key. When the value actually changes it is
// persisted and a settings:changed event is emitted. A persistence failure
// is returned, but the new value stays effective in memory.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("settings: empty key")
	}

	s.mu.RLock()
	prev := s.values[key]
	s.mu.RUnlock()

	changed, err := s.apply(ctx, key, value)
	if !changed {
		return err
	}
	s.bus.EmitSync(event.SettingsChangedEvent{
		Key:       key,
		Value:     value,
		Previous:  prev,
		Source:    SourceAPI,
		Timestamp: s.now(),
	})
	return err
}

// apply updates memory and persists. It reports whether the value changed.
func (s *Store) apply(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	if cur, ok := s.values[key]; ok && cur == value {
		s.mu.Unlock()
		return false, nil
	}
	s.values[key] = value
	snapshot := maps.Clone(s.values)
	s.mu.Unlock()

	return true, s.persist(ctx, snapshot)
}

func (s *Store) persist(ctx context.Context, snapshot map[string]string) error {
	s.mu.RLock()
	loadErr := s.loadErr
	s.mu.RUnlock()
	if loadErr != nil {
		return fmt.Errorf("persist settings: not overwriting unreadable settings: %w", loadErr)
	}

	err := s.repo.Save(ctx, snapshot)

	s.mu.Lock()
	s.persistErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("failed to persist settings", log.Err(err))
		return fmt.Errorf("persist settings: %w", err)
	}
	return nil
}

// Reload re-reads the repository and applies every difference, emitting
// settings:changed with source "file" for each changed key. Keys that
// disappeared from the file fall back to their defaults.
func (s *Store) Reload(ctx context.Context) (int, error) {
	persisted, err := s.repo.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("reload settings: %w", err)
	}
	next := Defaults()
	maps.Copy(next, persisted)

	s.mu.Lock()
	var changes []event.SettingsChangedEvent
	now := s.now()
	keys := make([]string, 0, len(next)+len(s.values))
	for k := range next {
		keys = append(keys, k)
	}
	for k := range s.values {
		if _, ok := next[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s.values[k] != next[k] {
			changes = append(changes, event.SettingsChangedEvent{
				Key:       k,
				Value:     next[k],
				Previous:  s.values[k],
				Source:    SourceFile,
				Timestamp: now,
			})
		}
	}
	s.values = next
	s.loadErr = nil
	s.mu.Unlock()

	for _, c := range changes {
		s.bus.EmitSync(c)
	}
	if len(changes) > 0 {
		s.logger.Info("settings reloaded", log.Int("changed", len(changes)))
	}
	return len(changes), nil
}

// UpdateAnimation is a no-op; the store has no per-frame state.
func (s *Store) UpdateAnimation(time.Duration) {}

// HealthCheck fails while the repository is unreadable or the last save
// failed.
func (s *Store) HealthCheck(context.Context) lifecycle.HealthResult {
	s.mu.RLock()
	loadErr, err := s.loadErr, s.persistErr
	n := len(s.values)
	s.mu.RUnlock()

	if loadErr != nil {
		res := lifecycle.Unhealthy("settings unreadable, using defaults: " + loadErr.Error())
		res.Details = map[string]string{"keys": strconv.Itoa(n)}
		return res
	}
	if err != nil {
		res := lifecycle.Unhealthy("last settings save failed: " + err.Error())
		res.Details = map[string]string{"keys": strconv.Itoa(n)}
		return res
	}
	res := lifecycle.Healthy()
	res.Details = map[string]string{"keys": strconv.Itoa(n)}
	return res
}

// Destroy removes the store's subscriptions.
func (s *Store) Destroy(context.Context) error {
	s.bus.UnsubscribeAll(SystemName)
	return nil
}
