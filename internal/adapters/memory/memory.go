// Package memory provides in-process adapters for the chromasync ports.
package memory

import (
	"context"
	"maps"
	"sync"
)

// SettingsRepository keeps preferences in memory. The zero value is ready
// to use.
type SettingsRepository struct {
	mu       sync.Mutex
	settings map[string]string
	saves    int
	failSave error
	failLoad error
}

// NewSettingsRepository creates a repository seeded with initial.
func NewSettingsRepository(initial map[string]string) *SettingsRepository {
	return &SettingsRepository{settings: maps.Clone(initial)}
}

// Load returns a copy of the stored preferences.
func (r *SettingsRepository) Load(ctx context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failLoad != nil {
		return nil, r.failLoad
	}
	if r.settings == nil {
		return map[string]string{}, nil
	}
	return maps.Clone(r.settings), nil
}

// Save stores a copy of settings.
func (r *SettingsRepository) Save(ctx context.Context, settings map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave != nil {
		return r.failSave
	}
	r.settings = maps.Clone(settings)
	r.saves++
	return nil
}

// Set replaces the stored preferences without counting a save, simulating an
// external edit.
func (r *SettingsRepository) Set(settings map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = maps.Clone(settings)
}

// FailSaves makes every later Save return err. A nil err restores saving.
func (r *SettingsRepository) FailSaves(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSave = err
}

// FailLoads makes every later Load return err. A nil err restores loading.
func (r *SettingsRepository) FailLoads(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failLoad = err
}

// Saves returns how many successful saves happened.
func (r *SettingsRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// ThemeSink records the last published variables.
type ThemeSink struct {
	mu          sync.Mutex
	last        map[string]string
	publishes   int
	failPublish error
}

// Publish stores a copy of vars.
func (s *ThemeSink) Publish(ctx context.Context, vars map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPublish != nil {
		return s.failPublish
	}
	s.last = maps.Clone(vars)
	s.publishes++
	return nil
}

// FailPublishes makes every later Publish return err. A nil err restores
// publishing.
func (s *ThemeSink) FailPublishes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPublish = err
}

// Last returns the last published variables.
func (s *ThemeSink) Last() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.last)
}

// Publishes returns how many successful publishes happened.
func (s *ThemeSink) Publishes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishes
}
