package coordinator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/log"
)

// ErrNoPalette is returned by RefreshColorDependentSystems before any
// palette was harmonized.
var ErrNoPalette = errors.New("coordinator: no harmonized palette yet")

const colorDependentPrefix = "color-dependent:"

// ColorDependent is a system that restyles itself from harmonized colours.
type ColorDependent interface {
	ApplyColors(event.ColorsHarmonizedEvent) error
}

// ColorDependentFunc adapts a function to ColorDependent.
type ColorDependentFunc func(event.ColorsHarmonizedEvent) error

// ApplyColors calls f(e).
func (f ColorDependentFunc) ApplyColors(e event.ColorsHarmonizedEvent) error { return f(e) }

// RefreshResult lists the colour-dependent systems a refresh reached.
type RefreshResult struct {
	Refreshed []string
	Skipped   []string
}

func colorSubscriber(name string) string { return colorDependentPrefix + name }

// RegisterColorDependentSystem subscribes dep to every harmonized palette.
// When name is also a managed system, refreshes skip it while that system
// is not ready.
func (c *Coordinator) RegisterColorDependentSystem(name string, dep ColorDependent) error {
	if name == "" || dep == nil {
		return fmt.Errorf("coordinator: invalid colour-dependent registration %q", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateDestroyed {
		return ErrNotInitialized
	}
	if _, exists := c.colorDeps[name]; exists {
		return fmt.Errorf("coordinator: colour-dependent system %s already registered", name)
	}
	if _, err := event.Listen(c.bus, colorSubscriber(name), dep.ApplyColors); err != nil {
		return err
	}
	c.colorDeps[name] = dep
	return nil
}

// UnregisterColorDependentSystem removes name and its subscription. It
// reports whether name was registered.
func (c *Coordinator) UnregisterColorDependentSystem(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.colorDeps[name]; !ok {
		return false
	}
	delete(c.colorDeps, name)
	c.bus.UnsubscribeAll(colorSubscriber(name))
	return true
}

// ColorDependentSystem returns the system registered under name.
func (c *Coordinator) ColorDependentSystem(name string) (ColorDependent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dep, ok := c.colorDeps[name]
	return dep, ok
}

// ColorDependentSystems returns the registered names in lexical order.
func (c *Coordinator) ColorDependentSystems() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.colorDeps))
	for name := range c.colorDeps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RefreshColorDependentSystems re-delivers the last harmonized palette to
// every registered colour-dependent system, skipping managed systems that
// are degraded or failed.
func (c *Coordinator) RefreshColorDependentSystems() (RefreshResult, error) {
	c.mu.RLock()
	st, bus, seq := c.state, c.bus, c.seq
	last := c.lastHarmonized
	names := make([]string, 0, len(c.colorDeps))
	for name := range c.colorDeps {
		names = append(names, name)
	}
	c.mu.RUnlock()

	var res RefreshResult
	if st != stateReady {
		return res, ErrNotInitialized
	}
	if last == nil {
		return res, ErrNoPalette
	}
	sort.Strings(names)

	subscribers := make([]string, 0, len(names))
	for _, name := range names {
		if status, managed := seq.Status(name); managed && status.State != lifecycle.StateReady {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		res.Refreshed = append(res.Refreshed, name)
		subscribers = append(subscribers, colorSubscriber(name))
	}
	if len(subscribers) > 0 {
		bus.EmitSyncTo(*last, subscribers...)
	}
	c.logger.Debug("refreshed colour-dependent systems",
		log.Strings("refreshed", res.Refreshed),
		log.Strings("skipped", res.Skipped),
	)
	return res, nil
}
