// Package settingswatcher reloads user preferences when the settings file
// changes on disk.
//
// The watcher is an optional managed system in the integration phase. It
// watches the directory holding the settings file, debounces bursts of
// writes and calls the settings store's Reload, which emits
// settings:changed for every key that actually changed. Failed reloads (for
// example a half-written file) are retried with exponential backoff.
package settingswatcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/log"
	"github.com/bft-labs/chromasync/pkg/services/settings"
)

// SystemName is the lifecycle name of the watcher.
const SystemName = "settings-watcher"

// Reloader re-reads persisted settings. *settings.Store implements it.
type Reloader interface {
	Reload(ctx context.Context) (int, error)
}

// Config holds configuration options for the settings watcher.
type Config struct {
	// Path is the settings file to watch.
	Path string

	// DebounceDelay is the delay to wait after a file change before
	// reloading. Default: 100 milliseconds
	DebounceDelay time.Duration

	// RetryInitial is the first delay between failed reloads.
	// Default: 500 milliseconds
	RetryInitial time.Duration

	// RetryMax caps the delay between failed reloads. Default: 30 seconds
	RetryMax time.Duration
}

// DefaultConfig returns a Config with sensible defaults for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		DebounceDelay: 100 * time.Millisecond,
		RetryInitial:  500 * time.Millisecond,
		RetryMax:      30 * time.Second,
	}
}

// Plugin implements settings file watching.
type Plugin struct {
	cfg      Config
	services lifecycle.Resolver
	logger   log.Logger

	mu        sync.RWMutex
	reloader  Reloader
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	debounce  *time.Timer
	trigger   chan struct{}
	lastErr   error
	reloads   int
	lastEvent time.Time
}

// New creates a watcher. Zero config values take their defaults.
func New(cfg Config, services lifecycle.Resolver, logger log.Logger) *Plugin {
	def := DefaultConfig(cfg.Path)
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = def.DebounceDelay
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = def.RetryInitial
	}
	if cfg.RetryMax < cfg.RetryInitial {
		cfg.RetryMax = max(def.RetryMax, cfg.RetryInitial)
	}
	return &Plugin{
		cfg:      cfg,
		services: services,
		logger:   log.OrNoop(logger),
		trigger:  make(chan struct{}, 1),
	}
}

// Descriptor declares the watcher as a managed system.
func Descriptor(cfg Config) lifecycle.Descriptor {
	return lifecycle.Descriptor{
		Name:      SystemName,
		Phase:     lifecycle.PhaseIntegration,
		DependsOn: []string{settings.SystemName},
		Factory: func(d lifecycle.Deps) (any, error) {
			if cfg.Path == "" {
				return nil, errors.New("settings watcher needs a file path")
			}
			return New(cfg, d.Services, d.Logger), nil
		},
	}
}

// Initialize resolves the settings store and starts watching.
func (p *Plugin) Initialize(ctx context.Context) error {
	v, err := p.services.Get(settings.ServiceKey)
	if err != nil {
		return fmt.Errorf("resolve settings store: %w", err)
	}
	reloader, ok := v.(Reloader)
	if !ok {
		return fmt.Errorf("settings service %T cannot reload", v)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(p.cfg.Path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	// The watch loop outlives Initialize, so it does not inherit ctx.
	watchCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.reloader = reloader
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	p.logger.Info("settings watcher started", log.String("path", p.cfg.Path))
	return nil
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.cfg.Path)
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.debounceReload(p.cfg.DebounceDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("settings watcher error", log.Err(err))

		case <-p.trigger:
			p.reloadWithRetry(ctx)
		}
	}
}

// debounceReload schedules one reload after delay, restarting the delay on
// every call.
func (p *Plugin) debounceReload(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.lastEvent = time.Now()
	p.debounce = time.AfterFunc(delay, func() {
		select {
		case p.trigger <- struct{}{}:
		default:
		}
	})
}

// reloadWithRetry retries until success or context cancellation.
func (p *Plugin) reloadWithRetry(ctx context.Context) {
	p.mu.RLock()
	reloader := p.reloader
	p.mu.RUnlock()

	backoff := lifecycle.NewBackoff(p.cfg.RetryInitial, p.cfg.RetryMax)
	for attempt := 1; ; attempt++ {
		changed, err := reloader.Reload(ctx)

		p.mu.Lock()
		p.lastErr = err
		if err == nil {
			p.reloads++
		}
		p.mu.Unlock()

		if err == nil {
			p.logger.Debug("settings file reloaded",
				log.Int("changed", changed),
				log.Int("attempts", attempt),
			)
			return
		}

		p.logger.Warn("settings reload failed, retrying",
			log.Err(err),
			log.Int("attempt", attempt),
			log.Duration("backoff", backoff.Current()),
		)
		if backoff.Wait(ctx) != nil {
			p.logger.Info("settings watcher stopping retry due to context cancellation")
			return
		}
	}
}

// Reloads returns how many reloads succeeded.
func (p *Plugin) Reloads() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reloads
}

// UpdateAnimation is a no-op.
func (p *Plugin) UpdateAnimation(time.Duration) {}

// HealthCheck fails while the last reload failed.
func (p *Plugin) HealthCheck(context.Context) lifecycle.HealthResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastErr != nil {
		return lifecycle.Unhealthy("settings reload failed: " + p.lastErr.Error())
	}
	res := lifecycle.Healthy()
	res.Details = map[string]string{"path": p.cfg.Path, "reloads": fmt.Sprint(p.reloads)}
	if !p.lastEvent.IsZero() {
		res.Details["last_change"] = p.lastEvent.Format(time.RFC3339)
	}
	return res
}

// Destroy stops the watcher and waits for the watch loop to exit.
func (p *Plugin) Destroy(context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}
