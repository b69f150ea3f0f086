package settingswatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bft-labs/chromasync/internal/adapters/fs"
	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/lifecycle"
	"github.com/bft-labs/chromasync/pkg/registry"
	"github.com/bft-labs/chromasync/pkg/services/settings"
)

type fixture struct {
	path    string
	bus     *event.Bus
	store   *settings.Store
	plugin  *Plugin
	mu      sync.Mutex
	changes []event.SettingsChangedEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{path: filepath.Join(t.TempDir(), fs.SettingsFileName)}

	f.bus = event.NewBus()
	t.Cleanup(f.bus.Destroy)

	f.store = settings.New(f.bus, fs.NewSettingsFile(f.path))
	require.NoError(t, f.store.Initialize(context.Background()))

	reg := registry.New()
	require.NoError(t, reg.Register(settings.ServiceKey, f.store))

	_, err := event.Listen(f.bus, "test", func(e event.SettingsChangedEvent) error {
		f.mu.Lock()
		f.changes = append(f.changes, e)
		f.mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	f.plugin = New(Config{
		Path:          f.path,
		DebounceDelay: 10 * time.Millisecond,
		RetryInitial:  10 * time.Millisecond,
		RetryMax:      50 * time.Millisecond,
	}, reg, nil)
	return f
}

func (f *fixture) Changes() []event.SettingsChangedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.SettingsChangedEvent(nil), f.changes...)
}

func TestPlugin_ReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t)
	require.NoError(t, f.plugin.Initialize(context.Background()))

	require.NoError(t, os.WriteFile(f.path, []byte(`{"harmony-mode":"triadic"}`), 0o600))

	require.Eventually(t, func() bool {
		return f.store.Value(settings.KeyHarmonyMode) == "triadic"
	}, 2*time.Second, 10*time.Millisecond)

	changes := f.Changes()
	require.NotEmpty(t, changes)
	assert.Equal(t, settings.KeyHarmonyMode, changes[0].Key)
	assert.Equal(t, settings.SourceFile, changes[0].Source)
	assert.True(t, f.plugin.HealthCheck(context.Background()).Healthy)

	require.NoError(t, f.plugin.Destroy(context.Background()))
	require.NoError(t, f.plugin.Destroy(context.Background()))
}

func TestPlugin_OwnWritesAreQuiet(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t)
	require.NoError(t, f.plugin.Initialize(context.Background()))
	defer f.plugin.Destroy(context.Background())

	require.NoError(t, f.store.Set(context.Background(), settings.KeyAccentFallback, "#000000"))
	require.Eventually(t, func() bool { return f.plugin.Reloads() > 0 }, 2*time.Second, 10*time.Millisecond)

	assert.Len(t, f.Changes(), 1, "the reload after the store's own save changes nothing")
}

func TestPlugin_RetriesMalformedFile(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t)
	require.NoError(t, f.plugin.Initialize(context.Background()))
	defer f.plugin.Destroy(context.Background())

	require.NoError(t, os.WriteFile(f.path, []byte(`{"harmony-mode":`), 0o600))
	require.Eventually(t, func() bool {
		return !f.plugin.HealthCheck(context.Background()).Healthy
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(f.path, []byte(`{"harmony-mode":"complementary"}`), 0o600))
	require.Eventually(t, func() bool {
		return f.store.Value(settings.KeyHarmonyMode) == "complementary"
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.plugin.HealthCheck(context.Background()).Healthy
	}, time.Second, 10*time.Millisecond)
}

func TestPlugin_RequiresSettingsStore(t *testing.T) {
	p := New(DefaultConfig(filepath.Join(t.TempDir(), "settings.json")), registry.New(), nil)
	err := p.Initialize(context.Background())
	assert.ErrorIs(t, err, registry.ErrServiceUnavailable)
	assert.NoError(t, p.Destroy(context.Background()))
}

func TestDescriptor(t *testing.T) {
	d := Descriptor(DefaultConfig("/tmp/settings.json"))
	assert.Equal(t, SystemName, d.Name)
	assert.Equal(t, lifecycle.PhaseIntegration, d.Phase)
	assert.Equal(t, []string{settings.SystemName}, d.DependsOn)

	_, err := Descriptor(Config{}).Factory(lifecycle.Deps{})
	assert.Error(t, err)
}
