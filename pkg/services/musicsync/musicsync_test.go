package musicsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/registry"
	"github.com/bft-labs/chromasync/pkg/services/settings"
)

type fakeSettings map[string]bool

func (f fakeSettings) Bool(key string, def bool) bool {
	if v, ok := f[key]; ok {
		return v
	}
	return def
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setup(t *testing.T, enabled bool) (*Service, *event.Bus, *clock, *[]event.MusicEnergyEvent) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(bus.Destroy)

	reg := registry.New()
	require.NoError(t, reg.Register(settings.ServiceKey, fakeSettings{settings.KeyMusicSyncEnabled: enabled}))

	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(bus, reg, WithClock(clk.Now), WithStaleAfter(time.Second))
	require.NoError(t, s.Initialize(context.Background()))

	var energies []event.MusicEnergyEvent
	_, err := event.Listen(bus, "observer", func(e event.MusicEnergyEvent) error {
		energies = append(energies, e)
		return nil
	})
	require.NoError(t, err)
	return s, bus, clk, &energies
}

func TestBeatsDeriveEnergy(t *testing.T) {
	s, bus, clk, energies := setup(t, true)

	bus.EmitSync(event.TrackChangedEvent{TrackURI: "spotify:track:1"})
	bus.EmitSync(event.MusicBeatEvent{BPM: 120, Intensity: 1, Timestamp: clk.Now()})
	bus.EmitSync(event.MusicBeatEvent{BPM: 130, Intensity: 1, Timestamp: clk.Now()})

	require.Len(t, *energies, 2)
	assert.InDelta(t, 0.3, (*energies)[0].Energy, 1e-9)
	assert.InDelta(t, 0.51, (*energies)[1].Energy, 1e-9)
	assert.InDelta(t, 122, (*energies)[1].Tempo, 1e-9)
	assert.Equal(t, "spotify:track:1", (*energies)[1].TrackURI)
	assert.Equal(t, 0.5, (*energies)[1].Valence)

	st := s.State()
	assert.Equal(t, uint64(2), st.Beats)
	assert.True(t, st.Playing)
}

func TestDisabledIgnoresBeats(t *testing.T) {
	s, bus, _, energies := setup(t, false)

	bus.EmitSync(event.MusicBeatEvent{BPM: 120, Intensity: 1})
	assert.Empty(t, *energies)
	assert.Zero(t, s.State().Beats)

	bus.EmitSync(event.SettingsChangedEvent{Key: settings.KeyMusicSyncEnabled, Value: "true"})
	bus.EmitSync(event.MusicBeatEvent{BPM: 120, Intensity: 1})
	assert.Len(t, *energies, 1)
}

func TestStaleBeatsUnhealthy(t *testing.T) {
	s, bus, clk, _ := setup(t, true)
	ctx := context.Background()

	assert.True(t, s.HealthCheck(ctx).Healthy, "idle service is healthy")

	bus.EmitSync(event.TrackChangedEvent{TrackURI: "t"})
	clk.Advance(500 * time.Millisecond)
	assert.True(t, s.HealthCheck(ctx).Healthy)

	clk.Advance(time.Second)
	res := s.HealthCheck(ctx)
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Issues[0], "no beat")

	bus.EmitSync(event.MusicBeatEvent{BPM: 100, Intensity: 0.5, Timestamp: clk.Now()})
	assert.True(t, s.HealthCheck(ctx).Healthy)
}

func TestEnergyDecays(t *testing.T) {
	s, bus, clk, _ := setup(t, true)

	bus.EmitSync(event.MusicBeatEvent{BPM: 100, Intensity: 1, Timestamp: clk.Now()})
	before := s.State().Energy

	s.UpdateAnimation(16 * time.Millisecond)
	assert.Equal(t, before, s.State().Energy, "no decay right after a beat")

	clk.Advance(2 * time.Second)
	s.UpdateAnimation(energyHalfLife)
	assert.InDelta(t, before/2, s.State().Energy, 1e-9)
}

func TestInitializeWithoutSettings(t *testing.T) {
	bus := event.NewBus()
	defer bus.Destroy()

	s := New(bus, registry.New())
	err := s.Initialize(context.Background())
	assert.ErrorIs(t, err, registry.ErrServiceUnavailable)
}

func TestDestroyUnsubscribes(t *testing.T) {
	s, bus, _, energies := setup(t, true)
	require.NoError(t, s.Destroy(context.Background()))

	bus.EmitSync(event.MusicBeatEvent{BPM: 120, Intensity: 1})
	assert.Empty(t, *energies)
	assert.Empty(t, bus.Subscriptions(SystemName))
}
