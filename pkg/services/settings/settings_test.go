package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/chromasync/internal/adapters/memory"
	"github.com/bft-labs/chromasync/pkg/event"
)

func newStore(t *testing.T, initial map[string]string) (*Store, *memory.SettingsRepository, *event.Bus, *[]event.SettingsChangedEvent) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(bus.Destroy)

	var changes []event.SettingsChangedEvent
	_, err := event.Listen(bus, "observer", func(e event.SettingsChangedEvent) error {
		changes = append(changes, e)
		return nil
	})
	require.NoError(t, err)

	repo := memory.NewSettingsRepository(initial)
	s := New(bus, repo)
	require.NoError(t, s.Initialize(context.Background()))
	return s, repo, bus, &changes
}

func TestInitializeMergesDefaults(t *testing.T) {
	s, _, _, _ := newStore(t, map[string]string{KeyHarmonyMode: "triadic", "custom": "x"})

	assert.Equal(t, "triadic", s.Value(KeyHarmonyMode))
	assert.Equal(t, "#cba6f7", s.Value(KeyAccentFallback))
	assert.Equal(t, "x", s.Value("custom"))
	assert.True(t, s.Bool(KeyMusicSyncEnabled, false))
	assert.Equal(t, []string{"accent-fallback", "custom", "harmony-mode", "music-sync-enabled"}, s.Keys())
}

func TestSetPersistsAndEmits(t *testing.T) {
	s, repo, _, changes := newStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, KeyHarmonyMode, "complementary"))
	require.NoError(t, s.Set(ctx, KeyHarmonyMode, "complementary"))

	require.Len(t, *changes, 1)
	c := (*changes)[0]
	assert.Equal(t, KeyHarmonyMode, c.Key)
	assert.Equal(t, "complementary", c.Value)
	assert.Equal(t, "analogous", c.Previous)
	assert.Equal(t, SourceAPI, c.Source)

	assert.Equal(t, 1, repo.Saves())
	persisted, _ := repo.Load(ctx)
	assert.Equal(t, "complementary", persisted[KeyHarmonyMode])

	assert.Error(t, s.Set(ctx, "", "x"))
}

func TestPersistFailureDegradesButKeepsValue(t *testing.T) {
	s, repo, _, changes := newStore(t, nil)
	ctx := context.Background()

	repo.FailSaves(errors.New("read-only filesystem"))
	err := s.Set(ctx, KeyMusicSyncEnabled, "false")
	require.Error(t, err)

	assert.Equal(t, "false", s.Value(KeyMusicSyncEnabled))
	assert.Len(t, *changes, 1)

	res := s.HealthCheck(ctx)
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Issues[0], "read-only filesystem")

	repo.FailSaves(nil)
	require.NoError(t, s.Set(ctx, KeyMusicSyncEnabled, "true"))
	assert.True(t, s.HealthCheck(ctx).Healthy)
}

func TestUnreadableRepositoryFallsBackToDefaults(t *testing.T) {
	bus := event.NewBus()
	t.Cleanup(bus.Destroy)
	ctx := context.Background()

	repo := memory.NewSettingsRepository(map[string]string{KeyHarmonyMode: "triadic"})
	repo.FailLoads(errors.New("invalid character 't'"))
	s := New(bus, repo)
	require.NoError(t, s.Initialize(ctx))

	assert.Equal(t, "analogous", s.Value(KeyHarmonyMode))
	res := s.HealthCheck(ctx)
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Issues[0], "invalid character")

	// The unreadable file is not overwritten.
	assert.Error(t, s.Set(ctx, KeyHarmonyMode, "complementary"))
	assert.Equal(t, "complementary", s.Value(KeyHarmonyMode))
	assert.Zero(t, repo.Saves())

	repo.FailLoads(nil)
	_, err := s.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, "triadic", s.Value(KeyHarmonyMode))
	assert.True(t, s.HealthCheck(ctx).Healthy)
	require.NoError(t, s.Set(ctx, KeyHarmonyMode, "monochromatic"))
	assert.Equal(t, 1, repo.Saves())
}

func TestExternalChangeApplied(t *testing.T) {
	s, repo, bus, changes := newStore(t, nil)

	bus.EmitSync(event.SettingsChangedEvent{Key: KeyHarmonyMode, Value: "monochromatic", Source: SourceLegacy})

	assert.Equal(t, "monochromatic", s.Value(KeyHarmonyMode))
	assert.Equal(t, 1, repo.Saves())
	// Only the original event; the store does not re-announce it.
	assert.Len(t, *changes, 1)
}

func TestReloadDiffs(t *testing.T) {
	s, repo, _, changes := newStore(t, map[string]string{"custom": "x"})

	repo.Set(map[string]string{KeyHarmonyMode: "triadic"})
	n, err := s.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, *changes, 2)
	assert.Equal(t, "custom", (*changes)[0].Key)
	assert.Equal(t, "", (*changes)[0].Value)
	assert.Equal(t, KeyHarmonyMode, (*changes)[1].Key)
	assert.Equal(t, SourceFile, (*changes)[1].Source)

	_, ok := s.Get("custom")
	assert.False(t, ok)

	n, err = s.Reload(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDestroyRemovesSubscriptions(t *testing.T) {
	s, _, bus, _ := newStore(t, nil)
	require.NotEmpty(t, bus.Subscriptions(SystemName))

	require.NoError(t, s.Destroy(context.Background()))
	assert.Empty(t, bus.Subscriptions(SystemName))
}
