package harmony

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/registry"
	"github.com/bft-labs/chromasync/pkg/services/settings"
)

type fakeSettings map[string]string

func (f fakeSettings) Value(key string) string { return f[key] }

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"analogous", Analogous, true},
		{" Triadic ", Triadic, true},
		{"COMPLEMENTARY", Complementary, true},
		{"monochromatic", Monochromatic, true},
		{"rainbow", DefaultMode, false},
	}
	for _, tt := range tests {
		got, ok := ParseMode(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestHarmonizeAccentPriority(t *testing.T) {
	fallback, _ := ParseHex("#cba6f7")
	res := Harmonize(map[string]string{
		"prominent": "#112233",
		"VIBRANT":   "ff0000",
		"MUTED":     "not-a-colour",
	}, Complementary, fallback)

	assert.False(t, res.FromFallback)
	assert.Equal(t, "#ff0000", res.Accent.Hex())
	assert.Equal(t, "#ff0000", res.Colors["ACCENT"])
	assert.Equal(t, "#112233", res.Colors["PROMINENT"])
	assert.NotContains(t, res.Colors, "MUTED")
	assert.Contains(t, res.Colors, "COMPLEMENT")
	assert.Equal(t, []string{"accent:vibrant", "complementary"}, res.Strategies)
}

func TestHarmonizeDerivedKeys(t *testing.T) {
	fallback, _ := ParseHex("#cba6f7")
	tests := []struct {
		mode Mode
		keys []string
	}{
		{Analogous, []string{"ANALOGOUS_1", "ANALOGOUS_2"}},
		{Complementary, []string{"COMPLEMENT"}},
		{Triadic, []string{"TRIAD_1", "TRIAD_2"}},
		{Monochromatic, []string{"SHADE", "TINT"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			res := Harmonize(map[string]string{"VIBRANT": "#3366cc"}, tt.mode, fallback)
			for _, k := range tt.keys {
				c, err := ParseHex(res.Colors[k])
				require.NoError(t, err, k)
				assert.True(t, c.IsValid(), k)
			}
		})
	}
}

func TestHarmonizeFallback(t *testing.T) {
	fallback, _ := ParseHex("#cba6f7")
	res := Harmonize(map[string]string{"VIBRANT": "garbage"}, Analogous, fallback)

	assert.True(t, res.FromFallback)
	assert.Equal(t, "#cba6f7", res.Accent.Hex())
	assert.Equal(t, "203,166,247", RGB(res.Accent))
	assert.Equal(t, "accent:fallback", res.Strategies[0])
}

func setup(t *testing.T, cfg fakeSettings) (*Service, *event.Bus, *[]event.ColorsHarmonizedEvent) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(bus.Destroy)

	reg := registry.New()
	require.NoError(t, reg.Register(settings.ServiceKey, cfg))

	s := New(bus, reg)
	require.NoError(t, s.Initialize(context.Background()))

	var got []event.ColorsHarmonizedEvent
	_, err := event.Listen(bus, "observer", func(e event.ColorsHarmonizedEvent) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	return s, bus, &got
}

func TestExactlyOneHarmonizedPerExtraction(t *testing.T) {
	s, bus, got := setup(t, fakeSettings{settings.KeyHarmonyMode: "triadic", settings.KeyAccentFallback: "#00ff00"})
	assert.Equal(t, Triadic, s.Mode())

	for i := 0; i < 5; i++ {
		bus.EmitSync(event.ColorsExtractedEvent{RawColors: map[string]string{"VIBRANT": "#ff8800"}, TrackURI: "t"})
	}
	require.Len(t, *got, 5)
	h := (*got)[0]
	assert.Equal(t, "#ff8800", h.AccentHex)
	assert.Equal(t, "255,136,0", h.AccentRGB)
	assert.Equal(t, "t", h.TrackURI)
	assert.Contains(t, h.ProcessedColors, "TRIAD_1")

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, h.AccentHex, last.AccentHex)
}

func TestFallbackDegradesUntilGoodExtraction(t *testing.T) {
	s, bus, got := setup(t, fakeSettings{settings.KeyAccentFallback: "#00ff00"})
	ctx := context.Background()

	bus.EmitSync(event.ColorsExtractedEvent{RawColors: map[string]string{}})
	require.Len(t, *got, 1)
	assert.Equal(t, "#00ff00", (*got)[0].AccentHex)
	assert.Equal(t, event.UnknownTrack, (*got)[0].TrackURI)
	assert.False(t, s.HealthCheck(ctx).Healthy)

	bus.EmitSync(event.ColorsExtractedEvent{RawColors: map[string]string{"VIBRANT": "#123456"}})
	assert.True(t, s.HealthCheck(ctx).Healthy)
}

func TestSettingsChangeSwitchesMode(t *testing.T) {
	s, bus, _ := setup(t, fakeSettings{})

	bus.EmitSync(event.SettingsChangedEvent{Key: settings.KeyHarmonyMode, Value: "monochromatic"})
	assert.Equal(t, Monochromatic, s.Mode())

	bus.EmitSync(event.SettingsChangedEvent{Key: settings.KeyHarmonyMode, Value: "nonsense"})
	assert.Equal(t, DefaultMode, s.Mode())
	assert.Len(t, bus.RecentErrors(), 1)
}
