package migration

import (
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/chromasync/internal/metrics"
	"github.com/bft-labs/chromasync/pkg/event"
	"github.com/bft-labs/chromasync/pkg/log"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type warnLogger struct {
	log.NoopLogger
	mu    sync.Mutex
	warns []string
}

func (l *warnLogger) Warn(msg string, fields ...log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *warnLogger) count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, w := range l.warns {
		if w == msg {
			n++
		}
	}
	return n
}

// capture subscribes to every unified type and records what was emitted.
func capture(t *testing.T, bus *event.Bus) *[]event.Event {
	t.Helper()
	var got []event.Event
	for _, typ := range event.KnownTypes() {
		_, err := bus.Subscribe(typ, func(e event.Event) error {
			got = append(got, e)
			return nil
		}, "capture")
		require.NoError(t, err)
	}
	return &got
}

func newTestMigrator(t *testing.T, opts ...Option) (*Migrator, *[]event.Event) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(bus.Destroy)
	got := capture(t, bus)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(bus, opts...), got
}

func TestMigrationDefaulting(t *testing.T) {
	tests := []struct {
		name    string
		legacy  string
		payload any
		want    []event.Event
	}{
		{
			name:    "extracted without track",
			legacy:  "colors-extracted",
			payload: map[string]any{"colors": map[string]any{"VIBRANT": "#ff0000"}},
			want: []event.Event{event.ColorsExtractedEvent{
				RawColors: map[string]string{"VIBRANT": "#ff0000"},
				TrackURI:  event.UnknownTrack,
				Timestamp: fixedNow,
			}},
		},
		{
			name:    "beat with string numbers",
			legacy:  "beat-detected",
			payload: map[string]string{"tempo": "128.5", "intensity": "0.25"},
			want: []event.Event{event.MusicBeatEvent{
				BPM:       128.5,
				Intensity: 0.25,
				Timestamp: fixedNow,
			}},
		},
		{
			name:    "beat alias with garbage numbers",
			legacy:  "music-beat",
			payload: map[string]any{"bpm": "fast", "intensity": 7},
			want: []event.Event{event.MusicBeatEvent{
				BPM:       0,
				Intensity: 1,
				Timestamp: fixedNow,
			}},
		},
		{
			name:    "beat intensity fans out",
			legacy:  "beat-intensity",
			payload: `{"bpm": 120, "intensity": 0.8, "track_uri": "spotify:track:9"}`,
			want: []event.Event{
				event.MusicBeatEvent{BPM: 120, Intensity: 0.8, Timestamp: fixedNow},
				event.MusicEnergyEvent{Energy: 0.8, Valence: DefaultValence, Tempo: 120, TrackURI: "spotify:track:9", Timestamp: fixedNow},
			},
		},
		{
			name:   "music state nested",
			legacy: "music-state",
			payload: map[string]any{
				"uri":    "spotify:track:3",
				"beat":   map[string]any{"bpm": 90, "confidence": 0.9},
				"energy": map[string]any{"level": 0.4, "valence": 0.2},
			},
			want: []event.Event{
				event.MusicBeatEvent{BPM: 90, Confidence: 0.9, Timestamp: fixedNow},
				event.MusicEnergyEvent{Energy: 0.4, Valence: 0.2, TrackURI: "spotify:track:3", Timestamp: fixedNow},
			},
		},
		{
			name:    "track change alias",
			legacy:  "songchange",
			payload: map[string]any{"uri": "spotify:track:1", "name": "Song", "artists": []any{"A", "B"}, "duration_ms": 1500},
			want: []event.Event{event.TrackChangedEvent{
				TrackURI:  "spotify:track:1",
				Title:     "Song",
				Artist:    "A, B",
				Duration:  1500 * time.Millisecond,
				Timestamp: fixedNow,
			}},
		},
		{
			name:    "harmonized derives rgb",
			legacy:  "colors-harmonized",
			payload: map[string]any{"accent": "#cba6f7", "strategy": "analogous"},
			want: []event.Event{event.ColorsHarmonizedEvent{
				ProcessedColors: map[string]string{},
				AccentHex:       "#cba6f7",
				AccentRGB:       "203,166,247",
				Strategies:      []string{"analogous"},
				TrackURI:        event.UnknownTrack,
			}},
		},
		{
			name:    "settings alias with numeric value",
			legacy:  "setting-changed",
			payload: map[string]any{"setting": "harmony-mode", "value": json.Number("3")},
			want: []event.Event{event.SettingsChangedEvent{
				Key:       "harmony-mode",
				Value:     "3",
				Source:    "legacy",
				Timestamp: fixedNow,
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, got := newTestMigrator(t)
			n := m.EmitLegacyEvent(tt.legacy, tt.payload)
			assert.Equal(t, len(tt.want), n)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestMalformedPayloadsDropped(t *testing.T) {
	tests := []struct {
		name    string
		legacy  string
		payload any
	}{
		{"nil payload", "beat-detected", nil},
		{"wrong type", "beat-detected", 42},
		{"invalid json", "beat-detected", `{"bpm":`},
		{"json array", "beat-detected", `[1,2]`},
		{"empty string", "beat-detected", "   "},
		{"unknown name", "disco-mode", map[string]any{}},
		{"settings without key", "settings-changed", map[string]any{"value": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &warnLogger{}
			m, got := newTestMigrator(t, WithLogger(logger))
			assert.NotPanics(t, func() {
				assert.Equal(t, 0, m.EmitLegacyEvent(tt.legacy, tt.payload))
			})
			assert.Empty(t, *got)
			assert.NotEmpty(t, logger.warns)
		})
	}
}

func TestPanickingTransformDropped(t *testing.T) {
	m, got := newTestMigrator(t)
	require.NoError(t, m.Register(Rule{
		Legacy: "explode",
		Transform: func(Payload, time.Time) []event.Event {
			panic("bad rule")
		},
	}))

	assert.Equal(t, 0, m.EmitLegacyEvent("explode", map[string]any{}))
	assert.Empty(t, *got)
	assert.Equal(t, uint64(1), m.Stats()["explode"].Dropped)
}

func TestRegisterValidation(t *testing.T) {
	m, _ := newTestMigrator(t)

	err := m.Register(Rule{Legacy: "", Transform: beatDetected})
	assert.ErrorIs(t, err, ErrInvalidRule)

	err = m.Register(Rule{Legacy: "custom"})
	assert.ErrorIs(t, err, ErrInvalidRule)

	err = m.Register(Rule{Legacy: "custom", Aliases: []string{"SongChange"}, Transform: beatDetected})
	assert.ErrorIs(t, err, ErrDuplicateRule)

	// A rejected rule must not claim any of its names.
	require.NoError(t, m.Register(Rule{Legacy: "custom", Transform: beatDetected}))
	assert.Contains(t, m.LegacyNames(), "custom")
}

func TestDeprecationWarningOnce(t *testing.T) {
	logger := &warnLogger{}
	m, _ := newTestMigrator(t, WithLogger(logger))

	m.EmitLegacyEvent("beat-detected", map[string]any{"bpm": 100})
	m.EmitLegacyEvent("music-beat", map[string]any{"bpm": 101})
	m.EmitLegacyEvent("BEAT-DETECTED", map[string]any{"bpm": 102})

	assert.Equal(t, 1, logger.count("legacy event producer in use"))

	stats := m.Stats()["beat-detected"]
	assert.Equal(t, uint64(3), stats.Migrated)
	assert.Equal(t, uint64(3), stats.Emitted)
	assert.Equal(t, uint64(0), stats.Dropped)
}

func TestMigrationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mm := metrics.NewMigration(reg)
	m, _ := newTestMigrator(t, WithMetrics(mm))

	m.EmitLegacyEvent("energy-updated", map[string]any{"energy": 0.3})
	m.EmitLegacyEvent("energy-updated", 3.14)

	assert.Equal(t, float64(1), testutil.ToFloat64(mm.LegacyEvents.WithLabelValues("energy-updated", "migrated")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mm.LegacyEvents.WithLabelValues("energy-updated", "dropped")))
}

func TestTimestampParsing(t *testing.T) {
	ms := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	p := Payload{"timestamp": float64(ms.UnixMilli())}
	assert.True(t, timestamp(p, fixedNow, "timestamp").Equal(ms))

	p = Payload{"time": ms.Format(time.RFC3339)}
	assert.True(t, timestamp(p, fixedNow, "timestamp", "time").Equal(ms))

	p = Payload{"timestamp": "yesterday"}
	assert.Equal(t, fixedNow, timestamp(p, fixedNow, "timestamp"))

	p = Payload{"timestamp": 1e300}
	assert.True(t, timestamp(p, fixedNow, "timestamp").After(fixedNow))
}

func TestHugeMillisecondsSaturate(t *testing.T) {
	p := Payload{"duration": 1e300}
	assert.GreaterOrEqual(t, millis(p, "duration"), time.Duration(math.MaxInt64)-time.Millisecond)

	p = Payload{"duration": "9.3e15"}
	assert.Positive(t, millis(p, "duration"))

	p = Payload{"duration": -5}
	assert.Equal(t, time.Duration(0), millis(p, "duration"))
}
