package migration

import (
	"fmt"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/bft-labs/chromasync/pkg/event"
)

// Rule maps one legacy event name (and its aliases) to unified events.
// Transform must be pure: it may only read the payload and the clock value
// it was given. Returning no events drops the invocation.
type Rule struct {
	Legacy    string
	Aliases   []string
	Transform func(p Payload, now time.Time) []event.Event
}

// DefaultValence is used for energy events whose producer had no valence.
const DefaultValence = 0.5

var (
	trackKeys     = []string{"trackUri", "track_uri", "trackURI", "uri"}
	timestampKeys = []string{"timestamp", "time", "ts"}
	bpmKeys       = []string{"bpm", "tempo"}
	intensityKeys = []string{"intensity", "beatIntensity", "strength"}
)

// DefaultRules returns the built-in legacy rules.
func DefaultRules() []Rule {
	return []Rule{
		{Legacy: "colors-extracted", Aliases: []string{"colorsextracted"}, Transform: colorsExtracted},
		{Legacy: "colors-harmonized", Transform: colorsHarmonized},
		{Legacy: "colors-applied", Transform: colorsApplied},
		{Legacy: "beat-detected", Aliases: []string{"music-beat"}, Transform: beatDetected},
		{Legacy: "beat-intensity", Transform: beatIntensity},
		{Legacy: "music-state", Transform: musicState},
		{Legacy: "energy-updated", Transform: energyUpdated},
		{Legacy: "track-changed", Aliases: []string{"songchange"}, Transform: trackChanged},
		{Legacy: "settings-changed", Aliases: []string{"setting-changed"}, Transform: settingsChanged},
	}
}

func colorsExtracted(p Payload, now time.Time) []event.Event {
	return []event.Event{event.ColorsExtractedEvent{
		RawColors: stringMap(p, "rawColors", "raw_colors", "colors", "palette"),
		TrackURI:  str(p, event.UnknownTrack, trackKeys...),
		Timestamp: timestamp(p, now, timestampKeys...),
	}}
}

func colorsHarmonized(p Payload, _ time.Time) []event.Event {
	accent := str(p, "", "accentHex", "accent_hex", "accent")
	rgb := str(p, "", "accentRgb", "accent_rgb", "accentRGB")
	if rgb == "" {
		rgb = rgbString(accent)
	}
	return []event.Event{event.ColorsHarmonizedEvent{
		ProcessedColors: stringMap(p, "processedColors", "processed_colors", "colors", "palette"),
		AccentHex:       accent,
		AccentRGB:       rgb,
		Strategies:      stringList(p, "strategies", "strategy"),
		ProcessingTime:  millis(p, "processingTime", "processing_time"),
		TrackURI:        str(p, event.UnknownTrack, trackKeys...),
	}}
}

func colorsApplied(p Payload, now time.Time) []event.Event {
	return []event.Event{event.ColorsAppliedEvent{
		Variables: stringMap(p, "variables", "cssVariables", "vars"),
		AccentHex: str(p, "", "accentHex", "accent_hex", "accent"),
		TrackURI:  str(p, event.UnknownTrack, trackKeys...),
		Timestamp: timestamp(p, now, timestampKeys...),
	}}
}

func beat(p Payload, now time.Time) event.MusicBeatEvent {
	return event.MusicBeatEvent{
		BPM:        nonNegative(num(p, 0, bpmKeys...)),
		Intensity:  unit(num(p, 0, intensityKeys...)),
		Confidence: unit(num(p, 0, "confidence")),
		Timestamp:  timestamp(p, now, timestampKeys...),
	}
}

func energy(p Payload, now time.Time, energyKeys ...string) event.MusicEnergyEvent {
	return event.MusicEnergyEvent{
		Energy:    unit(num(p, 0, energyKeys...)),
		Valence:   unit(num(p, DefaultValence, "valence")),
		Tempo:     nonNegative(num(p, 0, bpmKeys...)),
		TrackURI:  str(p, event.UnknownTrack, trackKeys...),
		Timestamp: timestamp(p, now, timestampKeys...),
	}
}

func beatDetected(p Payload, now time.Time) []event.Event {
	return []event.Event{beat(p, now)}
}

// beatIntensity fans out: the intensity doubles as the energy estimate.
func beatIntensity(p Payload, now time.Time) []event.Event {
	return []event.Event{
		beat(p, now),
		energy(p, now, "energy", "intensity", "beatIntensity"),
	}
}

// musicState accepts flat payloads or {"beat": {...}, "energy": {...}}.
func musicState(p Payload, now time.Time) []event.Event {
	b := nested(p, "beat")
	e := nested(p, "energy")
	if _, ok := e["trackUri"]; !ok {
		if uri := str(p, "", trackKeys...); uri != "" {
			e = withKey(e, "trackUri", uri)
		}
	}
	return []event.Event{
		beat(b, now),
		energy(e, now, "energy", "level"),
	}
}

func energyUpdated(p Payload, now time.Time) []event.Event {
	return []event.Event{energy(p, now, "energy", "level", "value")}
}

func trackChanged(p Payload, now time.Time) []event.Event {
	dur := millis(p, "duration", "durationMs", "duration_ms")
	return []event.Event{event.TrackChangedEvent{
		TrackURI:  str(p, event.UnknownTrack, trackKeys...),
		Title:     str(p, "", "title", "name"),
		Artist:    artist(p),
		Duration:  dur,
		Timestamp: timestamp(p, now, timestampKeys...),
	}}
}

// settingsChanged drops invocations without a key.
func settingsChanged(p Payload, now time.Time) []event.Event {
	key := str(p, "", "key", "setting", "name")
	if key == "" {
		return nil
	}
	return []event.Event{event.SettingsChangedEvent{
		Key:       key,
		Value:     str(p, "", "value", "newValue", "new_value"),
		Previous:  str(p, "", "previous", "oldValue", "old_value"),
		Source:    str(p, "legacy", "source"),
		Timestamp: timestamp(p, now, timestampKeys...),
	}}
}

func artist(p Payload) string {
	if s := str(p, "", "artist"); s != "" {
		return s
	}
	return strings.Join(stringList(p, "artists"), ", ")
}

func withKey(p Payload, key string, v any) Payload {
	out := make(Payload, len(p)+1)
	for k, val := range p {
		out[k] = val
	}
	out[key] = v
	return out
}

// rgbString converts "#rrggbb" to "r,g,b". Unparseable input yields "".
func rgbString(hex string) string {
	if hex == "" {
		return ""
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return ""
	}
	r, g, b := c.RGB255()
	return fmt.Sprintf("%d,%d,%d", r, g, b)
}
