package event

import (
	"sort"
	"time"
)

// Type discriminates unified events. The payload struct for each Type is
// fixed; producers cannot publish another shape under the same Type.
type Type string

const (
	ColorsExtracted    Type = "colors:extracted"
	ColorsHarmonized   Type = "colors:harmonized"
	ColorsApplied      Type = "colors:applied"
	MusicBeat          Type = "music:beat"
	MusicEnergy        Type = "music:energy"
	MusicTrackChanged  Type = "music:track-changed"
	SettingsChanged    Type = "settings:changed"
	SystemStateChanged Type = "system:state-changed"
)

var knownTypes = map[Type]struct{}{
	ColorsExtracted:    {},
	ColorsHarmonized:   {},
	ColorsApplied:      {},
	MusicBeat:          {},
	MusicEnergy:        {},
	MusicTrackChanged:  {},
	SettingsChanged:    {},
	SystemStateChanged: {},
}

// IsKnown reports whether t is one of the unified event types.
func IsKnown(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

// KnownTypes returns every unified event type in lexical order.
func KnownTypes() []Type {
	out := make([]Type, 0, len(knownTypes))
	for t := range knownTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Event is implemented by every unified payload.
type Event interface {
	EventType() Type
}

// UnknownTrack is the track URI used when a producer did not supply one.
const UnknownTrack = "unknown"

// ColorsExtractedEvent carries the raw palette extracted for a track.
// RawColors maps extractor keys (VIBRANT, PROMINENT, ...) to hex colours.
type ColorsExtractedEvent struct {
	RawColors map[string]string
	TrackURI  string
	Timestamp time.Time
}

func (ColorsExtractedEvent) EventType() Type { return ColorsExtracted }

// ColorsHarmonizedEvent carries the palette after harmony processing.
type ColorsHarmonizedEvent struct {
	ProcessedColors map[string]string
	AccentHex       string
	AccentRGB       string // "r,g,b"
	Strategies      []string
	ProcessingTime  time.Duration
	TrackURI        string
}

func (ColorsHarmonizedEvent) EventType() Type { return ColorsHarmonized }

// ColorsAppliedEvent is emitted once theme variables were published.
type ColorsAppliedEvent struct {
	Variables map[string]string
	AccentHex string
	TrackURI  string
	Timestamp time.Time
}

func (ColorsAppliedEvent) EventType() Type { return ColorsApplied }

// MusicBeatEvent is a single detected beat.
type MusicBeatEvent struct {
	BPM        float64
	Intensity  float64
	Confidence float64
	Timestamp  time.Time
}

func (MusicBeatEvent) EventType() Type { return MusicBeat }

// MusicEnergyEvent is the derived energy estimate for the current track.
type MusicEnergyEvent struct {
	Energy    float64
	Valence   float64
	Tempo     float64
	TrackURI  string
	Timestamp time.Time
}

func (MusicEnergyEvent) EventType() Type { return MusicEnergy }

// TrackChangedEvent announces a new track.
type TrackChangedEvent struct {
	TrackURI  string
	Title     string
	Artist    string
	Duration  time.Duration
	Timestamp time.Time
}

func (TrackChangedEvent) EventType() Type { return MusicTrackChanged }

// SettingsChangedEvent announces a user preference change.
type SettingsChangedEvent struct {
	Key       string
	Value     string
	Previous  string
	Source    string // "api", "file", "legacy", ...
	Timestamp time.Time
}

func (SettingsChangedEvent) EventType() Type { return SettingsChanged }

// SystemStateChangedEvent mirrors a managed system's lifecycle transition.
type SystemStateChangedEvent struct {
	System    string
	Previous  string
	Current   string
	Reason    string
	Timestamp time.Time
}

func (SystemStateChangedEvent) EventType() Type { return SystemStateChanged }
