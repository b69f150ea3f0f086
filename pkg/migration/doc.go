// Package migration republishes legacy, loosely typed events as unified
// events on the bus.
//
// Each legacy name maps to a Rule whose Transform tries alternate field
// names in order and accepts numbers sent as strings. Missing fields take an
// explicit default: track URIs become event.UnknownTrack, numbers 0 and
// valence DefaultValence. One legacy
// invocation may fan out to several unified events.
//
//	m := migration.New(bus, migration.WithLogger(logger))
//	m.EmitLegacyEvent("beat-intensity", map[string]any{"bpm": 124, "intensity": 0.8})
//
// Invocations that cannot be migrated are logged and dropped.
package migration
