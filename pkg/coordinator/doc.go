// Package coordinator is the single entry point of chromasync.
//
// A Coordinator owns the unified event bus, the legacy event migrator, the
// shared service registry and every managed system. Systems are declared
// with lifecycle descriptors, validated into a dependency graph when the
// coordinator is created, and initialized phase by phase:
//
//	core-services    settings, performance-monitor
//	shared-services  music-sync, color-harmony
//	feature-systems  theme-applier
//	integration      color-pipeline
//
// # Basic Usage
//
//	c, err := coordinator.New(coordinator.DefaultConfig(),
//	    coordinator.WithLogger(logger),
//	    coordinator.WithSettingsRepository(fs.NewSettingsFile(path)),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := c.Initialize(ctx); err != nil {
//	    _ = c.Destroy(ctx)
//	    return err
//	}
//	defer c.Destroy(context.Background())
//
//	c.Bus().EmitSync(event.ColorsExtractedEvent{RawColors: palette, TrackURI: uri})
//	vars, _ := c.ThemeVariables()
//
// # Shared Services
//
// Shared services are published in the registry when their system becomes
// ready. The Shared* getters fail with ErrServiceNotReady until the owning
// phase completed and with registry.ErrInvalidated after Destroy. Every
// call returns the identical instance.
//
// # Legacy Producers
//
// Producers that still publish legacy untyped events call EmitLegacyEvent.
// The payload is normalized into unified events; malformed payloads are
// logged and dropped.
//
// # Version
//
// Use [ModuleVersions] to get the versions of all sub-modules.
package coordinator
