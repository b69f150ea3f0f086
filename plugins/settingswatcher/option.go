package settingswatcher

import "github.com/bft-labs/chromasync/pkg/coordinator"

// WithSettingsWatcher returns a coordinator Option that reloads preferences
// whenever the settings file changes.
//
// Usage:
//
//	c, err := coordinator.New(cfg,
//	    coordinator.WithSettingsRepository(fs.NewSettingsFile(path)),
//	    settingswatcher.WithSettingsWatcher(settingswatcher.DefaultConfig(path)),
//	)
func WithSettingsWatcher(cfg Config) coordinator.Option {
	return coordinator.WithSystem(Descriptor(cfg))
}
