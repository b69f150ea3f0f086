package ports

import "context"

// SettingsRepository persists user preferences as flat string key/value
// pairs.
type SettingsRepository interface {
	// Load retrieves the persisted preferences.
	// Returns an empty map and nil error if nothing was persisted yet.
	Load(ctx context.Context) (map[string]string, error)

	// Save replaces the persisted preferences atomically.
	Save(ctx context.Context, settings map[string]string) error
}
