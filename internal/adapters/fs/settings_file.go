package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SettingsFileName is the default file name for persisted preferences.
const SettingsFileName = "settings.json"

// SettingsFile implements ports.SettingsRepository using a JSON object of
// string values.
type SettingsFile struct {
	path string
}

// NewSettingsFile creates a repository backed by path.
func NewSettingsFile(path string) *SettingsFile {
	return &SettingsFile{path: path}
}

// Load retrieves the persisted preferences.
// Returns an empty map and nil error if the file does not exist.
func (r *SettingsFile) Load(ctx context.Context) (map[string]string, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return map[string]string{}, nil
	}

	var settings map[string]string
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.path, err)
	}
	if settings == nil {
		settings = map[string]string{}
	}
	return settings, nil
}

// Save replaces the file atomically.
func (r *SettingsFile) Save(ctx context.Context, settings map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(r.path, append(data, '\n'), 0o600)
}

// Path returns the full path to the settings file.
func (r *SettingsFile) Path() string {
	return r.path
}

// DefaultSettingsPath returns the settings file inside dir.
func DefaultSettingsPath(dir string) string {
	return filepath.Join(dir, SettingsFileName)
}
