package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsFile_LoadMissing(t *testing.T) {
	repo := NewSettingsFile(filepath.Join(t.TempDir(), "nope", SettingsFileName))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSettingsFile_RoundTrip(t *testing.T) {
	path := DefaultSettingsPath(filepath.Join(t.TempDir(), "nested"))
	repo := NewSettingsFile(path)
	ctx := context.Background()

	want := map[string]string{"harmony-mode": "triadic", "music-sync-enabled": "true"}
	require.NoError(t, repo.Save(ctx, want))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestSettingsFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewSettingsFile(path).Load(context.Background())
	assert.Error(t, err)
}

func TestSettingsFile_SaveCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewSettingsFile(filepath.Join(t.TempDir(), SettingsFileName)).Save(ctx, map[string]string{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestThemeFile_Publish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "theme.css")
	sink := NewThemeFile(path)

	err := sink.Publish(context.Background(), map[string]string{
		"--cs-accent":     "#cba6f7",
		"cs-energy":       "0.50",
		"--cs-accent-rgb": "203,166,247",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":root {\n  --cs-accent: #cba6f7;\n  --cs-accent-rgb: 203,166,247;\n  --cs-energy: 0.50;\n}\n", string(data))
}
