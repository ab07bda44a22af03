package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/hypermark/errors"
)

func TestAddRemoveRelay(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigDirName, "am.toml")

	require.NoError(t, AddRelay(path, "wss://a.example"))
	require.NoError(t, AddRelay(path, "wss://b.example"))
	require.NoError(t, AddRelay(path, "wss://a.example"))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://a.example", "wss://b.example"}, cfg.Relays.URLs)

	require.NoError(t, RemoveRelay(path, "wss://a.example"))
	cfg, err = LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://b.example"}, cfg.Relays.URLs)

	err = RemoveRelay(path, "wss://missing.example")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestPersistKeepsOtherSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	writeFile(t, path, "[sync]\ndebounce_ms = 700\n")

	require.NoError(t, AddRelay(path, "wss://a.example"))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 700, cfg.Sync.DebounceMs)
	assert.Equal(t, []string{"wss://a.example"}, cfg.Relays.URLs)
}

func TestCreateBackupRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, createBackup(path), "missing file is not an error")

	for _, content := range []string{"one", "two", "three", "four", "five"} {
		writeFile(t, path, content)
		require.NoError(t, createBackup(path))
	}

	for suffix, want := range map[string]string{".back1": "five", ".back2": "four", ".back3": "three"} {
		got, err := os.ReadFile(path + suffix)
		require.NoError(t, err)
		assert.Equal(t, want, string(got), suffix)
	}
}

func TestAddRelayRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	writeFile(t, path, "[relays\nurls = ")

	assert.Error(t, AddRelay(path, "wss://a.example"))
}
