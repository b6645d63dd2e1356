package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
session_id = "kitchen-table"

[room]
max_players = 4

[logging]
level = "debug"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "kitchen-table", cfg.Server.SessionID)
	assert.Equal(t, 4, cfg.Room.MaxPlayers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Greater(t, cfg.Server.StartTime, int64(0))

	// Untouched sections keep their defaults.
	assert.Equal(t, "Board Go", cfg.Server.Name)
	assert.Equal(t, "0.0.0.0:0", cfg.Network.BindAddress)
	assert.Equal(t, "simple-cards", cfg.Game.DefaultPack)
	assert.True(t, cfg.Room.UniqueNicknames)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[server`), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 8, cfg.Room.MaxPlayers)
	assert.Equal(t, 30, cfg.Network.FramesPerSecond)
	assert.Empty(t, cfg.Database.DSN)
}
