package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortableHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("STATESYNC_HOME", home)

	assert.Equal(t, filepath.Join(home, "config"), ConfigDir())
	assert.Equal(t, filepath.Join(home, "state"), StateDir())
	assert.Equal(t, filepath.Join(home, "run", "statesyncd.sock"), SocketPath())
	assert.Equal(t, filepath.Join(home, "state", "signals.db"), JournalPath())

	require.NoError(t, EnsureDirs())
	assert.DirExists(t, LogDir())
}

func TestXDGOverrides(t *testing.T) {
	t.Setenv("STATESYNC_HOME", "")
	cfg := t.TempDir()
	state := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfg)
	t.Setenv("XDG_STATE_HOME", state)
	t.Setenv("XDG_RUNTIME_DIR", "")

	assert.Equal(t, filepath.Join(cfg, "statesync"), ConfigDir())
	assert.Equal(t, filepath.Join(state, "statesync"), StateDir())
	assert.Equal(t, filepath.Join(state, "statesync"), RuntimeDir())
	assert.Equal(t, filepath.Join(state, "statesync", "statesyncd.pid"), PidFilePath())
}
