// Package paths resolves where statesync keeps its files.
//
// Resolution order:
// 1. STATESYNC_HOME (portable root) → $STATESYNC_HOME/{config,state,run}
// 2. XDG env vars → $XDG_*_HOME/statesync
// 3. Platform defaults → ~/.config/statesync, ~/.local/state/statesync
package paths

import (
	"os"
	"path/filepath"
)

const appName = "statesync"

// baseDir picks the portable root subdirectory, the XDG override, or the
// home-relative fallback, in that order.
func baseDir(portableSub, xdgEnv string, fallback ...string) string {
	if home := os.Getenv("STATESYNC_HOME"); home != "" {
		return filepath.Join(home, portableSub)
	}
	if dir := os.Getenv(xdgEnv); dir != "" {
		return filepath.Join(dir, appName)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append(append([]string{homeDir}, fallback...), appName)...)
}

// ConfigDir returns the global configuration directory.
func ConfigDir() string {
	return baseDir("config", "XDG_CONFIG_HOME", ".config")
}

// StateDir returns the directory for runtime state: pid file, logs, journals.
func StateDir() string {
	return baseDir("state", "XDG_STATE_HOME", ".local", "state")
}

// RuntimeDir returns the directory for the daemon socket.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if home := os.Getenv("STATESYNC_HOME"); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return StateDir()
}

// SocketPath returns the default daemon unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "statesyncd.sock")
}

// PidFilePath returns the daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "statesyncd.pid")
}

// JournalPath returns the default signal command journal.
func JournalPath() string {
	return filepath.Join(StateDir(), "signals.db")
}

// LogDir returns the directory for daemon log files.
func LogDir() string {
	return filepath.Join(StateDir(), "logs")
}

// EnsureDirs creates all statesync directories if they don't exist.
func EnsureDirs() error {
	for _, dir := range []string{ConfigDir(), StateDir(), RuntimeDir(), LogDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
