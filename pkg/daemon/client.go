// Package daemon provides a client for the statesync daemon (statesyncd).
// When the daemon is running calls go over its Unix socket; otherwise a
// LocalClient serves what the signal journal alone can answer.
package daemon

import (
	"context"
	"time"

	"github.com/grovetools/statesync/pkg/codec"
	"github.com/grovetools/statesync/pkg/signals"
	"github.com/grovetools/statesync/pkg/statetree"
)

// Client defines the interface for interacting with statesyncd.
// Both RemoteClient (HTTP over the socket) and LocalClient (journal only)
// implement it.
type Client interface {
	// ListSessions returns every live session.
	ListSessions(ctx context.Context) ([]SessionInfo, error)

	// CreateSession starts a session. An empty id lets the daemon pick one.
	CreateSession(ctx context.Context, id, name string) (*SessionInfo, error)

	// CloseSession closes a session; drop also deletes its journal.
	CloseSession(ctx context.Context, id string, drop bool) error

	// GetTree returns a snapshot of the session's state tree.
	GetTree(ctx context.Context, id string) (*TreeSnapshot, error)

	// Apply runs typed operations atomically and returns created node ids.
	Apply(ctx context.Context, id string, ops []codec.Operation) ([]int, error)

	// Render evaluates a template against the session's root node.
	Render(ctx context.Context, id, template string) (string, error)

	// GetSignals describes the session's signal tree.
	GetSignals(ctx context.Context, id string) (*SignalState, error)

	// CommitSignal commits cmd and waits for its confirmed result.
	CommitSignal(ctx context.Context, id string, cmd signals.Command) (*SignalResult, error)

	// GetConfig returns the configuration the daemon is running with.
	GetConfig(ctx context.Context) (*RunningConfig, error)

	// StreamState subscribes to real-time updates. A non-empty sessionID
	// filters session-scoped updates to that session.
	StreamState(ctx context.Context, sessionID string) (<-chan StateUpdate, error)

	// IsRunning returns true if the daemon is available and responding.
	IsRunning() bool

	// Close cleans up any resources used by the client.
	Close() error
}

// SessionInfo summarizes a session.
type SessionInfo struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Nodes          int       `json:"nodes"`
	SyncID         uint64    `json:"sync_id"`
	SignalMode     string    `json:"signal_mode"`
	PendingSignals int       `json:"pending_signals"`
}

// TreeSnapshot is a session's state tree at a sync id.
type TreeSnapshot struct {
	SyncID uint64                  `json:"sync_id"`
	Tree   *statetree.NodeSnapshot `json:"tree"`
}

// SignalState describes a signal tree.
type SignalState struct {
	Value     any `json:"value"`
	Submitted any `json:"submitted"`
	Nodes     int `json:"nodes"`
	Pending   int `json:"pending"`
}

// SignalResult is the outcome of a committed command.
type SignalResult struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// SignalEvent describes a confirmed command seen on the stream.
type SignalEvent struct {
	CommandID string `json:"command_id"`
	Command   string `json:"command"`
	Target    string `json:"target,omitempty"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
}

// RunningConfig is the configuration reported by GET /api/config.
type RunningConfig struct {
	FlushInterval time.Duration `json:"flush_interval"`
	SignalMode    string        `json:"signal_mode"`
	FragmentSize  int           `json:"fragment_size"`
	Journal       string        `json:"journal,omitempty"`
	Listen        string        `json:"listen,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
}

// StateUpdate represents an update pushed from the daemon to subscribers.
type StateUpdate struct {
	UpdateType string             `json:"update_type"` // "initial", "sessions", "changes", "signals", "config_reload"
	Source     string             `json:"source,omitempty"`
	SessionID  string             `json:"session_id,omitempty"`
	Sessions   []SessionInfo      `json:"sessions,omitempty"`
	Sync       *codec.SyncMessage `json:"sync,omitempty"`
	Signal     *SignalEvent       `json:"signal,omitempty"`
	ConfigFile string             `json:"config_file,omitempty"`
}
