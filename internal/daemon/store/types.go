// Package store holds the daemon's sync sessions and fans their updates out
// to subscribers.
package store

import (
	"time"
)

// UpdateType defines what kind of data changed.
type UpdateType string

const (
	UpdateSessions     UpdateType = "sessions"
	UpdateChanges      UpdateType = "changes"
	UpdateSignals      UpdateType = "signals"
	UpdateConfigReload UpdateType = "config_reload"
)

// Update represents a change published by a collector or the store itself.
type Update struct {
	Type      UpdateType
	Source    string // Which collector sent this update (e.g., "flush", "signals")
	SessionID string
	Payload   interface{}
}

// SignalEvent describes a confirmed signal command.
type SignalEvent struct {
	CommandID string `json:"command_id"`
	Command   string `json:"command"`
	Target    string `json:"target,omitempty"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
}

// SessionInfo is the JSON summary of a session.
type SessionInfo struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Nodes          int       `json:"nodes"`
	SyncID         uint64    `json:"sync_id"`
	SignalMode     string    `json:"signal_mode"`
	PendingSignals int       `json:"pending_signals"`
}
