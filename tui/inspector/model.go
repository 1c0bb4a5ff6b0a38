// Package inspector is a terminal UI that follows a running daemon: its
// sessions, the selected session's state tree and signal value, and the
// stream of updates as they arrive.
package inspector

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/grovetools/statesync/pkg/daemon"
)

// Source is what the inspector reads from. daemon.Client satisfies it.
type Source interface {
	GetTree(ctx context.Context, id string) (*daemon.TreeSnapshot, error)
	GetSignals(ctx context.Context, id string) (*daemon.SignalState, error)
	StreamState(ctx context.Context, sessionID string) (<-chan daemon.StateUpdate, error)
}

type pane int

const (
	sessionPane pane = iota
	detailPane
)

const maxEvents = 200

// Model represents the state of the inspector TUI.
type Model struct {
	ctx     context.Context
	src     Source
	updates <-chan daemon.StateUpdate

	keys     KeyMap
	help     help.Model
	viewport viewport.Model

	sessions []daemon.SessionInfo
	cursor   int
	selected string
	tree     *daemon.TreeSnapshot
	signals  *daemon.SignalState
	events   []string

	focus        pane
	showEvents   bool
	width        int
	height       int
	err          error
	disconnected bool
	now          func() time.Time
}

// New creates an inspector reading from src. ctx bounds every request and
// the update stream.
func New(ctx context.Context, src Source) *Model {
	return &Model{
		ctx:      ctx,
		src:      src,
		keys:     DefaultKeyMap,
		help:     help.New(),
		viewport: viewport.New(0, 0),
		now:      time.Now,
	}
}

// Selected returns the id of the selected session.
func (m *Model) Selected() string {
	return m.selected
}

type connectedMsg struct{ updates <-chan daemon.StateUpdate }

type updateMsg struct{ update daemon.StateUpdate }

type streamClosedMsg struct{}

type detailMsg struct {
	id      string
	tree    *daemon.TreeSnapshot
	signals *daemon.SignalState
	err     error
}

type errMsg struct{ err error }

// Init subscribes to the daemon's update stream.
func (m *Model) Init() tea.Cmd {
	src, ctx := m.src, m.ctx
	return func() tea.Msg {
		ch, err := src.StreamState(ctx, "")
		if err != nil {
			return errMsg{err}
		}
		return connectedMsg{ch}
	}
}

func waitForUpdate(ch <-chan daemon.StateUpdate) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return updateMsg{u}
	}
}

func (m *Model) loadDetail(id string) tea.Cmd {
	if id == "" {
		return nil
	}
	src, ctx := m.src, m.ctx
	return func() tea.Msg {
		tree, err := src.GetTree(ctx, id)
		if err != nil {
			return detailMsg{id: id, err: err}
		}
		sig, err := src.GetSignals(ctx, id)
		return detailMsg{id: id, tree: tree, signals: sig, err: err}
	}
}

// handleUpdate folds one stream update into the model and returns the
// command that refreshes the detail pane when the update concerns it.
func (m *Model) handleUpdate(u daemon.StateUpdate) tea.Cmd {
	switch u.UpdateType {
	case "initial", "sessions":
		m.sessions = u.Sessions
		if u.UpdateType == "sessions" {
			m.logEvent(fmt.Sprintf("sessions: %d live", len(u.Sessions)))
		}
		return m.reselect()

	case "changes":
		if u.Sync != nil {
			m.logEvent(fmt.Sprintf("%s: sync %d, %d changes", short(u.SessionID), u.Sync.SyncID, len(u.Sync.Changes)))
		}
		if u.SessionID == m.selected {
			return m.loadDetail(m.selected)
		}

	case "signals":
		if s := u.Signal; s != nil {
			verdict := "accepted"
			if !s.Accepted {
				verdict = "rejected: " + s.Reason
			}
			m.logEvent(fmt.Sprintf("%s: %s %s", short(u.SessionID), s.Command, verdict))
		}
		if u.SessionID == m.selected {
			return m.loadDetail(m.selected)
		}

	case "config_reload":
		m.logEvent("config reloaded: " + u.ConfigFile)
	}
	return nil
}

// reselect keeps the cursor on the selected session when the list changes.
func (m *Model) reselect() tea.Cmd {
	for i, s := range m.sessions {
		if s.ID == m.selected {
			m.cursor = i
			return nil
		}
	}
	if m.cursor >= len(m.sessions) {
		m.cursor = len(m.sessions) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	return m.selectCursor()
}

func (m *Model) selectCursor() tea.Cmd {
	if len(m.sessions) == 0 {
		m.selected = ""
		m.tree, m.signals = nil, nil
		m.refreshViewport()
		return nil
	}
	id := m.sessions[m.cursor].ID
	if id == m.selected {
		return nil
	}
	m.selected = id
	m.tree, m.signals = nil, nil
	m.refreshViewport()
	return m.loadDetail(id)
}

func (m *Model) logEvent(text string) {
	stamp := m.now().Format("15:04:05")
	m.events = append(m.events, stamp+" "+text)
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
	if m.showEvents {
		m.refreshViewport()
		m.viewport.GotoBottom()
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
