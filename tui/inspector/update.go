package inspector

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

const sessionPaneWidth = 32

// Update handles messages and updates the model accordingly.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resize()
		return m, nil

	case connectedMsg:
		m.updates = msg.updates
		m.disconnected = false
		return m, waitForUpdate(m.updates)

	case updateMsg:
		return m, tea.Batch(m.handleUpdate(msg.update), waitForUpdate(m.updates))

	case streamClosedMsg:
		m.disconnected = true
		return m, nil

	case detailMsg:
		if msg.id != m.selected {
			return m, nil
		}
		m.tree, m.signals, m.err = msg.tree, msg.signals, msg.err
		m.refreshViewport()
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.help.ShowAll && !key.Matches(msg, m.keys.Quit) {
		m.help.ShowAll = false
		return nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = true

	case key.Matches(msg, m.keys.Switch):
		if m.focus == sessionPane {
			m.focus = detailPane
		} else {
			m.focus = sessionPane
		}

	case key.Matches(msg, m.keys.Events):
		m.showEvents = !m.showEvents
		m.refreshViewport()
		if m.showEvents {
			m.viewport.GotoBottom()
		}

	case key.Matches(msg, m.keys.Refresh):
		return m.loadDetail(m.selected)

	case key.Matches(msg, m.keys.Up):
		if m.focus == detailPane {
			m.viewport.LineUp(1)
			return nil
		}
		if m.cursor > 0 {
			m.cursor--
			return m.selectCursor()
		}

	case key.Matches(msg, m.keys.Down):
		if m.focus == detailPane {
			m.viewport.LineDown(1)
			return nil
		}
		if m.cursor < len(m.sessions)-1 {
			m.cursor++
			return m.selectCursor()
		}

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
	}
	return nil
}

// resize fits the viewport to the detail pane: the width left of the
// session list minus borders, and the height minus header, footer and borders.
func (m *Model) resize() {
	w := m.width - sessionPaneWidth - 5
	h := m.height - 4
	if w < 10 {
		w = 10
	}
	if h < 3 {
		h = 3
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.refreshViewport()
}
