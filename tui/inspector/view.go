package inspector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/grovetools/statesync/tui/theme"
	"github.com/grovetools/statesync/tui/utils/scrollbar"
)

// View renders the session list beside the detail pane.
func (m *Model) View() string {
	if m.width < 50 || m.height < 10 {
		return "Terminal too small. Please resize."
	}
	t := theme.DefaultTheme

	header := t.Accent.Render("STATESYNC INSPECTOR")
	if m.disconnected {
		header += "  " + t.Error.Render("disconnected")
	}

	bodyHeight := m.height - 4
	list := m.paneStyle(sessionPane).
		Width(sessionPaneWidth).
		Height(bodyHeight).
		Render(m.sessionList(bodyHeight))
	detail := m.paneStyle(detailPane).
		Height(bodyHeight).
		Render(scrollbar.Overlay(&m.viewport))

	footer := m.help.View(m.keys)
	if m.err != nil {
		footer = t.Error.Render(m.err.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, list, detail),
		footer,
	)
}

func (m *Model) paneStyle(p pane) lipgloss.Style {
	border := theme.DefaultTheme.Colors.Border
	if m.focus == p {
		border = theme.DefaultTheme.Colors.Orange
	}
	return lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border)
}

func (m *Model) sessionList(height int) string {
	t := theme.DefaultTheme
	if len(m.sessions) == 0 {
		return t.Muted.Render("No sessions")
	}

	start := 0
	if m.cursor >= height {
		start = m.cursor - height + 1
	}
	var lines []string
	for i := start; i < len(m.sessions) && i < start+height; i++ {
		s := m.sessions[i]
		label := s.Name
		if label == "" {
			label = short(s.ID)
		}
		line := fmt.Sprintf("%-18s %4d", truncate(label, 18), s.Nodes)
		if i == m.cursor {
			line = t.Selected.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// refreshViewport re-renders the detail pane's content.
func (m *Model) refreshViewport() {
	if m.showEvents {
		if len(m.events) == 0 {
			m.viewport.SetContent(theme.DefaultTheme.Muted.Render("No events yet"))
			return
		}
		m.viewport.SetContent(strings.Join(m.events, "\n"))
		return
	}
	m.viewport.SetContent(m.detailContent())
}

func (m *Model) detailContent() string {
	t := theme.DefaultTheme
	if m.selected == "" {
		return t.Muted.Render("Select a session")
	}
	if m.tree == nil {
		return t.Muted.Render("Loading " + m.selected + "...")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", t.Key.Render("session"), m.selected)
	fmt.Fprintf(&b, "%s %d\n", t.Key.Render("sync id"), m.tree.SyncID)
	if m.signals != nil {
		value, _ := json.Marshal(m.signals.Value)
		fmt.Fprintf(&b, "%s %s", t.Key.Render("signal"), t.Value.Render(string(value)))
		if m.signals.Pending > 0 {
			fmt.Fprintf(&b, " %s", t.Warning.Render(fmt.Sprintf("(%d pending)", m.signals.Pending)))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(Outline(m.tree.Tree))
	return b.String()
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
