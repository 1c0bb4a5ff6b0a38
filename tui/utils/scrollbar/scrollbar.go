// Package scrollbar draws a one-column scrollbar next to a viewport.
package scrollbar

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/grovetools/statesync/tui/theme"
)

const (
	thumb = "█"
	track = "░"
)

// Generate returns one scrollbar cell per line for a track of the given height.
func Generate(vp *viewport.Model, height int) []string {
	if height <= 0 {
		return nil
	}
	style := theme.DefaultTheme.Muted
	cells := make([]string, height)

	total := vp.TotalLineCount()
	switch {
	case total == 0:
		fill(cells, style, " ")
		return cells
	case total <= vp.Height:
		fill(cells, style, thumb)
		return cells
	}

	size := (height * vp.Height) / total
	if size < 1 {
		size = 1
	}
	percent := vp.ScrollPercent()
	if percent < 0 {
		percent = 0
	} else if percent > 1 {
		percent = 1
	}
	maxStart := height - size
	start := int(float64(maxStart)*percent + 0.5)
	if start > maxStart {
		start = maxStart
	}

	for i := range cells {
		if i >= start && i < start+size {
			cells[i] = style.Render(thumb)
		} else {
			cells[i] = style.Render(track)
		}
	}
	return cells
}

// Overlay renders the viewport with the scrollbar appended to each line.
func Overlay(vp *viewport.Model) string {
	lines := strings.Split(vp.View(), "\n")
	cells := Generate(vp, len(lines))
	for i := range lines {
		lines[i] += cells[i]
	}
	return strings.Join(lines, "\n")
}

func fill(cells []string, style lipgloss.Style, s string) {
	for i := range cells {
		cells[i] = style.Render(s)
	}
}
