// Package table renders themed lipgloss tables for CLI output.
package table

import (
	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"

	"github.com/grovetools/statesync/tui/theme"
)

// Options configures a table.
type Options struct {
	Bordered bool
	Theme    *theme.Theme
}

// DefaultOptions returns a bordered table in the default theme.
func DefaultOptions() Options {
	return Options{Bordered: true, Theme: theme.DefaultTheme}
}

// New creates a table with headers and rows styled by opts.
func New(opts Options, headers []string, rows [][]string) *ltable.Table {
	t := opts.Theme
	if t == nil {
		t = theme.DefaultTheme
	}

	table := ltable.New()
	if opts.Bordered {
		table = table.
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(t.Colors.Border))
	} else {
		table = table.Border(lipgloss.HiddenBorder())
	}

	// Header cells come through StyleFunc as ltable.HeaderRow.
	table = table.StyleFunc(func(row, col int) lipgloss.Style {
		if row == ltable.HeaderRow {
			return lipgloss.NewStyle().Bold(true).Foreground(t.Colors.Cyan).Padding(0, 1)
		}
		return lipgloss.NewStyle().Padding(0, 1)
	})

	if len(headers) > 0 {
		table = table.Headers(headers...)
	}
	for _, r := range rows {
		table = table.Row(r...)
	}
	return table
}

// SimpleTable renders a bordered table.
func SimpleTable(headers []string, rows [][]string) string {
	return New(DefaultOptions(), headers, rows).String()
}

// StatusTable renders label/value pairs without a border.
func StatusTable(items [][]string) string {
	t := theme.DefaultTheme
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		if len(item) >= 2 {
			rows = append(rows, []string{t.Muted.Render(item[0] + ":"), item[1]})
		}
	}
	return New(Options{Theme: t}, nil, rows).String()
}
