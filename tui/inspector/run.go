package inspector

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/grovetools/statesync/tui"
)

// Run starts the inspector full-screen and blocks until the user quits.
func Run(ctx context.Context, src Source) error {
	tui.InitializeTUI()
	p := tea.NewProgram(New(ctx, src), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
