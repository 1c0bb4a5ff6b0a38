package cmd

import (
	"github.com/spf13/cobra"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/tui/inspector"
)

// NewInspectCmd returns the command that opens the live inspector.
func NewInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Browse live sessions in a terminal UI",
		Long: `Open a terminal UI that follows the daemon: the session list, the selected
session's state tree and signal value, and updates as they are flushed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()
			if !client.IsRunning() {
				return errors.DaemonNotRunning("inspect")
			}
			return inspector.Run(cmd.Context(), client)
		},
	}
}
