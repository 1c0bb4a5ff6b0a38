package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/grovetools/statesync/cli"
	"github.com/grovetools/statesync/pkg/daemon"
)

// newClient connects to the daemon selected by the loaded configuration.
func newClient(cmd *cobra.Command) (daemon.Client, error) {
	cfg, _, err := cli.LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return daemon.NewAt(socketPath(cfg), cfg.JournalPath()), nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// ExitCode makes a command exit with the given status without printing an
// error message.
type ExitCode int

func (e ExitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}
