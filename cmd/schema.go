package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovetools/statesync/config"
	"github.com/grovetools/statesync/logging"
	"github.com/grovetools/statesync/pkg/paths"
)

// NewSchemaCmd returns the command that prints the configuration JSON schema.
func NewSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema for statesync.yml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// PathsOutput lists the locations statesync reads and writes.
type PathsOutput struct {
	ConfigDir string `json:"config_dir"`
	StateDir  string `json:"state_dir"`
	Socket    string `json:"socket"`
	PidFile   string `json:"pid_file"`
	Journal   string `json:"journal"`
	LogFile   string `json:"log_file"`
}

// NewPathsCmd returns the command that prints statesync's paths as JSON.
func NewPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the paths used by statesync",
		Long: `Print the paths used by statesync as JSON.

Set STATESYNC_HOME to move everything under one directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), PathsOutput{
				ConfigDir: paths.ConfigDir(),
				StateDir:  paths.StateDir(),
				Socket:    paths.SocketPath(),
				PidFile:   paths.PidFilePath(),
				Journal:   paths.JournalPath(),
				LogFile:   logging.LogFilePath(),
			})
		},
	}
}
