package main

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/grovetools/statesync/cli"
	"github.com/grovetools/statesync/cmd"
	"github.com/grovetools/statesync/pkg/profiling"
	"github.com/grovetools/statesync/version"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"statesync",
		"Server-side state trees synchronized to clients over a push channel",
	)
	cli.SetVersionTemplate(rootCmd, version.GetInfo())

	profiler := profiling.NewCobraProfiler()
	profiler.AddFlags(rootCmd)
	rootCmd.PersistentPreRunE = profiler.PreRun
	rootCmd.PersistentPostRunE = profiler.PostRun

	rootCmd.AddCommand(cmd.NewServeCmd())
	rootCmd.AddCommand(cmd.NewStopCmd())
	rootCmd.AddCommand(cmd.NewStatusCmd())
	rootCmd.AddCommand(cmd.NewSessionsCmd())
	rootCmd.AddCommand(cmd.NewRenderCmd())
	rootCmd.AddCommand(cmd.NewInspectCmd())
	rootCmd.AddCommand(cmd.NewLogsCmd())
	rootCmd.AddCommand(cmd.NewSchemaCmd())
	rootCmd.AddCommand(cmd.NewPathsCmd())
	rootCmd.AddCommand(cli.NewVersionCommand("statesync", version.GetInfo()))

	cli.AddHelpSection(rootCmd, cli.HelpSection{Title: "ENVIRONMENT", Rows: [][2]string{
		{"STATESYNC_HOME", "Keep config, state, socket and logs under one directory"},
		{"STATESYNC_LOG_LEVEL", "Minimum log level (debug, info, warn, error)"},
		{"STATESYNC_LOG_FILE", "Set to 'off' to disable the daemon log file"},
		{"STATESYNC_THEME", "Color theme (kanagawa, terminal)"},
	}})
	cli.ApplyStyledHelp(rootCmd)

	os.Exit(execute(rootCmd))
}

func execute(rootCmd *cobra.Command) int {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}
	var code cmd.ExitCode
	if stderrors.As(err, &code) {
		return int(code)
	}
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	cli.NewErrorHandler(verbose).Handle(err)
	return 1
}
