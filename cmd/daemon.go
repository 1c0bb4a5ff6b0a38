package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovetools/statesync/cli"
	"github.com/grovetools/statesync/internal/daemon/pidfile"
	"github.com/grovetools/statesync/pkg/daemon"
	"github.com/grovetools/statesync/pkg/paths"
	"github.com/grovetools/statesync/pkg/process"
	"github.com/grovetools/statesync/tui/components/table"
	"github.com/grovetools/statesync/tui/theme"
)

// DaemonStatus is the output of `statesync status --json`.
type DaemonStatus struct {
	Running       bool          `json:"running"`
	PID           int           `json:"pid,omitempty"`
	Socket        string        `json:"socket"`
	Sessions      int           `json:"sessions"`
	SignalMode    string        `json:"signal_mode,omitempty"`
	Journal       string        `json:"journal,omitempty"`
	FlushInterval time.Duration `json:"flush_interval,omitempty"`
	Uptime        string        `json:"uptime,omitempty"`
}

// NewStopCmd returns the command that stops a running daemon.
func NewStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
				return nil
			}

			timeout, _ := cmd.Flags().GetDuration("timeout")
			if err := process.Terminate(pid, timeout); err != nil {
				return fmt.Errorf("failed to stop daemon: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Stopped daemon (PID %d)\n", theme.DefaultTheme.Success.Render("✓"), pid)
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 10*time.Second, "How long to wait for the daemon to exit")
	return cmd
}

// NewStatusCmd returns the command that reports daemon status.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon status",
		Long: `Report whether the daemon is running and what it is serving.

Exits with status 1 when the daemon is stopped, which makes it usable in scripts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}

			cfg, _, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			client := daemon.NewAt(socketPath(cfg), cfg.JournalPath())
			defer client.Close()

			status := DaemonStatus{
				Running: running && client.IsRunning(),
				PID:     pid,
				Socket:  socketPath(cfg),
			}

			if status.Running {
				ctx := cmd.Context()
				if rc, err := client.GetConfig(ctx); err == nil {
					status.SignalMode = rc.SignalMode
					status.Journal = rc.Journal
					status.FlushInterval = rc.FlushInterval
					status.Uptime = time.Since(rc.StartedAt).Truncate(time.Second).String()
				}
				if sessions, err := client.ListSessions(ctx); err == nil {
					status.Sessions = len(sessions)
				}
			}

			if cli.GetOptions(cmd).JSONOutput {
				if err := printJSON(cmd.OutOrStdout(), status); err != nil {
					return err
				}
			} else {
				printStatus(cmd, status)
			}
			if !status.Running {
				return ExitCode(1)
			}
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, s DaemonStatus) {
	t := theme.DefaultTheme
	if !s.Running {
		fmt.Fprintln(cmd.OutOrStdout(), t.Warning.Render("Stopped"))
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Success.Render("Running"))
	fmt.Fprintln(cmd.OutOrStdout(), table.StatusTable([][]string{
		{"PID", strconv.Itoa(s.PID)},
		{"Socket", s.Socket},
		{"Uptime", s.Uptime},
		{"Sessions", strconv.Itoa(s.Sessions)},
		{"Signal mode", s.SignalMode},
		{"Flush interval", s.FlushInterval.String()},
		{"Journal", orNone(s.Journal)},
	}))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
