package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovetools/statesync/cli"
	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/pkg/codec"
	"github.com/grovetools/statesync/pkg/daemon"
	"github.com/grovetools/statesync/pkg/signals"
	"github.com/grovetools/statesync/tui/components/table"
	"github.com/grovetools/statesync/tui/theme"
)

// NewSessionsCmd returns the sessions command and its subcommands.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session", "s"},
		Short:   "List and manage daemon sessions",
		Long: `List live sessions, or manage one with a subcommand.

Examples:
  # List sessions
  statesync sessions

  # Create a session and put a property on its root node
  statesync sessions create --name demo
  echo '[{"op":"put","node":1,"key":"title","value":"Hello"}]' | statesync sessions apply <id> -

  # Bump a counter held in the signal tree
  statesync sessions commit <id> --increment 1
`,
		Args: cobra.NoArgs,
		RunE: runListSessions,
	}

	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionCloseCmd())
	cmd.AddCommand(newSessionTreeCmd())
	cmd.AddCommand(newSessionApplyCmd())
	cmd.AddCommand(newSessionSignalsCmd())
	cmd.AddCommand(newSessionCommitCmd())

	return cmd
}

func runListSessions(cmd *cobra.Command, args []string) error {
	client, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	sessions, err := client.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(cmd.OutOrStdout(), sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), theme.DefaultTheme.Muted.Render("No sessions"))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), sessionTable(sessions, time.Now()))
	if !client.IsRunning() {
		fmt.Fprintln(cmd.OutOrStdout(), theme.DefaultTheme.Muted.Render("Daemon stopped; showing journaled sessions"))
	}
	return nil
}

func sessionTable(sessions []daemon.SessionInfo, now time.Time) string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		age := "-"
		if !s.CreatedAt.IsZero() {
			age = now.Sub(s.CreatedAt).Truncate(time.Second).String()
		}
		rows = append(rows, []string{
			s.ID,
			s.Name,
			strconv.Itoa(s.Nodes),
			strconv.FormatUint(s.SyncID, 10),
			s.SignalMode,
			strconv.Itoa(s.PendingSignals),
			age,
		})
	}
	return table.SimpleTable([]string{"ID", "NAME", "NODES", "SYNC", "SIGNALS", "PENDING", "AGE"}, rows)
}

func newSessionCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			id, _ := cmd.Flags().GetString("id")
			name, _ := cmd.Flags().GetString("name")
			info, err := client.CreateSession(cmd.Context(), id, name)
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.ID)
			return nil
		},
	}
	cmd.Flags().String("id", "", "Session id (default: generated)")
	cmd.Flags().String("name", "", "Human-readable session name")
	return cmd
}

func newSessionCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			drop, _ := cmd.Flags().GetBool("drop")
			if err := client.CloseSession(cmd.Context(), args[0], drop); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Closed %s\n", theme.DefaultTheme.Success.Render("✓"), args[0])
			return nil
		},
	}
	cmd.Flags().Bool("drop", false, "Also delete the session's journaled signal commands")
	return cmd
}

func newSessionTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <id>",
		Short: "Print a session's state tree as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			tree, err := client.GetTree(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tree)
		},
	}
}

func newSessionApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <id> <ops.json|->",
		Short: "Apply a JSON array of operations atomically",
		Long: `Apply a JSON array of operations to a session's state tree. Either every
operation succeeds or none is applied. Pass - to read the array from stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			var ops []codec.Operation
			if err := json.Unmarshal(data, &ops); err != nil {
				return errors.Wrap(err, errors.ErrCodeMalformedJSON, "operations must be a JSON array")
			}

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			created, err := client.Apply(cmd.Context(), args[0], ops)
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd.OutOrStdout(), map[string][]int{"created": created})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Applied %d operations", theme.DefaultTheme.Success.Render("✓"), len(ops))
			if len(created) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (created nodes %v)", created)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}

func newSessionSignalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signals <id>",
		Short: "Show a session's signal tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			state, err := client.GetSignals(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), state)
		},
	}
}

func newSessionCommitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit <id> [command-json]",
		Short: "Commit a signal command",
		Long: `Commit a signal command and wait for its confirmed result.

The command is either a JSON object such as
  {"type":"put","target":"00000000000000000000000000","key":"k","value":1}
or one of the --set and --increment shortcuts, which address the root node.
A missing "id" is generated.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := commandFromArgs(cmd, args[1:])
			if err != nil {
				return err
			}

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			result, err := client.CommitSignal(cmd.Context(), args[0], command)
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd.OutOrStdout(), result)
			}
			t := theme.DefaultTheme
			if result.Accepted {
				fmt.Fprintf(cmd.OutOrStdout(), "%s Accepted %s\n", t.Success.Render("✓"), result.ID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Rejected %s: %s\n", t.Error.Render("✗"), result.ID, result.Reason)
			return ExitCode(1)
		},
	}
	cmd.Flags().String("set", "", "Set the root value (parsed as JSON, or taken as a string)")
	cmd.Flags().Float64("increment", 0, "Add to the numeric root value")
	return cmd
}

func commandFromArgs(cmd *cobra.Command, args []string) (signals.Command, error) {
	if len(args) == 1 {
		return parseCommand([]byte(args[0]))
	}
	if cmd.Flags().Changed("set") {
		raw, _ := cmd.Flags().GetString("set")
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		return signals.WriteRoot(value), nil
	}
	if cmd.Flags().Changed("increment") {
		delta, _ := cmd.Flags().GetFloat64("increment")
		return &signals.IncrementCommand{ID: signals.NewID(), Target: signals.ZeroID, Delta: delta}, nil
	}
	return nil, errors.New(errors.ErrCodeInvalidInput, "pass a command as JSON, --set or --increment")
}

// parseCommand decodes a command, filling in a fresh id when none is given.
func parseCommand(data []byte) (signals.Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedJSON, "signal command must be a JSON object")
	}
	if _, ok := fields["id"]; !ok {
		id, _ := json.Marshal(signals.NewID().String())
		fields["id"] = id
		data, _ = json.Marshal(fields)
	}
	return signals.UnmarshalCommand(data)
}

func readInput(stdin io.Reader, arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read input").WithDetail("path", arg)
	}
	return data, nil
}
