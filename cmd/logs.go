package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/grovetools/statesync/cli"
	"github.com/grovetools/statesync/logging"
)

// NewLogsCmd returns the command that prints daemon logs.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon logs",
		Long: `Print today's daemon log file.

Examples:
  # Follow the log
  statesync logs -f

  # Last 50 lines mentioning a session, as JSON Lines
  statesync logs -n 50 --grep 3f9c --json
`,
		Args: cobra.NoArgs,
		RunE: runLogs,
	}
	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().IntP("lines", "n", -1, "Number of lines to show from the end of the log (default: all)")
	cmd.Flags().String("grep", "", "Only show lines containing this text")
	cmd.Flags().String("file", "", "Log file to read (default: today's daemon log)")
	return cmd
}

func runLogs(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		path = logging.LogFilePath()
	}
	if path == "" {
		return fmt.Errorf("file logging is disabled")
	}
	follow, _ := cmd.Flags().GetBool("follow")
	lines, _ := cmd.Flags().GetInt("lines")
	filter, _ := cmd.Flags().GetString("grep")
	emit := lineEmitter(cmd.OutOrStdout(), path, filter, cli.GetOptions(cmd).JSONOutput)

	if _, err := os.Stat(path); err != nil && !follow {
		return fmt.Errorf("no log file at %s", path)
	}

	var offset int64
	if lines >= 0 {
		var err error
		if offset, err = tailOffset(path, lines); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: !follow,
		Location:  &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
		Logger:    stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer t.Cleanup()

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				continue
			}
			emit(line.Text)
		}
	}
}

// lineEmitter filters log lines and prints them as text or JSON Lines.
func lineEmitter(w io.Writer, path, filter string, asJSON bool) func(string) {
	return func(text string) {
		if filter != "" && !strings.Contains(text, filter) {
			return
		}
		if !asJSON {
			fmt.Fprintln(w, text)
			return
		}
		// JSON-formatted logs pass through; text lines are wrapped.
		if json.Valid([]byte(text)) {
			fmt.Fprintln(w, text)
			return
		}
		data, _ := json.Marshal(map[string]string{"file": path, "line": text})
		fmt.Fprintln(w, string(data))
	}
}

// tailOffset returns the byte offset where the last n lines of path begin.
func tailOffset(path string, n int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var offsets []int64
	var pos int64
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			offsets = append(offsets, pos)
			pos += int64(len(line))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if n >= len(offsets) {
		return 0, nil
	}
	if n == 0 {
		return pos, nil
	}
	return offsets[len(offsets)-n], nil
}
