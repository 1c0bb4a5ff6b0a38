package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/pkg/profiling"
	"github.com/grovetools/statesync/pkg/statetree"
	"github.com/grovetools/statesync/pkg/template"
	"github.com/grovetools/statesync/tui/theme"
)

// NewRenderCmd returns the command that renders a template.
func NewRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <template|->",
		Short: "Render a template against a state tree",
		Long: `Render a template file against a state tree.

The tree is either built locally from a JSON object (--state) or taken from a
live session on the daemon (--session).

Examples:
  # Render against a local JSON document
  statesync render card.html --state card.json

  # Render against a live session
  statesync render card.html --session 3f9c...
`,
		Args: cobra.ExactArgs(1),
		RunE: runRender,
	}
	cmd.Flags().String("state", "", "JSON object used to populate the root node")
	cmd.Flags().String("session", "", "Render against a live daemon session")
	cmd.Flags().Bool("raw", false, "Print markup without decoration")
	return cmd
}

func runRender(cmd *cobra.Command, args []string) error {
	src, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	var out string
	if sessionID, _ := cmd.Flags().GetString("session"); sessionID != "" {
		client, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()
		if out, err = client.Render(cmd.Context(), sessionID, string(src)); err != nil {
			return err
		}
	} else {
		statePath, _ := cmd.Flags().GetString("state")
		if out, err = renderLocal(string(src), statePath); err != nil {
			return err
		}
	}

	raw, _ := cmd.Flags().GetBool("raw")
	if raw || !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}

	box := theme.DefaultTheme.Box
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 4 {
		box = box.MaxWidth(width)
	}
	fmt.Fprintln(cmd.OutOrStdout(), box.Render(out))
	return nil
}

// renderLocal renders src against a fresh tree populated from statePath.
func renderLocal(src, statePath string) (string, error) {
	parse := profiling.Start("parse template")
	tmpl, err := template.Parse(src)
	parse.Stop()
	if err != nil {
		return "", err
	}

	tree := statetree.NewTree()
	if statePath != "" {
		defer profiling.Start("populate state").Stop()
		data, err := os.ReadFile(statePath)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read state").WithDetail("path", statePath)
		}
		var values map[string]any
		if err := json.Unmarshal(data, &values); err != nil {
			return "", errors.Wrap(err, errors.ErrCodeMalformedJSON, "state must be a JSON object").WithDetail("path", statePath)
		}
		if err := tree.Root().Populate(values); err != nil {
			return "", err
		}
	}
	defer profiling.Start("render").Stop()
	return template.GetElement(tmpl, tree.Root()).String(), nil
}
