package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/grovetools/statesync/tui/theme"
)

// HelpSection is an extra block of name/description rows printed at the
// end of a command's help, such as the environment variables it reads.
type HelpSection struct {
	Title string
	Rows  [][2]string
}

var (
	helpSections   = make(map[*cobra.Command][]HelpSection)
	helpSectionsMu sync.RWMutex
)

const (
	maxHelpWidth = 72
	minHelpWidth = 40
)

// ApplyStyledHelp installs the styled help page on cmd and every
// subcommand. Call it after all subcommands have been added. Usage output
// on errors is suppressed; ErrorHandler reports those.
func ApplyStyledHelp(cmd *cobra.Command) {
	cmd.SetHelpFunc(func(c *cobra.Command, _ []string) {
		RenderHelp(c.OutOrStdout(), c, theme.DefaultTheme, helpWidth())
	})
	cmd.SetUsageFunc(func(*cobra.Command) error { return nil })
	for _, sub := range cmd.Commands() {
		ApplyStyledHelp(sub)
	}
}

// AddHelpSection appends section to cmd's help page.
func AddHelpSection(cmd *cobra.Command, section HelpSection) {
	helpSectionsMu.Lock()
	defer helpSectionsMu.Unlock()
	helpSections[cmd] = append(helpSections[cmd], section)
}

func helpWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return maxHelpWidth
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width < minHelpWidth {
		return maxHelpWidth
	}
	return min(width, maxHelpWidth)
}

type helpPage struct {
	w       io.Writer
	t       *theme.Theme
	width   int
	heading lipgloss.Style
	name    lipgloss.Style
	flag    lipgloss.Style
	arg     lipgloss.Style
}

// RenderHelp writes the help page for cmd to w, wrapping prose at width.
func RenderHelp(w io.Writer, cmd *cobra.Command, t *theme.Theme, width int) {
	p := &helpPage{
		w:       w,
		t:       t,
		width:   width - 1,
		heading: lipgloss.NewStyle().Italic(true).Foreground(t.Colors.Orange),
		name:    lipgloss.NewStyle().Bold(true).Foreground(t.Colors.Cyan),
		flag:    lipgloss.NewStyle().Foreground(t.Colors.Violet),
		arg:     lipgloss.NewStyle().Foreground(t.Colors.Green),
	}

	title := lipgloss.NewStyle().Bold(true).Foreground(t.Colors.Orange)
	p.line(title.Render(strings.ToUpper(cmd.CommandPath())))
	if cmd.Short != "" {
		p.prose(lipgloss.NewStyle().Italic(true), cmd.Short)
	}

	description, examples := parseDescription(cmd.Long)
	if description != "" && description != cmd.Short {
		fmt.Fprintln(w)
		p.prose(lipgloss.NewStyle(), description)
	}

	if cmd.Runnable() || cmd.HasSubCommands() {
		p.section("USAGE")
		if cmd.Runnable() {
			p.line(cmd.UseLine())
		}
		if cmd.HasAvailableSubCommands() {
			p.line(cmd.CommandPath() + " <command>")
		}
	}

	p.commands(cmd)
	p.flags(cmd)

	if cmd.Example != "" {
		examples = cmd.Example
	}
	if examples != "" {
		p.section("EXAMPLES")
		p.examples(examples, cmd.Root().Name())
	}

	helpSectionsMu.RLock()
	sections := helpSections[cmd]
	helpSectionsMu.RUnlock()
	for _, s := range sections {
		p.section(s.Title)
		p.rows(s.Rows, t.Accent)
	}

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(w, "\n %s\n", t.Muted.Render(fmt.Sprintf("Run '%s <command> --help' for details on a command.", cmd.CommandPath())))
	}
}

func (p *helpPage) line(s string) {
	fmt.Fprintln(p.w, " "+s)
}

func (p *helpPage) section(title string) {
	fmt.Fprintln(p.w)
	p.line(p.heading.Render(title))
}

func (p *helpPage) prose(style lipgloss.Style, text string) {
	for _, l := range strings.Split(ansi.Wordwrap(text, p.width, ""), "\n") {
		p.line(style.Render(l))
	}
}

// rows prints aligned name/description pairs.
func (p *helpPage) rows(rows [][2]string, nameStyle lipgloss.Style) {
	pad := 0
	for _, r := range rows {
		pad = max(pad, len(r[0]))
	}
	for _, r := range rows {
		p.line(nameStyle.Render(r[0]) + strings.Repeat(" ", pad-len(r[0])) + "  " + r[1])
	}
}

func (p *helpPage) commands(cmd *cobra.Command) {
	var rows [][2]string
	for _, sub := range cmd.Commands() {
		if !sub.IsAvailableCommand() {
			continue
		}
		name := sub.Name()
		if len(sub.Aliases) > 0 {
			name += " (" + strings.Join(sub.Aliases, ", ") + ")"
		}
		rows = append(rows, [2]string{name, sub.Short})
	}
	if len(rows) == 0 {
		return
	}
	p.section("COMMANDS")
	p.rows(rows, p.name)
}

func (p *helpPage) flags(cmd *cobra.Command) {
	var local []*pflag.Flag
	cmd.LocalFlags().VisitAll(func(f *pflag.Flag) {
		if !f.Hidden && f.Name != "help" {
			local = append(local, f)
		}
	})
	if len(local) == 0 {
		return
	}

	p.section("FLAGS")
	pad := 0
	for _, f := range local {
		pad = max(pad, len(flagName(f)))
	}
	for _, f := range local {
		name := flagName(f)
		usage, choices := parseChoices(f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "[]" && f.DefValue != "0" {
			usage += p.t.Muted.Render(" (default: " + f.DefValue + ")")
		}
		p.line(p.flag.Render(name) + strings.Repeat(" ", pad-len(name)) + "  " + usage)
		if len(choices) > 0 {
			p.line(strings.Repeat(" ", pad+2) + p.t.Muted.Render("one of: "+strings.Join(choices, " | ")))
		}
	}
}

// examples styles example blocks: comments muted, the root command bold,
// flags and <placeholders> colored.
func (p *helpPage) examples(text, root string) {
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		switch {
		case l == "":
			fmt.Fprintln(p.w)
		case strings.HasPrefix(l, "#"):
			p.line(p.t.Muted.Render(l))
		default:
			p.line("  " + p.styleExample(l, root))
		}
	}
}

func (p *helpPage) styleExample(l, root string) string {
	words := strings.Fields(l)
	for i, word := range words {
		switch {
		case word == root:
			words[i] = p.name.Render(word)
		case strings.HasPrefix(word, "-") && word != "-":
			words[i] = p.flag.Render(word)
		case strings.HasPrefix(word, "<") && strings.HasSuffix(word, ">"):
			words[i] = p.arg.Render(word)
		}
	}
	return strings.Join(words, " ")
}

func flagName(f *pflag.Flag) string {
	if f.Shorthand != "" {
		return fmt.Sprintf("-%s, --%s", f.Shorthand, f.Name)
	}
	return "    --" + f.Name
}

// parseDescription splits a long description at its "Examples:" line.
func parseDescription(long string) (description, examples string) {
	for _, marker := range []string{"\nExamples:\n", "\nExample:\n"} {
		if i := strings.Index(long, marker); i != -1 {
			return strings.TrimSpace(long[:i]), strings.TrimSpace(long[i+len(marker):])
		}
	}
	return strings.TrimSpace(long), ""
}

// parseChoices splits a trailing "[a, b, c]" list off a flag usage string.
func parseChoices(usage string) (string, []string) {
	if !strings.HasSuffix(usage, "]") {
		return usage, nil
	}
	open := strings.LastIndex(usage, "[")
	if open == -1 {
		return usage, nil
	}
	var choices []string
	for _, c := range strings.Split(usage[open+1:len(usage)-1], ",") {
		if c = strings.TrimSpace(c); c != "" {
			choices = append(choices, c)
		}
	}
	if len(choices) < 2 {
		return usage, nil
	}
	return strings.TrimSpace(usage[:open]), choices
}
