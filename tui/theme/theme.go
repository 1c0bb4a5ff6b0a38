package theme

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/statesync/config"
)

const defaultThemeName = "kanagawa"

// Colors is the palette a Theme is built from.
type Colors struct {
	Green     lipgloss.TerminalColor
	Yellow    lipgloss.TerminalColor
	Red       lipgloss.TerminalColor
	Orange    lipgloss.TerminalColor
	Cyan      lipgloss.TerminalColor
	Violet    lipgloss.TerminalColor
	LightText lipgloss.TerminalColor
	MutedText lipgloss.TerminalColor
	Border    lipgloss.TerminalColor
	Selection lipgloss.TerminalColor
}

// Theme holds the lipgloss styles shared by the CLI, the log formatter and the inspector.
type Theme struct {
	Colors Colors

	Header   lipgloss.Style
	Title    lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Info     lipgloss.Style
	Muted    lipgloss.Style
	Selected lipgloss.Style
	Accent   lipgloss.Style
	Key      lipgloss.Style
	Value    lipgloss.Style
	Box      lipgloss.Style
}

var themeRegistry = map[string]func() Colors{
	"kanagawa": newKanagawaColors,
	"terminal": newTerminalColors,
}

// DefaultTheme is resolved once from STATESYNC_THEME or the "tui" config extension.
var DefaultTheme = NewThemeWithName(getThemeName())

// NewThemeWithName constructs a theme from a palette name, falling back to the default palette.
func NewThemeWithName(name string) *Theme {
	builder, ok := themeRegistry[normalizeThemeName(name)]
	if !ok {
		builder = themeRegistry[defaultThemeName]
	}
	return newThemeFromColors(builder())
}

// RenderHeader renders a header with the default styling.
func RenderHeader(title string) string {
	return DefaultTheme.Header.Render(title)
}

// RenderStatus renders text with the appropriate status style.
func RenderStatus(status, text string) string {
	switch status {
	case "success":
		return DefaultTheme.Success.Render(text)
	case "error":
		return DefaultTheme.Error.Render(text)
	case "warning":
		return DefaultTheme.Warning.Render(text)
	case "info":
		return DefaultTheme.Info.Render(text)
	default:
		return text
	}
}

func newThemeFromColors(colors Colors) *Theme {
	return &Theme{
		Colors: colors,

		Header: lipgloss.NewStyle().
			Bold(true).
			MarginBottom(1),

		Title: lipgloss.NewStyle().
			Bold(true).
			Underline(true),

		Success: lipgloss.NewStyle().
			Foreground(colors.Green).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(colors.Red).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(colors.Yellow).
			Bold(true),

		Info: lipgloss.NewStyle().
			Foreground(colors.Cyan),

		Muted: lipgloss.NewStyle().
			Foreground(colors.MutedText),

		Selected: lipgloss.NewStyle().
			Background(colors.Selection).
			Foreground(colors.LightText).
			Bold(true),

		Accent: lipgloss.NewStyle().
			Foreground(colors.Violet).
			Bold(true),

		Key: lipgloss.NewStyle().
			Foreground(colors.MutedText),

		Value: lipgloss.NewStyle().
			Foreground(colors.Orange),

		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colors.Border).
			Padding(0, 1),
	}
}

func normalizeThemeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	return normalized
}

func getThemeName() string {
	if theme := normalizeThemeName(os.Getenv("STATESYNC_THEME")); theme != "" {
		return theme
	}

	cfg, err := config.LoadDefault()
	if err != nil || cfg == nil {
		return defaultThemeName
	}

	var tuiCfg struct {
		Theme string `yaml:"theme"`
	}
	if err := cfg.UnmarshalExtension("tui", &tuiCfg); err == nil {
		if theme := normalizeThemeName(tuiCfg.Theme); theme != "" {
			return theme
		}
	}
	return defaultThemeName
}

func newKanagawaColors() Colors {
	return Colors{
		Green:     lipgloss.AdaptiveColor{Light: "#4E7C5A", Dark: "#98BB6C"},
		Yellow:    lipgloss.AdaptiveColor{Light: "#A68A64", Dark: "#FF9E3B"},
		Red:       lipgloss.AdaptiveColor{Light: "#C34043", Dark: "#FF5D62"},
		Orange:    lipgloss.AdaptiveColor{Light: "#CC6B4E", Dark: "#FFA066"},
		Cyan:      lipgloss.AdaptiveColor{Light: "#5B8BBE", Dark: "#7E9CD8"},
		Violet:    lipgloss.AdaptiveColor{Light: "#674D7A", Dark: "#957FB8"},
		LightText: lipgloss.AdaptiveColor{Light: "#2B2F42", Dark: "#DCD7BA"},
		MutedText: lipgloss.AdaptiveColor{Light: "#6C7086", Dark: "#727169"},
		Border:    lipgloss.AdaptiveColor{Light: "#B5BDC5", Dark: "#363646"},
		Selection: lipgloss.AdaptiveColor{Light: "#E2E6F3", Dark: "#223249"},
	}
}

func newTerminalColors() Colors {
	return Colors{
		Green:     lipgloss.Color("2"),
		Yellow:    lipgloss.Color("3"),
		Red:       lipgloss.Color("1"),
		Orange:    lipgloss.Color("11"),
		Cyan:      lipgloss.Color("6"),
		Violet:    lipgloss.Color("5"),
		LightText: lipgloss.Color("7"),
		MutedText: lipgloss.Color("8"),
		Border:    lipgloss.Color("8"),
		Selection: lipgloss.Color("4"),
	}
}
