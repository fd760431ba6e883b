// Package shared holds styles and render helpers for the transfer view.
package shared

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Exported constants.
const (
	// DefaultPadding is the horizontal padding inside boxes.
	DefaultPadding = 2
	// ProgressBarWidth is the default width of progress bars.
	ProgressBarWidth = 40
	// MaxProgressBarWidth caps progress bars on wide terminals.
	MaxProgressBarWidth = 100
	// TickIntervalMs is the redraw interval in milliseconds.
	TickIntervalMs = 100
	// ProgressPercentageScale converts fractions to percentages.
	ProgressPercentageScale = 100

	// KeyCtrlC cancels a running batch.
	KeyCtrlC = "ctrl+c"
)

const (
	accentColorCode    = "62"
	dimColorCode       = "240"
	errorColorCode     = "196"
	highlightColorCode = "86"
	normalColorCode    = "252"
	successColorCode   = "42"
	warningColorCode   = "226"
)

//nolint:gochecknoglobals // Terminal capability detected once at startup
var colorsDisabled = detectColorsDisabled()

// ColorsDisabled reports whether rendering falls back to plain ASCII.
func ColorsDisabled() bool {
	return colorsDisabled
}

func detectColorsDisabled() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}

	return os.Getenv("TERM") == "dumb"
}

func AccentColor() lipgloss.Color    { return lipgloss.Color(accentColorCode) }
func DimColor() lipgloss.Color       { return lipgloss.Color(dimColorCode) }
func ErrorColor() lipgloss.Color     { return lipgloss.Color(errorColorCode) }
func HighlightColor() lipgloss.Color { return lipgloss.Color(highlightColorCode) }
func NormalColor() lipgloss.Color    { return lipgloss.Color(normalColorCode) }
func SuccessColor() lipgloss.Color   { return lipgloss.Color(successColorCode) }
func WarningColor() lipgloss.Color   { return lipgloss.Color(warningColorCode) }

// BoxStyle returns the style for the bordered summary box.
func BoxStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(AccentColor()).
		Padding(1, DefaultPadding)
}

// DimStyle returns the style for secondary text.
func DimStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(DimColor())
}

// ErrorStyle returns the style for error messages.
func ErrorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ErrorColor()).Bold(true)
}

// LabelStyle returns the style for labels.
func LabelStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(HighlightColor()).Bold(true)
}

// SuccessStyle returns the style for success messages.
func SuccessStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(SuccessColor()).Bold(true)
}

// WarningStyle returns the style for partial outcomes.
func WarningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(WarningColor()).Bold(true)
}

// FileItemStyle returns the style for file names.
func FileItemStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(NormalColor())
}

// FileItemErrorStyle returns the style for failed file names.
func FileItemErrorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ErrorColor())
}

// ErrorSymbol returns the marker printed before a failed file.
func ErrorSymbol() string {
	if colorsDisabled {
		return "x"
	}

	return ErrorStyle().Render("✗")
}

// SuccessSymbol returns the marker printed before a completed file.
func SuccessSymbol() string {
	if colorsDisabled {
		return "+"
	}

	return SuccessStyle().Render("✓")
}

func RenderDim(s string) string     { return render(DimStyle(), s) }
func RenderError(s string) string   { return render(ErrorStyle(), s) }
func RenderLabel(s string) string   { return render(LabelStyle(), s) }
func RenderSuccess(s string) string { return render(SuccessStyle(), s) }
func RenderWarning(s string) string { return render(WarningStyle(), s) }

func render(style lipgloss.Style, s string) string {
	if colorsDisabled {
		return s
	}

	return style.Render(s)
}
