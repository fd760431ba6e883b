package shared

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
)

// NewProgressModel creates a progress bar of width cells. Percentages are
// rendered by the caller.
func NewProgressModel(width int) progress.Model {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = width
	bar.ShowPercentage = false

	if !colorsDisabled {
		bar.EmptyColor = dimColorCode
		bar.FullColor = accentColorCode
	}

	return bar
}

// BarWidth picks a bar width for a terminal of termWidth columns.
func BarWidth(termWidth int) int {
	if termWidth <= 0 {
		return ProgressBarWidth
	}

	return min(max(termWidth-2*DefaultPadding-10, 10), MaxProgressBarWidth) //nolint:mnd // Room for the percentage
}

// RenderASCIIProgress renders fraction (0-1) as "[=========>          ] 45%".
func RenderASCIIProgress(fraction float64, width int) string {
	fraction = min(max(fraction, 0), 1)
	filled := int(fraction * float64(width))

	const (
		minWideBarWidth    = 3
		arrowSpaceReserved = 2
	)

	var bar strings.Builder

	bar.WriteString("[")

	switch {
	case filled >= width:
		bar.WriteString(strings.Repeat("=", width))
	case fraction > 0:
		equals := max(0, filled-1)
		if filled >= minWideBarWidth {
			equals = filled - arrowSpaceReserved
		}

		bar.WriteString(strings.Repeat("=", equals))
		bar.WriteString(">")
		bar.WriteString(strings.Repeat(" ", width-equals-1))
	default:
		bar.WriteString(strings.Repeat(" ", width))
	}

	bar.WriteString("]")

	return fmt.Sprintf("%s %d%%", bar.String(), int(fraction*ProgressPercentageScale))
}

// RenderProgress draws model at fraction, falling back to ASCII when colors
// are disabled.
func RenderProgress(model progress.Model, fraction float64) string {
	if colorsDisabled {
		return RenderASCIIProgress(fraction, model.Width)
	}

	return fmt.Sprintf("%s %3d%%", model.ViewAs(fraction), int(min(max(fraction, 0), 1)*ProgressPercentageScale))
}
