package shared

import (
	"strings"
)

// RenderActivityLog renders entries oldest first under an optional title.
// maxEntries > 0 keeps only the most recent entries.
func RenderActivityLog(title string, entries []string, maxEntries int) string {
	var builder strings.Builder

	if trimmed := strings.TrimSpace(title); trimmed != "" {
		builder.WriteString(RenderLabel(trimmed))
		builder.WriteString("\n")

		if len(entries) > 0 {
			builder.WriteString("\n")
		}
	}

	if len(entries) == 0 {
		return builder.String()
	}

	start := 0
	if maxEntries > 0 && maxEntries < len(entries) {
		start = len(entries) - maxEntries
	}

	for i := start; i < len(entries); i++ {
		builder.WriteString("  ")
		builder.WriteString(entries[i])

		if i < len(entries)-1 {
			builder.WriteString("\n")
		}
	}

	return builder.String()
}
