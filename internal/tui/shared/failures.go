package shared

import (
	"fmt"
	"strings"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/fileops"
)

// Failure list limits.
const (
	FailureLimitInProgress = 3
	FailureLimitComplete   = 10
)

// FailureListConfig controls RenderFailures.
type FailureListConfig struct {
	Failures []fileops.FileFailure
	// Limit caps the rendered failures; <= 0 renders all.
	Limit int
	// MaxWidth truncates paths and messages; <= 0 disables truncation.
	MaxWidth int
	// Suggestions appends the actionable hints for each failure's kind.
	Suggestions bool
}

// RenderFailures renders failed files with their cause.
func RenderFailures(config FailureListConfig) string {
	if len(config.Failures) == 0 {
		return ""
	}

	var builder strings.Builder

	enricher := pkgerrors.NewEnricher()

	for i, failure := range config.Failures {
		if config.Limit > 0 && i >= config.Limit {
			fmt.Fprintf(&builder, "  ... and %d more error(s)\n", len(config.Failures)-config.Limit)

			break
		}

		source := failure.Source
		message := failure.Err.Error()

		if config.MaxWidth > 0 {
			source = TruncatePath(source, config.MaxWidth)
			if len(message) > config.MaxWidth {
				message = message[:config.MaxWidth-3] + "..."
			}
		}

		fmt.Fprintf(&builder, "  %s %s\n", ErrorSymbol(), render(FileItemErrorStyle(), source))
		fmt.Fprintf(&builder, "    %s\n", message)

		if !config.Suggestions {
			continue
		}

		enriched := enricher.Enrich(failure.Err, failure.Source)
		if suggestions := pkgerrors.FormatSuggestions(enriched); suggestions != "" {
			fmt.Fprintf(&builder, "    %s\n", strings.ReplaceAll(suggestions, "\n", "\n    "))
		}
	}

	return builder.String()
}
