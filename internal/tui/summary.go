package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/joe/netmedia/internal/tui/shared"
	"github.com/joe/netmedia/pkg/fileops"
)

// RenderSummary renders a finished batch. It is shared by the live view and
// plain output.
func RenderSummary(result *fileops.Result, elapsed time.Duration) string {
	var builder strings.Builder

	headline := fmt.Sprintf("%s %s: %s", result.Kind, result.Status, result.Summary())

	switch result.Status {
	case fileops.StatusSuccess:
		builder.WriteString(shared.RenderSuccess(headline))
	case fileops.StatusPartialSuccess:
		builder.WriteString(shared.RenderWarning(headline))
	case fileops.StatusFailure:
		builder.WriteString(shared.RenderError(headline))
	}

	builder.WriteString("\n")
	builder.WriteString(shared.RenderDim("took " + shared.FormatDuration(elapsed)))
	builder.WriteString("\n")

	if len(result.Trash) > 0 {
		fmt.Fprintf(&builder, "\n%s\n", shared.RenderLabel("Moved to trash"))

		for _, record := range result.Trash {
			fmt.Fprintf(&builder, "  %s -> %s\n", record.OriginalPath, record.TrashedPath)
		}
	}

	if len(result.Failures) > 0 {
		fmt.Fprintf(&builder, "\n%s\n", shared.RenderLabel("Failures"))
		builder.WriteString(shared.RenderFailures(shared.FailureListConfig{
			Failures:    result.Failures,
			Limit:       shared.FailureLimitComplete,
			Suggestions: true,
		}))
	}

	return builder.String()
}
