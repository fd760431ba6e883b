package errors

import (
	"regexp"
	"strings"
)

// Enricher enriches standard errors with actionable suggestions.
type Enricher interface {
	Enrich(err error, affectedPath string) error
}

// NewEnricher creates a new Enricher with default pattern matcher and suggestion generator.
func NewEnricher() Enricher {
	return &enricher{
		matcher:   NewPatternMatcher(),
		generator: NewSuggestionGenerator(),
	}
}

// unexported variables.
var (
	//nolint:gochecknoglobals // Compiled regexes shared across all enricher instances
	pathExtractionPatterns = []*regexp.Regexp{
		// Protocol URLs
		regexp.MustCompile(`\b((?:smb|sftp|ftp)://[^\s:]+(?::\d+)?[^\s:]*)`),
		// Unix/Linux paths (absolute and relative)
		regexp.MustCompile(`\b\w+\s+([./][^\s:]+):`),
		// Windows paths with backslashes
		regexp.MustCompile(`\b\w+\s+([A-Za-z]:\\[^\s:]+):`),
	}
)

// enricher is the concrete implementation of Enricher.
type enricher struct {
	matcher   PatternMatcher
	generator SuggestionGenerator
}

// Enrich takes an error and enriches it with kind and actionable suggestions.
// If the error is already an ActionableError, it is returned unchanged.
// Errors carrying a taxonomy kind keep it; other errors are matched by message.
// If affectedPath is empty, the *Error path or a path in the message is used.
func (e *enricher) Enrich(err error, affectedPath string) error {
	if err == nil {
		return nil
	}

	var actionableErr ActionableError
	if As(err, &actionableErr) {
		return actionableErr
	}

	errMsg := err.Error()

	var kind Kind

	var typed *Error
	if As(err, &typed) {
		kind = typed.Kind
		if affectedPath == "" {
			affectedPath = typed.Path
		}
	} else {
		kind = e.matcher.Match(errMsg)
	}

	if affectedPath == "" {
		affectedPath = extractPath(errMsg)
	}

	return NewActionableError(
		errMsg,
		kind,
		e.generator.Generate(kind, affectedPath),
		affectedPath,
	)
}

// extractPath attempts to extract a file path or protocol URL from an error message.
// Returns empty string if no path is found.
//
// Recognised formats:
//   - "list smb://nas/photos: timeout"
//   - "open /path/to/file: permission denied"
//   - "remove C:\Windows\temp\data: directory not empty"
func extractPath(errorMsg string) string {
	for _, pattern := range pathExtractionPatterns {
		if matches := pattern.FindStringSubmatch(errorMsg); len(matches) > 1 {
			path := strings.TrimSpace(matches[1])
			if path != "" {
				return path
			}
		}
	}

	return ""
}
