// Package errors defines the engine's error taxonomy and actionable suggestions.
//
// Every protocol client, scanner and transfer strategy returns an *Error whose
// Kind is one of the taxonomy constants. Raw transport errors (net, FTP reply
// codes, SMB status codes, SFTP status codes) are converted at the client
// boundary with Classify and never leak past it.
//
// Basic Usage:
//
//	err := client.Delete(ctx, "/photos/a.jpg")
//	if errors.Is(err, errors.ErrNotFound) {
//	    // already gone
//	}
//
// For user-facing diagnostics, an Enricher attaches suggestions:
//
//	enriched := errors.NewEnricher().Enrich(err, "smb://nas/photos/a.jpg")
//	fmt.Println(errors.FormatSuggestions(enriched))
package errors

import "strings"

// ActionableError represents an error with actionable suggestions for the user.
type ActionableError interface {
	error
	OriginalError() string
	Kind() Kind
	Suggestions() []string
	AffectedPath() string
}

// NewActionableError creates a new ActionableError with the given details.
func NewActionableError(
	originalError string,
	kind Kind,
	suggestions []string,
	affectedPath string,
) ActionableError {
	return &actionableError{
		originalError: originalError,
		kind:          kind,
		suggestions:   suggestions,
		affectedPath:  affectedPath,
	}
}

// FormatSuggestions formats the suggestions from an ActionableError as a bulleted list.
// Returns empty string if the error is nil or has no suggestions.
func FormatSuggestions(err error) string {
	if err == nil {
		return ""
	}

	var actionable ActionableError
	if !As(err, &actionable) {
		return ""
	}

	suggestions := actionable.Suggestions()
	if len(suggestions) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, suggestion := range suggestions {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("  • ")
		builder.WriteString(suggestion)
	}

	return builder.String()
}

// actionableError is the concrete implementation of ActionableError.
type actionableError struct {
	originalError string
	kind          Kind
	suggestions   []string
	affectedPath  string
}

// AffectedPath returns the file path affected by this error.
func (e *actionableError) AffectedPath() string {
	return e.affectedPath
}

// Error implements the error interface.
func (e *actionableError) Error() string {
	return e.originalError
}

// Kind returns the error kind.
func (e *actionableError) Kind() Kind {
	return e.kind
}

// OriginalError returns the original error message.
func (e *actionableError) OriginalError() string {
	return e.originalError
}

// Suggestions returns the list of actionable suggestions.
func (e *actionableError) Suggestions() []string {
	return e.suggestions
}
