package errors

import "strings"

// PatternMatcher matches error messages to kinds using string patterns.
type PatternMatcher interface {
	Match(errorMsg string) Kind
}

// NewPatternMatcher creates a new PatternMatcher with predefined patterns.
// Patterns are checked in order; the first kind with a matching pattern wins.
func NewPatternMatcher() PatternMatcher {
	return &patternMatcher{
		patterns: []kindPatterns{
			{KindAuthenticationFailed, []string{
				"unable to authenticate",
				"authentication failed",
				"login incorrect",
				"logon failure",
				"invalid credentials",
				"not logged in",
			}},
			{KindTimeout, []string{
				"i/o timeout",
				"timed out",
				"timeout",
				"deadline exceeded",
			}},
			{KindConnectionUnreachable, []string{
				"connection refused",
				"no route to host",
				"network is unreachable",
				"no such host",
				"connection reset",
				"broken pipe",
			}},
			{KindPermissionDenied, []string{
				"permission denied",
				"access denied",
				"access is denied",
				"operation not permitted",
			}},
			{KindNotFound, []string{
				"no such file or directory",
				"file not found",
				"file does not exist",
				"path does not exist",
				"object name is not found",
			}},
			{KindProtocolError, []string{
				"short write",
				"unexpected response",
				"protocol error",
				"bad response",
			}},
		},
	}
}

type kindPatterns struct {
	kind     Kind
	patterns []string
}

// patternMatcher is the concrete implementation of PatternMatcher.
type patternMatcher struct {
	patterns []kindPatterns
}

// Match returns the error kind based on pattern matching.
func (m *patternMatcher) Match(errorMsg string) Kind {
	lowerMsg := strings.ToLower(errorMsg)

	for _, group := range m.patterns {
		for _, pattern := range group.patterns {
			if strings.Contains(lowerMsg, pattern) {
				return group.kind
			}
		}
	}

	// No match found
	return KindUnknown
}
