package errors

import "fmt"

// SuggestionGenerator generates actionable suggestions based on error kind.
type SuggestionGenerator interface {
	Generate(kind Kind, affectedPath string) []string
}

// NewSuggestionGenerator creates a new SuggestionGenerator.
func NewSuggestionGenerator() SuggestionGenerator {
	return &suggestionGenerator{}
}

// suggestionGenerator is the concrete implementation of SuggestionGenerator.
type suggestionGenerator struct{}

// Generate returns actionable suggestions based on the error kind and affected path.
//
//nolint:cyclop // One branch per taxonomy kind
func (g *suggestionGenerator) Generate(kind Kind, affectedPath string) []string {
	switch kind {
	case KindAuthenticationFailed:
		return g.generateAuthSuggestions(affectedPath)
	case KindConnectionUnreachable:
		return g.generateUnreachableSuggestions(affectedPath)
	case KindTimeout:
		return g.generateTimeoutSuggestions()
	case KindNotFound:
		return g.generateNotFoundSuggestions(affectedPath)
	case KindPermissionDenied:
		return g.generatePermissionSuggestions(affectedPath)
	case KindPartialTransfer:
		return g.generatePartialTransferSuggestions(affectedPath)
	case KindNoCredentials:
		return g.generateNoCredentialsSuggestions(affectedPath)
	case KindNoStrategyForProtocol:
		return []string{
			"Check the path scheme (smb://, sftp://, ftp:// or a local path)",
		}
	case KindCancelled:
		return nil
	case KindProtocolError, KindUnknown:
		return g.generateUnknownSuggestions(affectedPath)
	default:
		return g.generateUnknownSuggestions(affectedPath)
	}
}

func (g *suggestionGenerator) generateAuthSuggestions(path string) []string {
	suggestions := []string{
		"Verify the stored username and password",
	}

	if path != "" {
		suggestions = append(suggestions, "Re-enter credentials for "+path)
	}

	suggestions = append(suggestions, "For SFTP keys, check the key format and passphrase")

	return suggestions
}

func (g *suggestionGenerator) generateNoCredentialsSuggestions(path string) []string {
	if path == "" {
		return []string{"Add credentials for the server with 'netmedia creds add'"}
	}

	return []string{
		fmt.Sprintf("Add credentials for %s with 'netmedia creds add'", path),
		"For SMB, credentials may be stored for the share or a subfolder of it",
	}
}

func (g *suggestionGenerator) generateNotFoundSuggestions(path string) []string {
	suggestions := []string{
		"Verify the path exists and is spelled correctly",
	}

	if path != "" {
		suggestions = append(suggestions, "Check if the path exists: "+path)
	}

	suggestions = append(suggestions, "Rescan the folder - the file may have been moved or deleted")

	return suggestions
}

func (g *suggestionGenerator) generatePartialTransferSuggestions(path string) []string {
	suggestions := []string{
		"The file was copied but the original could not be removed",
	}

	if path != "" {
		suggestions = append(suggestions, "Remove the original manually: "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generatePermissionSuggestions(path string) []string {
	suggestions := []string{
		"Ensure the account has read/write access on the server",
	}

	if path != "" {
		suggestions = append(suggestions, "Check share or folder permissions for "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generateTimeoutSuggestions() []string {
	return []string{
		"The server did not respond in time - try again",
		"Reduce the number of parallel connections for this server",
		"For FTP behind NAT, check firewall rules for data connections",
	}
}

func (g *suggestionGenerator) generateUnknownSuggestions(path string) []string {
	suggestions := []string{
		"Check the error message for more details",
	}

	if path != "" {
		suggestions = append(suggestions, "Verify the path is accessible: "+path)
	}

	return suggestions
}

func (g *suggestionGenerator) generateUnreachableSuggestions(path string) []string {
	suggestions := []string{
		"Check that the server is powered on and reachable on the network",
		"Verify the host name and port",
	}

	if path != "" {
		suggestions = append(suggestions, "Confirm the server address in "+path)
	}

	return suggestions
}
