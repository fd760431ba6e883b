// Package fileops performs copy, move and delete operations across protocols.
//
// A Registry maps each path to the Strategy that owns its protocol. The
// Handler runs a batch: same-strategy work is delegated, cross-protocol work
// is bridged through a local staging file, and soft deletes move files into a
// timestamped trash directory next to them.
package fileops

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
)

// Exported constants.
const (
	// DefaultDirPermissions is the default permission mode for created directories
	DefaultDirPermissions = 0o750
	// ContentScheme prefixes opaque content URIs whose last segment is not a file name.
	ContentScheme = "content://"
	// CloudScheme prefixes cloud object ids.
	CloudScheme = "cloud://"
)

// OperationKind selects what an Operation does.
type OperationKind int

// Operation kinds.
const (
	OpCopy OperationKind = iota
	OpMove
	OpDelete
)

func (k OperationKind) String() string {
	switch k {
	case OpCopy:
		return "copy"
	case OpMove:
		return "move"
	case OpDelete:
		return "delete"
	}

	return "unknown"
}

// Status is the aggregate outcome of a batch.
type Status int

// Batch statuses.
const (
	StatusSuccess Status = iota
	StatusPartialSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPartialSuccess:
		return "partial_success"
	case StatusFailure:
		return "failure"
	}

	return "unknown"
}

// FileRef names one file. DisplayName is the user-visible name, used as the
// destination file name when Path is a content URI or cloud id.
type FileRef struct {
	Path        string
	DisplayName string
}

// Name returns the file name to use at a destination.
func (r FileRef) Name() string {
	if r.DisplayName != "" && (strings.HasPrefix(r.Path, ContentScheme) || strings.HasPrefix(r.Path, CloudScheme)) {
		return r.DisplayName
	}

	if strings.Contains(r.Path, "://") {
		if parsed, err := filesystem.ParsePath(r.Path); err == nil {
			return path.Base(parsed.Path)
		}

		return path.Base(strings.TrimSuffix(r.Path, "/"))
	}

	return filepath.Base(r.Path)
}

// Operation is one batch request. Destination is a directory for copy and
// move and is ignored for delete.
type Operation struct {
	Kind        OperationKind
	Sources     []FileRef
	Destination string
	Overwrite   bool
	SoftDelete  bool
}

// Paths builds FileRefs from plain paths.
func Paths(paths ...string) []FileRef {
	refs := make([]FileRef, 0, len(paths))
	for _, p := range paths {
		refs = append(refs, FileRef{Path: p})
	}

	return refs
}

// FileFailure records why one file of a batch failed.
type FileFailure struct {
	Name        string
	Source      string
	Destination string
	Err         error
}

// Error renders the failure with its name, endpoints, cause and suggestions.
func (f FileFailure) Error() string {
	var builder strings.Builder

	builder.WriteString(f.Name)
	builder.WriteString(": ")
	builder.WriteString(f.Source)

	if f.Destination != "" {
		builder.WriteString(" -> ")
		builder.WriteString(f.Destination)
	}

	builder.WriteString(": ")
	builder.WriteString(f.Err.Error())

	enriched := pkgerrors.NewEnricher().Enrich(f.Err, f.Source)
	if suggestions := pkgerrors.FormatSuggestions(enriched); suggestions != "" {
		builder.WriteString("\n")
		builder.WriteString(suggestions)
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (f FileFailure) Unwrap() error {
	return f.Err
}

// TrashRecord describes a soft-deleted file.
type TrashRecord struct {
	TrashDir     string
	OriginalPath string
	TrashedPath  string
}

// Result is the outcome of Handler.Execute.
type Result struct {
	Kind         OperationKind
	Status       Status
	SuccessCount int
	Total        int
	Failures     []FileFailure
	ResultPaths  []string
	Trash        []TrashRecord
}

// Summary returns "N of M succeeded".
func (r *Result) Summary() string {
	return fmt.Sprintf("%d of %d succeeded", r.SuccessCount, r.Total)
}

// Errors returns every per-file failure message.
func (r *Result) Errors() []string {
	messages := make([]string, 0, len(r.Failures))
	for _, failure := range r.Failures {
		messages = append(messages, failure.Error())
	}

	return messages
}

func (r *Result) finalize() {
	switch {
	case r.SuccessCount == r.Total:
		r.Status = StatusSuccess
	case r.SuccessCount == 0:
		r.Status = StatusFailure
	default:
		r.Status = StatusPartialSuccess
	}
}

// Progress reports where a batch is.
type Progress struct {
	Index   int // zero-based index of the current file
	Total   int
	Name    string
	Percent float64 // of the current file, 0-100
}

// ProgressFunc receives batch progress.
type ProgressFunc func(Progress)

// PercentFunc receives single-file progress in percent.
type PercentFunc func(percent float64)

// scaled maps byte progress onto the [from, to] percent range. Unknown totals
// report nothing.
func scaled(progress PercentFunc, from, to float64) filesystem.ProgressFunc {
	if progress == nil {
		return nil
	}

	return func(transferred, total int64) {
		if total <= 0 {
			return
		}

		fraction := min(float64(transferred)/float64(total), 1)
		progress(from + (to-from)*fraction)
	}
}

// joinDestination returns the path of name inside the destination directory.
func joinDestination(dir, name string) (string, error) {
	parsed, err := filesystem.ParsePath(dir)
	if err != nil {
		return "", err //nolint:wrapcheck // ParsePath returns classified errors
	}

	if parsed.Endpoint.Protocol == filesystem.ProtocolLocal {
		return filepath.Join(parsed.Path, name), nil
	}

	return parsed.Join(name).Raw, nil
}
