package scanner

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joe/netmedia/pkg/filesystem"
)

// Filter decides which files a scan reports.
//
// Extensions are matched case-insensitively; a file without an extension
// never matches. An empty extension set accepts every file that has one.
// Exclude patterns are doublestar globs matched case-insensitively against
// the path relative to the scan root; a matching directory is not descended.
type Filter struct {
	extensions map[string]struct{}
	excludes   []string
	size       func(name string, size int64) bool
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithExcludes adds exclude globs such as "**/@eaDir/**" or "*.tmp".
func WithExcludes(patterns ...string) FilterOption {
	return func(f *Filter) {
		for _, pattern := range patterns {
			if pattern == "" {
				continue
			}

			f.excludes = append(f.excludes, strings.ToLower(pattern))
		}
	}
}

// WithSizePredicate rejects files for which accept returns false.
func WithSizePredicate(accept func(name string, size int64) bool) FilterOption {
	return func(f *Filter) {
		f.size = accept
	}
}

// NewFilter creates a filter for the given extensions, with or without the
// leading dot.
func NewFilter(extensions []string, opts ...FilterOption) *Filter {
	filter := &Filter{extensions: make(map[string]struct{}, len(extensions))}

	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			filter.extensions[ext] = struct{}{}
		}
	}

	for _, opt := range opts {
		opt(filter)
	}

	return filter
}

// MatchFile reports whether a file entry should be included. relPath is the
// slash-separated path below the scan root.
func (f *Filter) MatchFile(relPath string, entry filesystem.Entry) bool {
	if f == nil {
		return true
	}

	ext := Extension(entry.Name)
	if ext == "" {
		return false
	}

	if len(f.extensions) > 0 {
		if _, ok := f.extensions[ext]; !ok {
			return false
		}
	}

	if f.excluded(relPath) {
		return false
	}

	if f.size != nil && !f.size(entry.Name, max(entry.Size, 0)) {
		return false
	}

	return true
}

// Descend reports whether a directory should be scanned. Trash directories
// and excluded paths are skipped.
func (f *Filter) Descend(relPath string, name string) bool {
	if filesystem.IsTrashDir(name) {
		return false
	}

	if f == nil {
		return true
	}

	return !f.excluded(relPath)
}

func (f *Filter) excluded(relPath string) bool {
	normalized := strings.ToLower(strings.TrimPrefix(relPath, "/"))

	for _, pattern := range f.excludes {
		// Invalid patterns never match.
		if matched, err := doublestar.Match(pattern, normalized); err == nil && matched {
			return true
		}
	}

	return false
}

// Extension returns the lower-cased extension of name without the dot, or ""
// when there is none. Dotfiles such as ".hidden" have no extension.
func Extension(name string) string {
	ext := path.Ext(name)
	if ext == "" || ext == name {
		return ""
	}

	return strings.ToLower(ext[1:])
}
