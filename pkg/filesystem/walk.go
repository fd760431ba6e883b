package filesystem

import (
	"context"

	"github.com/kr/fs"
)

// collectWalk drains a kr/fs walker rooted at root into entries, skipping the
// root itself. Unreadable subdirectories are skipped rather than aborting.
func collectWalk(ctx context.Context, walker *fs.Walker, root string) ([]Entry, error) {
	var entries []Entry

	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return entries, err //nolint:wrapcheck // Classified by the caller
		}

		if err := walker.Err(); err != nil {
			if walker.Path() == root {
				return nil, err //nolint:wrapcheck // Classified by the caller
			}

			continue
		}

		if walker.Path() == root {
			continue
		}

		info := walker.Stat()
		entries = append(entries, Entry{
			Name:    info.Name(),
			Path:    walker.Path(),
			IsDir:   info.IsDir(),
			Size:    max(info.Size(), 0),
			ModTime: info.ModTime(),
		})
	}

	return entries, nil
}
