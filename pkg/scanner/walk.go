package scanner

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
)

// ScanRecursive collects every matching file below root. Subdirectories are
// listed in parallel, bounded by the I/O worker count and the throttle.
//
// A cancelled scan returns the files found so far with StateCancelled and a
// nil error. Only a failure to list root itself is returned as an error.
func (s *Scanner) ScanRecursive(ctx context.Context, root string, filter *Filter, cb *Callback) (*Result, error) {
	inv := s.newInvocation(ctx, root, filter, cb)

	if err := inv.walkParallel(true); err != nil {
		return inv.finish(), err
	}

	result := inv.finish()

	s.logger.Debug("recursive scan finished",
		zap.String("root", s.endpoint.URL(root)),
		zap.Int("files", len(result.Files)),
		zap.Int("failed_listings", result.FailedListings),
		zap.Stringer("state", result.State))

	return result, nil
}

// CountRecursive counts matching files below root without materializing
// them, stopping at maxCount (DefaultMaxCount when <= 0).
func (s *Scanner) CountRecursive(ctx context.Context, root string, filter *Filter, maxCount int, cb *Callback) (int, error) {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}

	inv := s.newInvocation(ctx, root, filter, cb)
	inv.limit = maxCount

	err := inv.walkParallel(false)
	inv.finish()

	return min(inv.count, maxCount), err
}

// ScanLimited collects at most maxFiles matching files. Each directory's
// files are taken before its subdirectories, which are visited in name
// order. limitReached reports whether the scan stopped at maxFiles.
func (s *Scanner) ScanLimited(
	ctx context.Context,
	root string,
	filter *Filter,
	maxFiles int,
	cb *Callback,
) (*Result, bool, error) {
	inv := s.newInvocation(ctx, root, filter, cb)
	inv.limit = maxFiles

	entries, err := inv.listRoot()
	if err != nil {
		return inv.finish(), false, err
	}

	if entries != nil {
		inv.walkLimited(entries)
	}

	inv.mu.Lock()
	limitReached := inv.limited
	inv.mu.Unlock()

	return inv.finish(), limitReached, nil
}

// ScanPaged returns one page of matching files in a stable order: within a
// directory files come first, then subdirectories, both sorted by name
// case-insensitively. Subdirectories are only listed while the page is not
// yet full.
func (s *Scanner) ScanPaged(
	ctx context.Context,
	root string,
	filter *Filter,
	offset, limit int,
	recursive bool,
) (*Page, error) {
	offset = max(offset, 0)

	page := &Page{Offset: offset, Limit: limit}
	if limit <= 0 {
		return page, nil
	}

	inv := s.newInvocation(ctx, root, filter, nil)

	entries, err := inv.listRoot()
	if err != nil || entries == nil {
		return page, err
	}

	pager := &pager{inv: inv, skip: offset, want: limit + 1, recursive: recursive}
	pager.visit(entries)

	if inv.shouldStop() && !pager.full() {
		return page, pkgerrors.New(pkgerrors.KindCancelled, "scan", s.endpoint.URL(root), context.Canceled)
	}

	page.HasMore = len(pager.files) > limit
	page.Files = pager.files[:min(limit, len(pager.files))]

	s.countFiles(len(page.Files))

	return page, nil
}

// listRoot lists the scan root. A nil slice with a nil error means the scan
// was cancelled before it started.
func (inv *invocation) listRoot() ([]filesystem.Entry, error) {
	entries, err := inv.list(inv.root)
	if err == nil {
		if entries == nil {
			entries = []filesystem.Entry{}
		}

		return entries, nil
	}

	if pkgerrors.KindOf(err) == pkgerrors.KindCancelled {
		return nil, nil
	}

	inv.mu.Lock()
	inv.state = StateFailed
	inv.mu.Unlock()

	inv.scanner.logger.Error("scan root listing failed",
		zap.String("root", inv.scanner.endpoint.URL(inv.root)),
		zap.Error(err))

	return nil, err
}

func (inv *invocation) walkParallel(materialize bool) error {
	entries, err := inv.listRoot()
	if err != nil || entries == nil {
		return err
	}

	var wg sync.WaitGroup

	inv.processParallel(entries, &wg, materialize)
	wg.Wait()

	return nil
}

func (inv *invocation) processParallel(entries []filesystem.Entry, wg *sync.WaitGroup, materialize bool) {
	inv.setState(StateFiltering)

	for i, entry := range entries {
		if i%CancelCheckEvery == 0 && inv.shouldStop() {
			return
		}

		rel := inv.rel(entry.Path)

		if entry.IsDir {
			if !inv.filter.Descend(rel, entry.Name) {
				continue
			}

			wg.Add(1)

			go func(dir string) {
				defer wg.Done()

				inv.setState(StateRecursing)

				children, ok := inv.listOrSkip(dir)
				if !ok {
					return
				}

				inv.processParallel(children, wg, materialize)
			}(entry.Path)

			continue
		}

		if inv.filter.MatchFile(rel, entry) && !inv.add(inv.scanner.scanned(entry), materialize) {
			return
		}
	}
}

func (inv *invocation) walkLimited(entries []filesystem.Entry) {
	inv.setState(StateFiltering)

	var dirs []filesystem.Entry

	for i, entry := range entries {
		if i%CancelCheckEvery == 0 && inv.shouldStop() {
			return
		}

		rel := inv.rel(entry.Path)

		if entry.IsDir {
			if inv.filter.Descend(rel, entry.Name) {
				dirs = append(dirs, entry)
			}

			continue
		}

		if inv.filter.MatchFile(rel, entry) && !inv.add(inv.scanner.scanned(entry), true) {
			return
		}
	}

	sortByName(dirs)

	for _, dir := range dirs {
		if inv.shouldStop() {
			return
		}

		inv.setState(StateRecursing)

		children, ok := inv.listOrSkip(dir.Path)
		if ok {
			inv.walkLimited(children)
		}
	}
}

// pager walks depth-first in display order, skipping and collecting matches.
type pager struct {
	inv       *invocation
	skip      int
	want      int
	recursive bool
	files     []ScannedFile
}

func (p *pager) full() bool {
	return len(p.files) >= p.want
}

func (p *pager) visit(entries []filesystem.Entry) {
	var files, dirs []filesystem.Entry

	for _, entry := range entries {
		rel := p.inv.rel(entry.Path)

		switch {
		case entry.IsDir:
			if p.recursive && p.inv.filter.Descend(rel, entry.Name) {
				dirs = append(dirs, entry)
			}
		case p.inv.filter.MatchFile(rel, entry):
			files = append(files, entry)
		}
	}

	sortByName(files)
	sortByName(dirs)

	for _, entry := range files {
		if p.skip > 0 {
			p.skip--

			continue
		}

		p.files = append(p.files, p.inv.scanner.scanned(entry))
		if p.full() {
			return
		}
	}

	for _, dir := range dirs {
		if p.full() || p.inv.shouldStop() {
			return
		}

		children, ok := p.inv.listOrSkip(dir.Path)
		if ok {
			p.visit(children)
		}
	}
}

func sortByName(entries []filesystem.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		left, right := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
		if left != right {
			return left < right
		}

		return entries[i].Name < entries[j].Name
	})
}
