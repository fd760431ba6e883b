// Package scanner walks remote and local directory trees through a
// filesystem.Client, producing flat lists of matching files.
//
// Every variant takes a throttle slot per listing, honours cancellation
// between listings, skips soft-delete trash directories and treats a failing
// subdirectory listing as empty.
package scanner

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
	"github.com/joe/netmedia/pkg/throttle"
)

// Exported constants.
const (
	// DefaultIOWorkers bounds concurrent listings within one scan.
	DefaultIOWorkers = 8
	// DefaultMaxCount is the CountRecursive cap when none is given.
	DefaultMaxCount = 1000
	// ProgressEveryFiles and ProgressInterval bound callback frequency.
	ProgressEveryFiles = 10
	ProgressInterval   = 500 * time.Millisecond
	// CancelCheckEvery is how many entries are processed between stop checks.
	CancelCheckEvery = 100
)

// Lister lists a single directory. filesystem.Client satisfies it.
type Lister interface {
	List(ctx context.Context, dir string, recursive bool) ([]filesystem.Entry, error)
}

// State is the lifecycle of one scan invocation.
type State int

// Scan states.
const (
	StateIdle State = iota
	StateListing
	StateFiltering
	StateRecursing
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListing:
		return "listing"
	case StateFiltering:
		return "filtering"
	case StateRecursing:
		return "recursing"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}

	return "unknown"
}

// ScannedFile is one matching file.
type ScannedFile struct {
	Name string
	// FullPath is the protocol-qualified location, e.g. ftp://nas:21/photos/a.jpg.
	FullPath string
	// Path is the location inside the endpoint, as passed to the client.
	Path         string
	IsDir        bool
	SizeBytes    int64
	LastModified time.Time
}

// Callback connects a scan to its caller. Both fields are optional.
type Callback struct {
	// OnProgress receives the number of files collected so far.
	OnProgress func(count int)
	// ShouldStop is polled at cancellation points.
	ShouldStop func() bool
}

// Result is the outcome of a full or limited scan.
type Result struct {
	Files []ScannedFile
	State State
	// FailedListings counts subdirectories that could not be listed.
	FailedListings int
}

// Page is one window of a paged scan.
type Page struct {
	Files   []ScannedFile
	Offset  int
	Limit   int
	HasMore bool
}

// Metrics receives scan counters.
type Metrics interface {
	FilesScanned(protocol filesystem.Protocol, n int)
	ListingFailed(protocol filesystem.Protocol)
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithThrottle makes every listing hold a slot from manager.
func WithThrottle(manager *throttle.Manager) Option {
	return func(s *Scanner) {
		s.throttle = manager
	}
}

// WithIOWorkers bounds concurrent listings.
func WithIOWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.ioWorkers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(s *Scanner) {
		s.metrics = metrics
	}
}

// WithLowPriority marks listings as background work, queued behind
// foreground requests in the throttle.
func WithLowPriority() Option {
	return func(s *Scanner) {
		s.highPriority = false
	}
}

// Scanner scans one endpoint. It is safe for concurrent use; each call is an
// independent invocation with its own state.
type Scanner struct {
	lister       Lister
	endpoint     filesystem.Endpoint
	throttle     *throttle.Manager
	ioWorkers    int
	highPriority bool
	logger       *zap.Logger
	metrics      Metrics
}

// New creates a Scanner listing through lister for endpoint.
func New(lister Lister, endpoint filesystem.Endpoint, opts ...Option) *Scanner {
	scanner := &Scanner{
		lister:       lister,
		endpoint:     endpoint,
		ioWorkers:    DefaultIOWorkers,
		highPriority: true,
		logger:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(scanner)
	}

	scanner.logger = scanner.logger.With(zap.String("endpoint", endpoint.ResourceKey()))

	return scanner
}

// ScanDirectory lists dir without descending into subdirectories.
func (s *Scanner) ScanDirectory(ctx context.Context, dir string, filter *Filter) ([]ScannedFile, error) {
	inv := s.newInvocation(ctx, dir, filter, nil)

	entries, err := inv.list(dir)
	if err != nil {
		return nil, err
	}

	inv.setState(StateFiltering)

	var files []ScannedFile

	for _, entry := range entries {
		if !entry.IsDir && filter.MatchFile(inv.rel(entry.Path), entry) {
			files = append(files, s.scanned(entry))
		}
	}

	s.countFiles(len(files))

	return files, nil
}

func (s *Scanner) scanned(entry filesystem.Entry) ScannedFile {
	return ScannedFile{
		Name:         entry.Name,
		FullPath:     s.endpoint.URL(entry.Path),
		Path:         entry.Path,
		IsDir:        entry.IsDir,
		SizeBytes:    max(entry.Size, 0),
		LastModified: entry.ModTime,
	}
}

func (s *Scanner) countFiles(n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.FilesScanned(s.endpoint.Protocol, n)
	}
}

// invocation is the per-call state of one scan.
type invocation struct {
	scanner *Scanner
	ctx     context.Context //nolint:containedctx // Scoped to a single scan call
	root    string
	filter  *Filter
	cb      *Callback
	ioSem   chan struct{}

	mu             sync.Mutex
	state          State
	stopped        bool
	limit          int
	limited        bool
	files          []ScannedFile
	count          int
	reported       int
	lastReport     time.Time
	failedListings int
}

func (s *Scanner) newInvocation(ctx context.Context, root string, filter *Filter, cb *Callback) *invocation {
	return &invocation{
		scanner:    s,
		ctx:        ctx,
		root:       root,
		filter:     filter,
		cb:         cb,
		ioSem:      make(chan struct{}, s.ioWorkers),
		lastReport: time.Now(),
	}
}

func (inv *invocation) setState(state State) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.state != StateCancelled && inv.state != StateFailed {
		inv.state = state
	}
}

// shouldStop reports whether the scan was cancelled; once true it stays true.
func (inv *invocation) shouldStop() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	return inv.checkStopLocked()
}

func (inv *invocation) checkStopLocked() bool {
	if inv.stopped || inv.limited {
		return true
	}

	if inv.ctx.Err() != nil || (inv.cb != nil && inv.cb.ShouldStop != nil && inv.cb.ShouldStop()) {
		inv.stopped = true
		inv.state = StateCancelled
	}

	return inv.stopped
}

// list performs one throttled, I/O-bounded listing.
func (inv *invocation) list(dir string) ([]filesystem.Entry, error) {
	s := inv.scanner

	if inv.shouldStop() {
		return nil, pkgerrors.New(pkgerrors.KindCancelled, "list", s.endpoint.URL(dir), context.Canceled)
	}

	select {
	case inv.ioSem <- struct{}{}:
	case <-inv.ctx.Done():
		inv.shouldStop()
		return nil, pkgerrors.New(pkgerrors.KindCancelled, "list", s.endpoint.URL(dir), inv.ctx.Err())
	}
	defer func() { <-inv.ioSem }()

	if inv.shouldStop() {
		return nil, pkgerrors.New(pkgerrors.KindCancelled, "list", s.endpoint.URL(dir), context.Canceled)
	}

	inv.setState(StateListing)

	var entries []filesystem.Entry

	listFn := func(ctx context.Context) error {
		var err error
		entries, err = s.lister.List(ctx, dir, false)

		return err //nolint:wrapcheck // Clients return classified errors
	}

	var err error
	if s.throttle != nil {
		err = s.throttle.Do(inv.ctx, s.endpoint.Protocol, s.endpoint.ResourceKey(), s.highPriority, listFn)
	} else {
		err = listFn(inv.ctx)
	}

	if err != nil {
		if pkgerrors.KindOf(err) == pkgerrors.KindCancelled || inv.ctx.Err() != nil {
			inv.shouldStop()
		}

		return nil, pkgerrors.Classify("list", s.endpoint.URL(dir), err)
	}

	return entries, nil
}

// listOrSkip lists a subdirectory, logging and skipping it on failure.
func (inv *invocation) listOrSkip(dir string) ([]filesystem.Entry, bool) {
	entries, err := inv.list(dir)
	if err == nil {
		return entries, true
	}

	if pkgerrors.KindOf(err) == pkgerrors.KindCancelled {
		return nil, false
	}

	inv.mu.Lock()
	inv.failedListings++
	inv.mu.Unlock()

	s := inv.scanner
	s.logger.Warn("directory listing failed, skipping subtree",
		zap.String("path", s.endpoint.URL(dir)),
		zap.String("kind", string(pkgerrors.KindOf(err))),
		zap.Error(err))

	if s.metrics != nil {
		s.metrics.ListingFailed(s.endpoint.Protocol)
	}

	return nil, false
}

// add records a matching file and reports progress under the same lock so
// reported counts always equal the collection size. It returns false once the
// invocation's limit is reached or the scan was stopped.
func (inv *invocation) add(file ScannedFile, materialize bool) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.stopped || inv.limited {
		return false
	}

	if materialize {
		inv.files = append(inv.files, file)
	}

	inv.count++
	inv.maybeReportLocked(false)

	if inv.limit > 0 && inv.count >= inv.limit {
		inv.limited = true
	}

	return true
}

func (inv *invocation) maybeReportLocked(force bool) {
	if inv.cb == nil || inv.cb.OnProgress == nil || inv.count == inv.reported {
		return
	}

	if force || inv.count-inv.reported >= ProgressEveryFiles || time.Since(inv.lastReport) >= ProgressInterval {
		inv.reported = inv.count
		inv.lastReport = time.Now()
		inv.cb.OnProgress(inv.count)
	}
}

// finish reports final progress and builds the result.
func (inv *invocation) finish() *Result {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.maybeReportLocked(true)

	if inv.state != StateCancelled && inv.state != StateFailed {
		inv.state = StateDone
	}

	inv.scanner.countFiles(inv.count)

	return &Result{Files: inv.files, State: inv.state, FailedListings: inv.failedListings}
}

// rel returns p relative to the scan root, slash separated.
func (inv *invocation) rel(p string) string {
	if inv.scanner.endpoint.Protocol == filesystem.ProtocolLocal {
		if rel, err := filepath.Rel(inv.root, p); err == nil {
			return filepath.ToSlash(rel)
		}

		return filepath.ToSlash(p)
	}

	rel := strings.TrimPrefix(p, strings.TrimSuffix(path.Clean("/"+inv.root), "/")+"/")

	return strings.TrimPrefix(rel, "/")
}
