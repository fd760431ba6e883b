package filesystem

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
)

// MockClient is an in-memory Client with fault injection, for tests.
// Parent directories are created implicitly.
type MockClient struct {
	endpoint Endpoint

	mu    sync.RWMutex
	files map[string]*mockFile

	// Fault injection. Errors are returned as-is; use *errors.Error values to
	// control the taxonomy kind.
	ListErrors  map[string]error // keyed by directory
	DownloadErr error
	UploadErr   error
	DeleteErr   error
	RenameErr   error
	MkdirErr    error
	ConnectErr  error
	Latency     time.Duration

	// OnList, when set, runs before every listing.
	OnList func(dir string)

	calls      sync.Map // method name -> *atomic.Int64
	liveLists  atomic.Int64
	peakLists  atomic.Int64
	closeCount atomic.Int64
}

// mockFile represents a file or directory in the mock tree.
type mockFile struct {
	data    []byte
	modTime time.Time
	isDir   bool
}

// NewMockClient creates an empty mock serving endpoint.
func NewMockClient(endpoint Endpoint) *MockClient {
	return &MockClient{
		endpoint:   endpoint,
		files:      map[string]*mockFile{"/": {isDir: true, modTime: time.Unix(0, 0)}},
		ListErrors: make(map[string]error),
	}
}

// AddFile stores data at p, creating parent directories.
func (m *MockClient) AddFile(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.putLocked(cleanRemote(p), data)
}

// AddSizedFile stores a zero-filled file of the given size at p.
func (m *MockClient) AddSizedFile(p string, size int) {
	m.AddFile(p, make([]byte, size))
}

// AddDir creates p and its parents.
func (m *MockClient) AddDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mkdirLocked(cleanRemote(p))
}

// Exists reports whether p is present.
func (m *MockClient) Exists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.files[cleanRemote(p)]

	return ok
}

// Data returns a copy of the file at p.
func (m *MockClient) Data(p string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[cleanRemote(p)]
	if !ok || file.isDir {
		return nil, false
	}

	return bytes.Clone(file.data), true
}

// Paths returns every stored path in sorted order.
func (m *MockClient) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}

// Calls returns how many times method was invoked.
func (m *MockClient) Calls(method string) int {
	if counter, ok := m.calls.Load(method); ok {
		return int(counter.(*atomic.Int64).Load()) //nolint:forcetypeassert // Only *atomic.Int64 is stored
	}

	return 0
}

// PeakConcurrentLists returns the highest number of overlapping List calls.
func (m *MockClient) PeakConcurrentLists() int {
	return int(m.peakLists.Load())
}

// Closed returns how many times Close was called.
func (m *MockClient) Closed() int {
	return int(m.closeCount.Load())
}

// Protocol returns the endpoint's protocol.
func (m *MockClient) Protocol() Protocol { return m.endpoint.Protocol }

// Endpoint returns the mock's endpoint.
func (m *MockClient) Endpoint() Endpoint { return m.endpoint }

// Connect returns ConnectErr.
func (m *MockClient) Connect(ctx context.Context) error {
	m.record("Connect")

	if err := m.wait(ctx); err != nil {
		return err
	}

	return m.ConnectErr
}

// List returns the children of dir, or its subtree when recursive, sorted by path.
func (m *MockClient) List(ctx context.Context, dir string, recursive bool) ([]Entry, error) {
	m.record("List")

	live := m.liveLists.Add(1)
	defer m.liveLists.Add(-1)

	for {
		peak := m.peakLists.Load()
		if live <= peak || m.peakLists.CompareAndSwap(peak, live) {
			break
		}
	}

	dir = cleanRemote(dir)

	if m.OnList != nil {
		m.OnList(dir)
	}

	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err, ok := m.ListErrors[dir]; ok {
		return nil, err
	}

	root, ok := m.files[dir]
	if !ok || !root.isDir {
		return nil, pkgerrors.New(pkgerrors.KindNotFound, "list", m.endpoint.URL(dir), nil)
	}

	prefix := strings.TrimSuffix(dir, "/") + "/"

	var entries []Entry

	for p, file := range m.files {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}

		if !recursive && strings.Contains(p[len(prefix):], "/") {
			continue
		}

		entries = append(entries, Entry{
			Name:    path.Base(p),
			Path:    p,
			IsDir:   file.isDir,
			Size:    int64(len(file.data)),
			ModTime: file.modTime,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	return entries, nil
}

// Stat returns the entry at p.
func (m *MockClient) Stat(ctx context.Context, p string) (Entry, error) {
	m.record("Stat")

	if err := m.wait(ctx); err != nil {
		return Entry{}, err
	}

	p = cleanRemote(p)

	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[p]
	if !ok {
		return Entry{}, pkgerrors.New(pkgerrors.KindNotFound, "stat", m.endpoint.URL(p), nil)
	}

	return Entry{Name: path.Base(p), Path: p, IsDir: file.isDir, Size: int64(len(file.data)), ModTime: file.modTime}, nil
}

// ReadRange returns up to length bytes at offset.
func (m *MockClient) ReadRange(ctx context.Context, p string, offset, length int64) ([]byte, error) {
	m.record("ReadRange")

	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	if m.DownloadErr != nil {
		return nil, m.DownloadErr
	}

	data, ok := m.Data(p)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.KindNotFound, "read", m.endpoint.URL(p), nil)
	}

	if offset >= int64(len(data)) {
		return []byte{}, nil
	}

	end := min(offset+length, int64(len(data)))

	return data[offset:end], nil
}

// Download writes the file at p to w.
func (m *MockClient) Download(ctx context.Context, p string, w io.Writer, progress ProgressFunc) error {
	m.record("Download")

	if err := m.wait(ctx); err != nil {
		return err
	}

	if m.DownloadErr != nil {
		return m.DownloadErr
	}

	data, ok := m.Data(p)
	if !ok {
		return pkgerrors.New(pkgerrors.KindNotFound, "download", m.endpoint.URL(p), nil)
	}

	_, err := CopyStream(ctx, w, bytes.NewReader(data), int64(len(data)), DefaultBufferSize, progress)

	return classify(m.endpoint, "download", p, err)
}

// Upload stores everything read from r at p.
func (m *MockClient) Upload(ctx context.Context, p string, r io.Reader, size int64, progress ProgressFunc) error {
	m.record("Upload")

	if err := m.wait(ctx); err != nil {
		return err
	}

	if m.UploadErr != nil {
		return m.UploadErr
	}

	var buf bytes.Buffer
	if _, err := CopyStream(ctx, &buf, r, size, DefaultBufferSize, progress); err != nil {
		return classify(m.endpoint, "upload", p, err)
	}

	m.AddFile(p, buf.Bytes())

	return nil
}

// Delete removes a file or empty directory.
func (m *MockClient) Delete(ctx context.Context, p string) error {
	m.record("Delete")

	if err := m.wait(ctx); err != nil {
		return err
	}

	if m.DeleteErr != nil {
		return m.DeleteErr
	}

	p = cleanRemote(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[p]
	if !ok {
		return pkgerrors.New(pkgerrors.KindNotFound, "delete", m.endpoint.URL(p), nil)
	}

	if file.isDir {
		for other := range m.files {
			if strings.HasPrefix(other, p+"/") {
				return pkgerrors.Newf(pkgerrors.KindProtocolError, "delete", m.endpoint.URL(p), "directory not empty")
			}
		}
	}

	delete(m.files, p)

	return nil
}

// Rename moves oldPath (and its children) to newPath.
func (m *MockClient) Rename(ctx context.Context, oldPath, newPath string) error {
	m.record("Rename")

	if err := m.wait(ctx); err != nil {
		return err
	}

	if m.RenameErr != nil {
		return m.RenameErr
	}

	oldPath, newPath = cleanRemote(oldPath), cleanRemote(newPath)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[oldPath]; !ok {
		return pkgerrors.New(pkgerrors.KindNotFound, "rename", m.endpoint.URL(oldPath), nil)
	}

	m.mkdirLocked(path.Dir(newPath))

	moved := make(map[string]*mockFile)

	for p, file := range m.files {
		if p == oldPath || strings.HasPrefix(p, oldPath+"/") {
			moved[newPath+strings.TrimPrefix(p, oldPath)] = file
			delete(m.files, p)
		}
	}

	for p, file := range moved {
		m.files[p] = file
	}

	return nil
}

// Mkdir creates p and its parents.
func (m *MockClient) Mkdir(ctx context.Context, p string) error {
	m.record("Mkdir")

	if err := m.wait(ctx); err != nil {
		return err
	}

	if m.MkdirErr != nil {
		return m.MkdirErr
	}

	m.AddDir(p)

	return nil
}

// Close counts the call.
func (m *MockClient) Close() error {
	m.closeCount.Add(1)

	return nil
}

func (m *MockClient) putLocked(p string, data []byte) {
	m.mkdirLocked(path.Dir(p))
	m.files[p] = &mockFile{data: bytes.Clone(data), modTime: time.Now()}
}

func (m *MockClient) mkdirLocked(p string) {
	for current := p; ; current = path.Dir(current) {
		if _, ok := m.files[current]; !ok {
			m.files[current] = &mockFile{isDir: true, modTime: time.Now()}
		}

		if current == "/" {
			return
		}
	}
}

func (m *MockClient) record(method string) {
	counter, _ := m.calls.LoadOrStore(method, &atomic.Int64{})
	counter.(*atomic.Int64).Add(1) //nolint:forcetypeassert // Only *atomic.Int64 is stored
}

func (m *MockClient) wait(ctx context.Context) error {
	if err := sleepContext(ctx, m.Latency); err != nil {
		return pkgerrors.Classify("wait", m.endpoint.URL("/"), err)
	}

	return nil
}
