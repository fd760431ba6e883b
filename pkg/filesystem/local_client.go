package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/kr/fs"
)

// LocalClient implements Client over the local filesystem so that local
// paths flow through the same code as remote ones. Paths are OS paths.
type LocalClient struct {
	opts Options
}

// NewLocalClient creates a local filesystem client.
func NewLocalClient(opts Options) *LocalClient {
	return &LocalClient{opts: opts.withDefaults()}
}

// Protocol returns ProtocolLocal.
func (c *LocalClient) Protocol() Protocol { return ProtocolLocal }

// Endpoint returns the local endpoint.
func (c *LocalClient) Endpoint() Endpoint { return Endpoint{Protocol: ProtocolLocal} }

// Connect is a no-op.
func (c *LocalClient) Connect(context.Context) error { return nil }

// List returns the entries of dir, or of its whole subtree when recursive.
func (c *LocalClient) List(ctx context.Context, dir string, recursive bool) ([]Entry, error) {
	if recursive {
		entries, err := collectWalk(ctx, fs.Walk(dir), dir)
		if err != nil {
			return nil, c.classify("list", dir, err)
		}

		return entries, nil
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, c.classify("list", dir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))

	for _, dirEntry := range dirEntries {
		info, err := dirEntry.Info()
		if err != nil {
			continue
		}

		entries = append(entries, Entry{
			Name:    info.Name(),
			Path:    filepath.Join(dir, info.Name()),
			IsDir:   info.IsDir(),
			Size:    max(info.Size(), 0),
			ModTime: info.ModTime(),
		})
	}

	return entries, nil
}

// Stat returns the entry for p.
func (c *LocalClient) Stat(_ context.Context, p string) (Entry, error) {
	info, err := os.Stat(p)
	if err != nil {
		return Entry{}, c.classify("stat", p, err)
	}

	return Entry{
		Name:    info.Name(),
		Path:    p,
		IsDir:   info.IsDir(),
		Size:    max(info.Size(), 0),
		ModTime: info.ModTime(),
	}, nil
}

// ReadRange reads up to length bytes at offset.
func (c *LocalClient) ReadRange(_ context.Context, p string, offset, length int64) ([]byte, error) {
	file, err := os.Open(p) // #nosec G304 - path is controlled by caller
	if err != nil {
		return nil, c.classify("read", p, err)
	}
	defer file.Close()

	buf := make([]byte, length)

	n, err := file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, c.classify("read", p, err)
	}

	return buf[:n], nil
}

// Download streams the file at p into w.
func (c *LocalClient) Download(ctx context.Context, p string, w io.Writer, progress ProgressFunc) error {
	file, err := os.Open(p) // #nosec G304 - path is controlled by caller
	if err != nil {
		return c.classify("download", p, err)
	}
	defer file.Close()

	total := int64(-1)
	if info, err := file.Stat(); err == nil {
		total = info.Size()
	}

	_, err = CopyStream(ctx, w, file, total, c.opts.Advisor.RecommendedBufferSize("local"), progress)

	return c.classify("download", p, err)
}

// Upload writes r to p, replacing it. A partial file is removed on failure.
func (c *LocalClient) Upload(ctx context.Context, p string, r io.Reader, size int64, progress ProgressFunc) error {
	file, err := os.Create(p) // #nosec G304 - path is controlled by caller
	if err != nil {
		return c.classify("upload", p, err)
	}

	_, copyErr := CopyStream(ctx, file, r, size, c.opts.Advisor.RecommendedBufferSize("local"), progress)
	closeErr := file.Close()

	if copyErr == nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		_ = os.Remove(p)
		return c.classify("upload", p, copyErr)
	}

	return nil
}

// Delete removes a file or empty directory.
func (c *LocalClient) Delete(_ context.Context, p string) error {
	return c.classify("delete", p, os.Remove(p))
}

// Rename moves oldPath to newPath.
func (c *LocalClient) Rename(_ context.Context, oldPath, newPath string) error {
	return c.classify("rename", oldPath, os.Rename(oldPath, newPath))
}

// Mkdir creates p and any missing parents.
func (c *LocalClient) Mkdir(_ context.Context, p string) error {
	return c.classify("mkdir", p, os.MkdirAll(p, DefaultDirPermissions))
}

// Close is a no-op.
func (c *LocalClient) Close() error { return nil }

func (c *LocalClient) classify(op, p string, err error) error {
	return classify(c.Endpoint(), op, p, err)
}
