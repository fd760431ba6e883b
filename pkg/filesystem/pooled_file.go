package filesystem

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/pkg/sftp"
)

// sftpFile abstracts the sftp.File operations used for streaming.
type sftpFile interface {
	io.Reader
	io.ReaderAt
	io.Writer
	io.Closer
	Stat() (os.FileInfo, error)
}

// sessionReleaser returns a session to wherever it was borrowed from.
type sessionReleaser interface {
	Release(client *sftp.Client)
}

// PooledSFTPFile wraps an open remote file and returns the session it was
// opened on to the pool when Close is called.
//
//	client, err := pool.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	file, err := client.Open("/remote/path")
//	if err != nil {
//	    pool.Release(client)
//	    return err
//	}
//	pooled, _ := NewPooledSFTPFile(file, client, pool)
//	defer pooled.Close()
type PooledSFTPFile struct {
	file   sftpFile
	client *sftp.Client
	pool   sessionReleaser
	mu     sync.Mutex
	closed bool
}

// NewPooledSFTPFile creates a new pooled file wrapper. All arguments are required.
func NewPooledSFTPFile(file sftpFile, client *sftp.Client, pool sessionReleaser) (*PooledSFTPFile, error) {
	if file == nil {
		return nil, errors.New("file cannot be nil")
	}

	if client == nil {
		return nil, errors.New("client cannot be nil")
	}

	if pool == nil {
		return nil, errors.New("pool cannot be nil")
	}

	return &PooledSFTPFile{
		file:   file,
		client: client,
		pool:   pool,
	}, nil
}

// Read reads up to len(p) bytes. Returns fs.ErrClosed after Close.
func (f *PooledSFTPFile) Read(p []byte) (int, error) {
	if f.isClosed() {
		return 0, fs.ErrClosed
	}

	return f.file.Read(p) //nolint:wrapcheck // Pass-through file
}

// ReadAt reads len(p) bytes at offset off. Returns fs.ErrClosed after Close.
func (f *PooledSFTPFile) ReadAt(p []byte, off int64) (int, error) {
	if f.isClosed() {
		return 0, fs.ErrClosed
	}

	return f.file.ReadAt(p, off) //nolint:wrapcheck // Pass-through file
}

// Write writes len(p) bytes. Returns fs.ErrClosed after Close.
func (f *PooledSFTPFile) Write(p []byte) (int, error) {
	if f.isClosed() {
		return 0, fs.ErrClosed
	}

	return f.file.Write(p) //nolint:wrapcheck // Pass-through file
}

// Close closes the file and releases the session back to the pool.
// The session is released even when closing the file fails, so the pool
// cannot be exhausted by error paths. Close is idempotent.
func (f *PooledSFTPFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	f.closed = true

	fileErr := f.file.Close()

	f.pool.Release(f.client)

	return fileErr //nolint:wrapcheck // Pass-through file
}

// Stat returns file information. Returns fs.ErrClosed after Close.
func (f *PooledSFTPFile) Stat() (os.FileInfo, error) {
	if f.isClosed() {
		return nil, fs.ErrClosed
	}

	return f.file.Stat() //nolint:wrapcheck // Pass-through file
}

func (f *PooledSFTPFile) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}
