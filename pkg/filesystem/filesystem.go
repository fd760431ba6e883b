// Package filesystem provides the endpoint model and a uniform Client over the
// SMB, SFTP, FTP and local transports.
//
// Every error leaving a Client is a *errors.Error carrying a taxonomy kind;
// transport-specific error types never cross this boundary.
package filesystem

import (
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
)

// Exported constants.
const (
	// DefaultBufferSize is the stream buffer used when no throughput history exists (64KB).
	DefaultBufferSize = 64 * 1024
	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultIOTimeout bounds a single read or write on an established connection.
	DefaultIOTimeout = 60 * time.Second
	// DefaultDirPermissions is the permission mode for created local directories.
	DefaultDirPermissions = 0o750
	// TrashDirPrefix names soft-delete trash directories. Scans never
	// surface or descend into them.
	TrashDirPrefix = ".trash_"
)

// IsTrashDir reports whether name is a soft-delete trash directory.
func IsTrashDir(name string) bool {
	return strings.HasPrefix(name, TrashDirPrefix)
}

// Entry is one item of a raw directory listing.
type Entry struct {
	Name    string
	Path    string // location inside the endpoint
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// ProgressFunc receives byte progress during a transfer. total is -1 when unknown.
type ProgressFunc func(transferred, total int64)

// Auth carries the secrets needed to open a session.
type Auth struct {
	Username   string
	Password   string
	PrivateKey []byte // PEM encoded
	Passphrase string
	Domain     string // SMB/NTLM domain
}

// IsZero reports whether no secret or user was supplied.
func (a Auth) IsZero() bool {
	return a.Username == "" && a.Password == "" && len(a.PrivateKey) == 0
}

// Client is the low-level primitive set every transport implements.
// Paths are locations inside the client's endpoint.
type Client interface {
	Protocol() Protocol
	Endpoint() Endpoint

	// Connect establishes (or validates) the session. Other methods connect lazily.
	Connect(ctx context.Context) error

	// List returns the entries of dir; with recursive it returns the whole subtree.
	List(ctx context.Context, dir string, recursive bool) ([]Entry, error)
	Stat(ctx context.Context, path string) (Entry, error)

	// ReadRange returns up to length bytes starting at offset. A short result
	// means the file ended.
	ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error)
	Download(ctx context.Context, path string, w io.Writer, progress ProgressFunc) error
	Upload(ctx context.Context, path string, r io.Reader, size int64, progress ProgressFunc) error

	Delete(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	// Mkdir creates path and any missing parents.
	Mkdir(ctx context.Context, path string) error

	Close() error
}

// BufferAdvisor recommends stream buffer sizes from observed throughput.
type BufferAdvisor interface {
	RecommendedBufferSize(resourceKey string) int
	RecordTransfer(resourceKey string, bytes int64, elapsed time.Duration)
}

// Options tune client construction. The zero value is usable.
type Options struct {
	Logger         *zap.Logger
	Advisor        BufferAdvisor
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	Pool           *PoolConfig
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	if o.Advisor == nil {
		o.Advisor = fixedAdvisor{}
	}

	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}

	if o.IOTimeout <= 0 {
		o.IOTimeout = DefaultIOTimeout
	}

	if o.Pool == nil {
		o.Pool = DefaultPoolConfig()
	}

	return o
}

type fixedAdvisor struct{}

func (fixedAdvisor) RecommendedBufferSize(string) int { return DefaultBufferSize }

func (fixedAdvisor) RecordTransfer(string, int64, time.Duration) {}

// classify converts err into the taxonomy, naming the endpoint URL of p.
func classify(endpoint Endpoint, op, p string, err error) error {
	return pkgerrors.Classify(op, endpoint.URL(p), err)
}
