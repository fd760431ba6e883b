package filesystem

import (
	"context"
	"io"
	"net"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
)

// ftpMode selects how data connections are negotiated.
type ftpMode int

// Data connection modes. jlaffaye/ftp only speaks passive mode, so the
// fallback disables EPSV and MLSD, which is what trips most NAT and
// firewall setups that break the default negotiation.
const (
	ftpModePassive ftpMode = iota
	ftpModeCompat
)

func (m ftpMode) String() string {
	if m == ftpModeCompat {
		return "compat-passive"
	}

	return "passive"
}

// ftpConn is the subset of *ftp.ServerConn the client uses.
type ftpConn interface {
	Login(user, password string) error
	List(path string) ([]*ftp.Entry, error)
	RetrFrom(path string, offset uint64) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Delete(path string) error
	RemoveDir(path string) error
	Rename(from, to string) error
	MakeDir(path string) error
	Quit() error
}

type ftpDialFunc func(ctx context.Context, addr string, mode ftpMode, connectTimeout, ioTimeout time.Duration) (ftpConn, error)

// FTPClient implements Client over FTP using a fresh control connection per
// logical operation, so no server-side session slot is held between calls.
type FTPClient struct {
	endpoint Endpoint
	auth     Auth
	opts     Options
	logger   *zap.Logger
	dial     ftpDialFunc

	fallbacks atomic.Int64
}

// NewFTPClient creates an FTP client. Empty credentials log in anonymously.
func NewFTPClient(endpoint Endpoint, auth Auth, opts Options) *FTPClient {
	opts = opts.withDefaults()

	if auth.Username == "" {
		auth.Username = endpoint.User
	}

	if auth.Username == "" {
		auth.Username = "anonymous"
		auth.Password = "anonymous"
	}

	return &FTPClient{
		endpoint: endpoint,
		auth:     auth,
		opts:     opts,
		logger:   opts.Logger.With(zap.String("endpoint", endpoint.ResourceKey())),
		dial:     dialFTP,
	}
}

// Protocol returns ProtocolFTP.
func (c *FTPClient) Protocol() Protocol { return ProtocolFTP }

// Endpoint returns the endpoint the client talks to.
func (c *FTPClient) Endpoint() Endpoint { return c.endpoint }

// Fallbacks returns how many operations were retried in fallback mode.
func (c *FTPClient) Fallbacks() int64 { return c.fallbacks.Load() }

// Connect verifies that the server accepts the credentials.
func (c *FTPClient) Connect(ctx context.Context) error {
	return c.do(ctx, "connect", "/", false, func(ftpConn) error { return nil })
}

// do runs fn on a fresh logged-in connection. When retryOnTimeout is set and
// the first attempt times out, fn is retried exactly once in fallback mode;
// the next operation starts in passive mode again.
func (c *FTPClient) do(ctx context.Context, op, p string, retryOnTimeout bool, fn func(ftpConn) error) error {
	err := c.attempt(ctx, ftpModePassive, fn)

	if err != nil && retryOnTimeout && ctx.Err() == nil && pkgerrors.ClassifyKind(err) == pkgerrors.KindTimeout {
		c.fallbacks.Add(1)
		c.logger.Info("ftp timeout, retrying in fallback mode",
			zap.String("op", op),
			zap.String("path", p),
			zap.Stringer("mode", ftpModeCompat),
			zap.Error(err))

		err = c.attempt(ctx, ftpModeCompat, fn)
	}

	return classify(c.endpoint, op, p, err)
}

func (c *FTPClient) attempt(ctx context.Context, mode ftpMode, fn func(ftpConn) error) error {
	addr := net.JoinHostPort(c.endpoint.Host, strconv.Itoa(c.endpoint.Port))

	conn, err := c.dial(ctx, addr, mode, c.opts.ConnectTimeout, c.opts.IOTimeout)
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Quit()
	}()

	if err := conn.Login(c.auth.Username, c.auth.Password); err != nil {
		return err //nolint:wrapcheck // Classified by do
	}

	return fn(conn)
}

// List returns the entries of dir, or of its whole subtree when recursive.
// The subtree is walked on a single connection.
func (c *FTPClient) List(ctx context.Context, dir string, recursive bool) ([]Entry, error) {
	dir = cleanRemote(dir)

	var entries []Entry

	err := c.do(ctx, "list", dir, true, func(conn ftpConn) error {
		entries = entries[:0]
		pending := []string{dir}

		for len(pending) > 0 {
			if err := ctx.Err(); err != nil {
				return err //nolint:wrapcheck // Classified by do
			}

			current := pending[0]
			pending = pending[1:]

			listed, err := conn.List(current)
			if err != nil {
				if current == dir {
					return err //nolint:wrapcheck // Classified by do
				}

				c.logger.Warn("ftp subdirectory listing failed", zap.String("path", current), zap.Error(err))

				continue
			}

			for _, item := range listed {
				entry, ok := entryFromFTP(current, item)
				if !ok {
					continue
				}

				entries = append(entries, entry)

				if recursive && entry.IsDir {
					pending = append(pending, entry.Path)
				}
			}
		}

		return nil
	})

	return entries, err
}

// Stat finds p in its parent's listing.
func (c *FTPClient) Stat(ctx context.Context, p string) (Entry, error) {
	p = cleanRemote(p)
	if p == "/" {
		return Entry{Name: "/", Path: "/", IsDir: true}, nil
	}

	parent, name := path.Split(p)

	entries, err := c.List(ctx, parent, false)
	if err != nil {
		return Entry{}, err
	}

	for _, entry := range entries {
		if entry.Name == name {
			return entry, nil
		}
	}

	return Entry{}, pkgerrors.New(pkgerrors.KindNotFound, "stat", c.endpoint.URL(p), nil)
}

// ReadRange reads up to length bytes at offset using REST.
func (c *FTPClient) ReadRange(ctx context.Context, p string, offset, length int64) ([]byte, error) {
	p = cleanRemote(p)

	var data []byte

	err := c.do(ctx, "read", p, true, func(conn ftpConn) error {
		resp, err := conn.RetrFrom(p, uint64(max(offset, 0))) //nolint:gosec // Clamped to non-negative
		if err != nil {
			return err //nolint:wrapcheck // Classified by do
		}

		// Closing early aborts the transfer; the server's 426 reply is expected.
		defer func() {
			_ = resp.Close()
		}()

		data, err = io.ReadAll(io.LimitReader(resp, length))

		return err //nolint:wrapcheck // Classified by do
	})

	return data, err
}

// Download streams p into w. A fallback retry resumes at the byte offset the
// first attempt reached, so w never receives duplicate data.
func (c *FTPClient) Download(ctx context.Context, p string, w io.Writer, progress ProgressFunc) error {
	p = cleanRemote(p)

	key := c.endpoint.ResourceKey()

	var written int64

	var elapsed time.Duration

	err := c.do(ctx, "download", p, true, func(conn ftpConn) error {
		resp, err := conn.RetrFrom(p, uint64(written)) //nolint:gosec // written is never negative
		if err != nil {
			return err //nolint:wrapcheck // Classified by do
		}

		base := written

		stats, copyErr := CopyStream(ctx, w, resp, -1, c.opts.Advisor.RecommendedBufferSize(key), func(n, _ int64) {
			if progress != nil {
				progress(base+n, -1)
			}
		})
		written += stats.BytesCopied
		elapsed += stats.Elapsed()

		closeErr := resp.Close()
		if copyErr != nil {
			return copyErr
		}

		return closeErr //nolint:wrapcheck // Classified by do
	})
	if err != nil {
		return err
	}

	c.opts.Advisor.RecordTransfer(key, written, elapsed)

	return nil
}

// Upload streams r into p with STOR. A partial file is removed on failure.
func (c *FTPClient) Upload(ctx context.Context, p string, r io.Reader, size int64, progress ProgressFunc) error {
	p = cleanRemote(p)

	reader := &progressReader{ctx: ctx, reader: r, total: size, progress: progress}
	start := time.Now()

	err := c.do(ctx, "upload", p, false, func(conn ftpConn) error {
		if err := conn.Stor(p, reader); err != nil {
			_ = conn.Delete(p)
			return err //nolint:wrapcheck // Classified by do
		}

		return nil
	})
	if err != nil {
		return err
	}

	c.opts.Advisor.RecordTransfer(c.endpoint.ResourceKey(), reader.read, time.Since(start))

	return nil
}

// Delete removes a file, or an empty directory when p is one.
func (c *FTPClient) Delete(ctx context.Context, p string) error {
	p = cleanRemote(p)

	return c.do(ctx, "delete", p, false, func(conn ftpConn) error {
		err := conn.Delete(p)
		if err == nil {
			return nil
		}

		if dirErr := conn.RemoveDir(p); dirErr == nil {
			return nil
		}

		return err //nolint:wrapcheck // Classified by do
	})
}

// Rename moves oldPath to newPath with RNFR/RNTO.
func (c *FTPClient) Rename(ctx context.Context, oldPath, newPath string) error {
	oldPath, newPath = cleanRemote(oldPath), cleanRemote(newPath)

	return c.do(ctx, "rename", oldPath, false, func(conn ftpConn) error {
		return conn.Rename(oldPath, newPath) //nolint:wrapcheck // Classified by do
	})
}

// Mkdir creates p and any missing parents. Existing components are tolerated.
func (c *FTPClient) Mkdir(ctx context.Context, p string) error {
	p = cleanRemote(p)

	return c.do(ctx, "mkdir", p, false, func(conn ftpConn) error {
		current := "/"
		for _, part := range splitRemote(p) {
			current = path.Join(current, part)

			if err := conn.MakeDir(current); err != nil && !ftpDirExists(conn, current, err) {
				return err //nolint:wrapcheck // Classified by do
			}
		}

		return nil
	})
}

// Close is a no-op; FTP holds no connection between operations.
func (c *FTPClient) Close() error {
	return nil
}

func entryFromFTP(dir string, item *ftp.Entry) (Entry, bool) {
	if item.Name == "." || item.Name == ".." || item.Name == "" {
		return Entry{}, false
	}

	size := int64(item.Size) //nolint:gosec // Sizes beyond int64 do not occur
	if size < 0 {
		size = 0
	}

	return Entry{
		Name:    item.Name,
		Path:    path.Join(dir, item.Name),
		IsDir:   item.Type == ftp.EntryTypeFolder,
		Size:    size,
		ModTime: item.Time,
	}, true
}

// ftpDirExists reports whether a failed MKD of dir left an existing
// directory behind. Servers answer 550 both for "exists" and for refusals,
// so the parent listing decides.
func ftpDirExists(conn ftpConn, dir string, mkdErr error) bool {
	if pkgerrors.ClassifyKind(mkdErr) != pkgerrors.KindNotFound {
		return false
	}

	parent, name := path.Split(dir)

	listed, err := conn.List(cleanRemote(parent))
	if err != nil {
		return false
	}

	for _, item := range listed {
		if item.Name == name {
			return item.Type == ftp.EntryTypeFolder
		}
	}

	return false
}

func splitRemote(p string) []string {
	var parts []string

	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}

	return parts
}

// serverConn adapts *ftp.ServerConn to ftpConn.
type serverConn struct {
	*ftp.ServerConn
}

func (s serverConn) RetrFrom(p string, offset uint64) (io.ReadCloser, error) {
	return s.ServerConn.RetrFrom(p, offset) //nolint:wrapcheck // Classified by do
}

func dialFTP(ctx context.Context, addr string, mode ftpMode, connectTimeout, ioTimeout time.Duration) (ftpConn, error) {
	dialer := &net.Dialer{Timeout: connectTimeout}

	options := []ftp.DialOption{
		ftp.DialWithTimeout(connectTimeout),
		ftp.DialWithDialFunc(func(network, address string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, address)
			if err != nil {
				return nil, err //nolint:wrapcheck // Classified by do
			}

			return newDeadlineConn(conn, ioTimeout), nil
		}),
	}

	if mode == ftpModeCompat {
		options = append(options, ftp.DialWithDisabledEPSV(true), ftp.DialWithDisabledMLSD(true))
	}

	conn, err := ftp.Dial(addr, options...)
	if err != nil {
		return nil, err //nolint:wrapcheck // Classified by do
	}

	return serverConn{conn}, nil
}
