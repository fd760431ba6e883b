package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hirochachacha/go-smb2"
	"go.uber.org/zap"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
)

// Exported constants.
const (
	// SMBReadRetries bounds reconnect-and-retry attempts for one streamed read.
	SMBReadRetries = 3
	// SMBRetryBackoff is multiplied by the attempt number between retries.
	SMBRetryBackoff = 500 * time.Millisecond
)

// smbReadFile is the subset of *smb2.File used for reads.
type smbReadFile interface {
	io.ReaderAt
	io.Closer
	Stat() (os.FileInfo, error)
}

// smbShare is the subset of *smb2.Share the client uses.
type smbShare interface {
	WithContext(ctx context.Context) smbShare
	ReadDir(dir string) ([]os.FileInfo, error)
	Stat(name string) (os.FileInfo, error)
	Open(name string) (smbReadFile, error)
	Create(name string) (io.WriteCloser, error)
	Remove(name string) error
	Rename(oldPath, newPath string) error
	MkdirAll(p string, perm os.FileMode) error
	Umount() error
}

type smbSession interface {
	Mount(share string) (smbShare, error)
	Logoff() error
}

// smbWired is implemented by sessions that own a deadline-bounded connection.
type smbWired interface {
	wire() *deadlineConn
}

type smbDialFunc func(ctx context.Context, endpoint Endpoint, auth Auth, connectTimeout, ioTimeout time.Duration) (smbSession, error)

// smbMount is a snapshot of the current session.
type smbMount struct {
	share      smbShare
	generation int
	wire       *deadlineConn
}

// SMBClient implements Client over SMB2/3. The session and share mount are
// long-lived and shared by every operation until Close. A session whose
// transport fails is dropped and the next operation reconnects.
type SMBClient struct {
	endpoint Endpoint
	auth     Auth
	opts     Options
	logger   *zap.Logger
	dial     smbDialFunc

	retryBackoff time.Duration

	mu         sync.Mutex
	session    smbSession
	share      smbShare
	wire       *deadlineConn
	generation int
}

// NewSMBClient creates an unconnected SMB client for endpoint's share.
func NewSMBClient(endpoint Endpoint, auth Auth, opts Options) *SMBClient {
	opts = opts.withDefaults()

	if auth.Username == "" {
		auth.Username = endpoint.User
	}

	return &SMBClient{
		endpoint:     endpoint,
		auth:         auth,
		opts:         opts,
		logger:       opts.Logger.With(zap.String("endpoint", endpoint.ResourceKey()), zap.String("share", endpoint.Share)),
		dial:         dialSMB,
		retryBackoff: SMBRetryBackoff,
	}
}

// Protocol returns ProtocolSMB.
func (c *SMBClient) Protocol() Protocol { return ProtocolSMB }

// Endpoint returns the endpoint the client talks to.
func (c *SMBClient) Endpoint() Endpoint { return c.endpoint }

// Connect opens the session and mounts the share.
func (c *SMBClient) Connect(ctx context.Context) error {
	_, err := c.mounted(ctx)

	return c.classify("connect", "/", err)
}

// mounted returns the cached share, connecting if needed.
func (c *SMBClient) mounted(ctx context.Context) (smbMount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.share == nil {
		if err := c.connectLocked(ctx); err != nil {
			return smbMount{}, err
		}
	}

	return c.snapshotLocked(), nil
}

// reconnect replaces the session unless another caller already replaced the
// generation the caller observed.
func (c *SMBClient) reconnect(ctx context.Context, observed int) (smbMount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.share != nil && c.generation != observed {
		return c.snapshotLocked(), nil
	}

	c.dropLocked()

	if err := c.connectLocked(ctx); err != nil {
		return smbMount{}, err
	}

	c.logger.Info("smb session reconnected", zap.Int("generation", c.generation))

	return c.snapshotLocked(), nil
}

// invalidate drops the session of the given generation after a transport
// failure so the next operation reconnects.
func (c *SMBClient) invalidate(generation int, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.share == nil || c.generation != generation {
		return
	}

	c.logger.Warn("smb session lost, reconnecting on next use",
		zap.Int("generation", generation),
		zap.Error(cause))

	c.dropLocked()
}

func (c *SMBClient) snapshotLocked() smbMount {
	return smbMount{share: c.share, generation: c.generation, wire: c.wire}
}

func (c *SMBClient) connectLocked(ctx context.Context) error {
	session, err := c.dial(ctx, c.endpoint, c.auth, c.opts.ConnectTimeout, c.opts.IOTimeout)
	if err != nil {
		return err
	}

	var wire *deadlineConn
	if wired, ok := session.(smbWired); ok {
		wire = wired.wire()
	}

	end := wire.begin()
	share, err := session.Mount(c.endpoint.Share)

	end()

	if err != nil {
		_ = session.Logoff()
		return wire.stalled(err)
	}

	c.session = session
	c.share = share
	c.wire = wire
	c.generation++

	return nil
}

func (c *SMBClient) dropLocked() {
	if c.share != nil {
		_ = c.share.Umount()
		c.share = nil
	}

	if c.session != nil {
		_ = c.session.Logoff()
		c.session = nil
	}

	c.wire = nil
}

func (c *SMBClient) withShare(ctx context.Context, op, p string, fn func(smbShare) error) error {
	mount, err := c.mounted(ctx)
	if err != nil {
		return c.classify(op, p, err)
	}

	end := mount.wire.begin()
	err = c.classify(op, p, mount.wire.stalled(fn(mount.share.WithContext(ctx))))

	end()

	if transportLost(err) {
		c.invalidate(mount.generation, err)
	}

	return err
}

// List returns the entries of dir, or of its whole subtree when recursive.
func (c *SMBClient) List(ctx context.Context, dir string, recursive bool) ([]Entry, error) {
	dir = cleanRemote(dir)

	var entries []Entry

	err := c.withShare(ctx, "list", dir, func(share smbShare) error {
		pending := []string{dir}

		for len(pending) > 0 {
			if err := ctx.Err(); err != nil {
				return err //nolint:wrapcheck // Classified by withShare
			}

			current := pending[0]
			pending = pending[1:]

			infos, err := share.ReadDir(smbPath(current))
			if err != nil {
				if current == dir {
					return err //nolint:wrapcheck // Classified by withShare
				}

				c.logger.Warn("smb subdirectory listing failed", zap.String("path", current), zap.Error(err))

				continue
			}

			for _, info := range infos {
				entry := entryFromInfo(current, info)
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

// Stat returns the entry for p.
func (c *SMBClient) Stat(ctx context.Context, p string) (Entry, error) {
	p = cleanRemote(p)

	var entry Entry

	err := c.withShare(ctx, "stat", p, func(share smbShare) error {
		info, err := share.Stat(smbPath(p))
		if err != nil {
			return err //nolint:wrapcheck // Classified by withShare
		}

		entry = entryFromInfo(path.Dir(p), info)

		return nil
	})

	return entry, err
}

// ReadRange reads up to length bytes at offset.
func (c *SMBClient) ReadRange(ctx context.Context, p string, offset, length int64) ([]byte, error) {
	p = cleanRemote(p)

	reader, err := c.openStream(ctx, p, offset, int(min(length, int64(c.bufferSize()))))
	if err != nil {
		return nil, c.classify("read", p, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, length))
	if err != nil {
		return nil, c.classify("read", p, err)
	}

	return data, nil
}

// Download streams p into w through the read-ahead reader.
func (c *SMBClient) Download(ctx context.Context, p string, w io.Writer, progress ProgressFunc) error {
	p = cleanRemote(p)

	bufSize := c.bufferSize()

	reader, err := c.openStream(ctx, p, 0, bufSize)
	if err != nil {
		return c.classify("download", p, err)
	}
	defer reader.Close()

	stats, err := CopyStream(ctx, w, reader, reader.size, bufSize, progress)
	if err != nil {
		return c.classify("download", p, err)
	}

	c.opts.Advisor.RecordTransfer(c.endpoint.ResourceKey(), stats.BytesCopied, stats.Elapsed())

	return nil
}

// Upload streams r into p, replacing it. A partial file is removed on failure.
func (c *SMBClient) Upload(ctx context.Context, p string, r io.Reader, size int64, progress ProgressFunc) error {
	p = cleanRemote(p)

	return c.withShare(ctx, "upload", p, func(share smbShare) error {
		file, err := share.Create(smbPath(p))
		if err != nil {
			return err //nolint:wrapcheck // Classified by withShare
		}

		stats, copyErr := CopyStream(ctx, file, r, size, c.bufferSize(), progress)
		closeErr := file.Close()

		if copyErr == nil {
			copyErr = closeErr
		}

		if copyErr != nil {
			_ = share.WithContext(context.WithoutCancel(ctx)).Remove(smbPath(p))
			return copyErr
		}

		c.opts.Advisor.RecordTransfer(c.endpoint.ResourceKey(), stats.BytesCopied, stats.Elapsed())

		return nil
	})
}

// Delete removes a file or empty directory.
func (c *SMBClient) Delete(ctx context.Context, p string) error {
	p = cleanRemote(p)

	return c.withShare(ctx, "delete", p, func(share smbShare) error {
		return share.Remove(smbPath(p)) //nolint:wrapcheck // Classified by withShare
	})
}

// Rename moves oldPath to newPath inside the share.
func (c *SMBClient) Rename(ctx context.Context, oldPath, newPath string) error {
	oldPath, newPath = cleanRemote(oldPath), cleanRemote(newPath)

	return c.withShare(ctx, "rename", oldPath, func(share smbShare) error {
		return share.Rename(smbPath(oldPath), smbPath(newPath)) //nolint:wrapcheck // Classified by withShare
	})
}

// Mkdir creates p and any missing parents.
func (c *SMBClient) Mkdir(ctx context.Context, p string) error {
	p = cleanRemote(p)

	return c.withShare(ctx, "mkdir", p, func(share smbShare) error {
		return share.MkdirAll(smbPath(p), DefaultDirPermissions) //nolint:wrapcheck // Classified by withShare
	})
}

// Close unmounts the share and logs off.
func (c *SMBClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropLocked()

	return nil
}

// classify maps SMB status codes and transport failures before falling back
// to generic classification.
func (c *SMBClient) classify(op, p string, err error) error {
	var respErr *smb2.ResponseError
	if errors.As(err, &respErr) {
		if kind, ok := smbStatusKinds[respErr.Code]; ok {
			return pkgerrors.New(kind, op, c.endpoint.URL(p), err)
		}

		return pkgerrors.New(pkgerrors.KindProtocolError, op, c.endpoint.URL(p), err)
	}

	var transportErr *smb2.TransportError
	if errors.As(err, &transportErr) && pkgerrors.ClassifyKind(err) != pkgerrors.KindTimeout {
		return pkgerrors.New(pkgerrors.KindConnectionUnreachable, op, c.endpoint.URL(p), err)
	}

	return classify(c.endpoint, op, p, err)
}

// smbStatusKinds maps NTSTATUS codes to the error taxonomy.
//
//nolint:gochecknoglobals // Static lookup table
var smbStatusKinds = map[uint32]pkgerrors.Kind{
	0xC000000F: pkgerrors.KindNotFound,             // STATUS_NO_SUCH_FILE
	0xC0000034: pkgerrors.KindNotFound,             // STATUS_OBJECT_NAME_NOT_FOUND
	0xC000003A: pkgerrors.KindNotFound,             // STATUS_OBJECT_PATH_NOT_FOUND
	0xC00000CC: pkgerrors.KindNotFound,             // STATUS_BAD_NETWORK_NAME
	0xC0000022: pkgerrors.KindPermissionDenied,     // STATUS_ACCESS_DENIED
	0xC0000043: pkgerrors.KindPermissionDenied,     // STATUS_SHARING_VIOLATION
	0xC000006D: pkgerrors.KindAuthenticationFailed, // STATUS_LOGON_FAILURE
	0xC0000072: pkgerrors.KindAuthenticationFailed, // STATUS_ACCOUNT_DISABLED
	0xC00000B5: pkgerrors.KindTimeout,              // STATUS_IO_TIMEOUT
	0xC000035C: pkgerrors.KindConnectionUnreachable, // STATUS_NETWORK_SESSION_EXPIRED
}

func (c *SMBClient) bufferSize() int {
	return c.opts.Advisor.RecommendedBufferSize(c.endpoint.ResourceKey())
}

func (c *SMBClient) openStream(ctx context.Context, p string, offset int64, bufSize int) (*smbStreamReader, error) {
	mount, err := c.mounted(ctx)
	if err != nil {
		return nil, err
	}

	end := mount.wire.begin()
	file, err := mount.share.WithContext(ctx).Open(smbPath(p))

	end()

	if err != nil {
		err = mount.wire.stalled(err)
		if transportLost(c.classify("open", p, err)) {
			c.invalidate(mount.generation, err)
		}

		return nil, err
	}

	size := int64(-1)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	return &smbStreamReader{
		ctx:        ctx,
		client:     c,
		path:       p,
		file:       file,
		wire:       mount.wire,
		generation: mount.generation,
		size:       size,
		offset:     offset,
		buf:        make([]byte, max(bufSize, 1)),
	}, nil
}

// smbStreamReader is a read-ahead reader that survives dropped sessions.
// A read error that is not within one buffer of the declared end of file
// reconnects, reopens and retries at the same offset.
type smbStreamReader struct {
	ctx        context.Context //nolint:containedctx // Reader is consumed through io.Reader
	client     *SMBClient
	path       string
	file       smbReadFile
	wire       *deadlineConn
	generation int
	size       int64
	offset     int64 // next offset to fetch from the server
	buf        []byte
	start, end int
	eof        bool
}

func (r *smbStreamReader) Read(p []byte) (int, error) {
	if r.start == r.end {
		if r.eof {
			return 0, io.EOF
		}

		if err := r.fill(); err != nil {
			return 0, err
		}

		if r.start == r.end {
			return 0, io.EOF
		}
	}

	n := copy(p, r.buf[r.start:r.end])
	r.start += n

	return n, nil
}

func (r *smbStreamReader) fill() error {
	for attempt := 0; ; attempt++ {
		var (
			n   int
			err error
		)

		if r.file != nil {
			end := r.wire.begin()
			n, err = r.file.ReadAt(r.buf, r.offset)

			end()

			err = r.wire.stalled(err)
		} else {
			err = errSMBFileNotOpen
		}

		r.start, r.end = 0, n
		r.offset += int64(n)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, io.EOF):
			r.eof = true
			return nil
		case r.nearEOF():
			r.eof = true
			return nil
		case n > 0:
			// Hand out what arrived; the next fill retries from the new offset.
			return nil
		case attempt >= SMBReadRetries:
			return err
		}

		r.client.logger.Info("smb read failed, reconnecting",
			zap.String("path", r.path),
			zap.Int64("offset", r.offset),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if waitErr := sleepContext(r.ctx, time.Duration(attempt+1)*r.client.retryBackoff); waitErr != nil {
			return waitErr
		}

		r.reopen()
	}
}

func (r *smbStreamReader) reopen() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}

	mount, err := r.client.reconnect(r.ctx, r.generation)
	if err != nil {
		return
	}

	r.generation = mount.generation
	r.wire = mount.wire

	end := mount.wire.begin()
	file, err := mount.share.WithContext(r.ctx).Open(smbPath(r.path))

	end()

	if err != nil {
		return
	}

	r.file = file
}

func (r *smbStreamReader) nearEOF() bool {
	return r.size >= 0 && r.size-r.offset <= int64(len(r.buf))
}

// Close closes the open file handle.
func (r *smbStreamReader) Close() error {
	if r.file == nil {
		return nil
	}

	err := r.file.Close()
	r.file = nil

	return err //nolint:wrapcheck // Classified by the caller
}

var errSMBFileNotOpen = errors.New("smb: file handle lost")

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err() //nolint:wrapcheck // Classified by the caller
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck // Classified by the caller
	case <-timer.C:
		return nil
	}
}

// smbPath converts a slash-rooted path into a share-relative SMB path.
func smbPath(p string) string {
	return strings.ReplaceAll(strings.TrimPrefix(cleanRemote(p), "/"), "/", `\`)
}

// smbSessionAdapter and smbShareAdapter adapt go-smb2 types to the interfaces above.
type smbSessionAdapter struct {
	session *smb2.Session
	conn    *deadlineConn
}

func (s smbSessionAdapter) wire() *deadlineConn {
	return s.conn
}

func (s smbSessionAdapter) Mount(share string) (smbShare, error) {
	mounted, err := s.session.Mount(share)
	if err != nil {
		return nil, err //nolint:wrapcheck // Classified by the caller
	}

	return smbShareAdapter{mounted}, nil
}

// Logoff ends the session and closes the connection, which go-smb2 leaves
// open when the logoff request itself fails.
func (s smbSessionAdapter) Logoff() error {
	err := s.session.Logoff()
	_ = s.conn.Close()

	return err //nolint:wrapcheck // Best effort
}

type smbShareAdapter struct {
	*smb2.Share
}

func (s smbShareAdapter) WithContext(ctx context.Context) smbShare {
	return smbShareAdapter{s.Share.WithContext(ctx)}
}

func (s smbShareAdapter) Open(name string) (smbReadFile, error) {
	return s.Share.Open(name) //nolint:wrapcheck // Classified by the caller
}

func (s smbShareAdapter) Create(name string) (io.WriteCloser, error) {
	return s.Share.Create(name) //nolint:wrapcheck // Classified by the caller
}

func dialSMB(ctx context.Context, endpoint Endpoint, auth Auth, timeout, ioTimeout time.Duration) (smbSession, error) {
	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(endpoint.Host, strconv.Itoa(endpoint.Port)))
	if err != nil {
		return nil, fmt.Errorf("SMB connection failed: %w", err)
	}

	smbDialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     auth.Username,
			Password: auth.Password,
			Domain:   auth.Domain,
		},
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wire := newGuardedConn(conn, ioTimeout)

	session, err := smbDialer.DialContext(dialCtx, wire)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("SMB session setup failed: %w", err)
	}

	return smbSessionAdapter{session: session, conn: wire}, nil
}
