package filesystem

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sync"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
)

// SFTPClient implements Client over a pool of SFTP sessions sharing one SSH
// connection. The connection is opened on first use and kept until Close or
// until the SSH transport goes away, after which the next call reconnects.
type SFTPClient struct {
	endpoint Endpoint
	auth     Auth
	opts     Options
	logger   *zap.Logger

	mu   sync.Mutex
	conn *SFTPConnection
	pool *SFTPClientPool
}

// NewSFTPClient creates an unconnected SFTP client.
func NewSFTPClient(endpoint Endpoint, auth Auth, opts Options) *SFTPClient {
	opts = opts.withDefaults()

	if auth.Username == "" {
		auth.Username = endpoint.User
	}

	return &SFTPClient{
		endpoint: endpoint,
		auth:     auth,
		opts:     opts,
		logger:   opts.Logger.With(zap.String("endpoint", endpoint.ResourceKey())),
	}
}

// newSFTPClientWithPool wires a client to an existing pool. Used in tests.
func newSFTPClientWithPool(endpoint Endpoint, pool *SFTPClientPool, opts Options) *SFTPClient {
	client := NewSFTPClient(endpoint, Auth{}, opts)
	client.pool = pool

	return client
}

// Protocol returns ProtocolSFTP.
func (c *SFTPClient) Protocol() Protocol { return ProtocolSFTP }

// Endpoint returns the endpoint the client talks to.
func (c *SFTPClient) Endpoint() Endpoint { return c.endpoint }

// Connect opens the SSH connection and fills the session pool.
func (c *SFTPClient) Connect(ctx context.Context) error {
	_, _, err := c.sessions(ctx)

	return err
}

func (c *SFTPClient) sessions(ctx context.Context) (*SFTPClientPool, *SFTPConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return c.pool, c.conn, nil
	}

	conn, err := Connect(ctx, c.endpoint.Host, c.endpoint.Port, c.auth, c.opts.ConnectTimeout, c.opts.IOTimeout)
	if err != nil {
		return nil, nil, classify(c.endpoint, "connect", "/", err)
	}

	cfg := c.opts.Pool

	end := conn.wire.begin()
	pool, err := NewSFTPClientPoolWithLimits(SSHSessionFactory(conn.SSHClient()), cfg.InitialSize, cfg.MinSize, cfg.MaxSize)
	end()

	if err != nil {
		_ = conn.Close()
		return nil, nil, classify(c.endpoint, "connect", "/", conn.wire.stalled(err))
	}

	c.conn = conn
	c.pool = pool

	go c.watch(conn)

	c.logger.Info("sftp connected", zap.Int("sessions", pool.Size()))

	return pool, conn, nil
}

// watch drops conn and its pool once the SSH transport ends, unless Close or
// a newer connection already replaced it.
func (c *SFTPClient) watch(conn *SFTPConnection) {
	err := conn.SSHClient().Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}

	c.logger.Warn("sftp connection lost, reconnecting on next use",
		zap.Bool("stalled", conn.Expired()),
		zap.Error(err))

	_ = c.pool.Close()
	_ = conn.Close()
	c.pool = nil
	c.conn = nil
}

// guard arms the connection deadline for one operation. The returned func
// ends it and turns errors after a stall into timeouts.
func guard(conn *SFTPConnection) (func(), func(error) error) {
	if conn == nil {
		return func() {}, func(err error) error { return err }
	}

	return conn.wire.begin(), conn.wire.stalled
}

// withSession runs fn on a pooled session and classifies its error.
func (c *SFTPClient) withSession(ctx context.Context, op, p string, fn func(*sftp.Client) error) error {
	pool, conn, err := c.sessions(ctx)
	if err != nil {
		return err
	}

	session, err := pool.Acquire(ctx)
	if err != nil {
		return classify(c.endpoint, op, p, err)
	}
	defer pool.Release(session)

	end, stalled := guard(conn)
	defer end()

	return classify(c.endpoint, op, p, stalled(fn(session)))
}

// List returns the entries of dir, or of its whole subtree when recursive.
func (c *SFTPClient) List(ctx context.Context, dir string, recursive bool) ([]Entry, error) {
	dir = cleanRemote(dir)

	var entries []Entry

	err := c.withSession(ctx, "list", dir, func(session *sftp.Client) error {
		if recursive {
			var err error
			entries, err = collectWalk(ctx, session.Walk(dir), dir)

			return err
		}

		infos, err := session.ReadDir(dir)
		if err != nil {
			return err //nolint:wrapcheck // Classified by withSession
		}

		entries = make([]Entry, 0, len(infos))
		for _, info := range infos {
			entries = append(entries, entryFromInfo(dir, info))
		}

		return nil
	})

	return entries, err
}

// Stat returns the entry for p.
func (c *SFTPClient) Stat(ctx context.Context, p string) (Entry, error) {
	p = cleanRemote(p)

	var entry Entry

	err := c.withSession(ctx, "stat", p, func(session *sftp.Client) error {
		info, err := session.Stat(p)
		if err != nil {
			return err //nolint:wrapcheck // Classified by withSession
		}

		entry = entryFromInfo(path.Dir(p), info)

		return nil
	})

	return entry, err
}

// ReadRange reads up to length bytes at offset.
func (c *SFTPClient) ReadRange(ctx context.Context, p string, offset, length int64) ([]byte, error) {
	p = cleanRemote(p)

	var data []byte

	err := c.withSession(ctx, "read", p, func(session *sftp.Client) error {
		file, err := session.Open(p)
		if err != nil {
			return err //nolint:wrapcheck // Classified by withSession
		}
		defer file.Close()

		buf := make([]byte, max(length, 0))

		n, err := file.ReadAt(buf, offset)
		if err != nil && !errors.Is(err, io.EOF) {
			return err //nolint:wrapcheck // Classified by withSession
		}

		data = buf[:n]

		return nil
	})

	return data, err
}

// Download streams p into w. The session stays checked out until the stream ends.
func (c *SFTPClient) Download(ctx context.Context, p string, w io.Writer, progress ProgressFunc) error {
	p = cleanRemote(p)

	file, conn, err := c.open(ctx, p, func(session *sftp.Client) (*sftp.File, error) { return session.Open(p) })
	if err != nil {
		return classify(c.endpoint, "download", p, err)
	}
	defer file.Close()

	end, stalled := guard(conn)
	defer end()

	total := int64(-1)
	if info, err := file.Stat(); err == nil {
		total = info.Size()
	}

	key := c.endpoint.ResourceKey()

	stats, err := CopyStream(ctx, w, file, total, c.opts.Advisor.RecommendedBufferSize(key), progress)
	if err != nil {
		return classify(c.endpoint, "download", p, stalled(err))
	}

	c.opts.Advisor.RecordTransfer(key, stats.BytesCopied, stats.Elapsed())

	return nil
}

// Upload streams r into p, replacing it. A partial file is removed on failure.
func (c *SFTPClient) Upload(ctx context.Context, p string, r io.Reader, size int64, progress ProgressFunc) error {
	p = cleanRemote(p)

	file, conn, err := c.open(ctx, p, func(session *sftp.Client) (*sftp.File, error) { return session.Create(p) })
	if err != nil {
		return classify(c.endpoint, "upload", p, err)
	}

	end, stalled := guard(conn)

	key := c.endpoint.ResourceKey()

	stats, copyErr := CopyStream(ctx, file, r, size, c.opts.Advisor.RecommendedBufferSize(key), progress)
	closeErr := file.Close()

	end()

	if copyErr == nil {
		copyErr = closeErr
	}

	if copyErr != nil {
		_ = c.withSession(context.WithoutCancel(ctx), "cleanup", p, func(session *sftp.Client) error {
			return session.Remove(p) //nolint:wrapcheck // Best effort
		})

		return classify(c.endpoint, "upload", p, stalled(copyErr))
	}

	c.opts.Advisor.RecordTransfer(key, stats.BytesCopied, stats.Elapsed())

	return nil
}

func (c *SFTPClient) open(
	ctx context.Context,
	p string,
	opener func(*sftp.Client) (*sftp.File, error),
) (*PooledSFTPFile, *SFTPConnection, error) {
	pool, conn, err := c.sessions(ctx)
	if err != nil {
		return nil, nil, err
	}

	session, err := pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // Classified by the caller
	}

	end, stalled := guard(conn)
	file, err := opener(session)

	end()

	if err != nil {
		pool.Release(session)
		return nil, nil, stalled(err)
	}

	pooled, err := NewPooledSFTPFile(file, session, pool)
	if err != nil {
		_ = file.Close()
		pool.Release(session)

		return nil, nil, err
	}

	return pooled, conn, nil
}

// Delete removes a file or empty directory.
func (c *SFTPClient) Delete(ctx context.Context, p string) error {
	p = cleanRemote(p)

	return c.withSession(ctx, "delete", p, func(session *sftp.Client) error {
		return session.Remove(p) //nolint:wrapcheck // Classified by withSession
	})
}

// Rename moves oldPath to newPath on the server.
func (c *SFTPClient) Rename(ctx context.Context, oldPath, newPath string) error {
	oldPath, newPath = cleanRemote(oldPath), cleanRemote(newPath)

	return c.withSession(ctx, "rename", oldPath, func(session *sftp.Client) error {
		return session.Rename(oldPath, newPath) //nolint:wrapcheck // Classified by withSession
	})
}

// Mkdir creates p and any missing parents.
func (c *SFTPClient) Mkdir(ctx context.Context, p string) error {
	p = cleanRemote(p)

	return c.withSession(ctx, "mkdir", p, func(session *sftp.Client) error {
		return session.MkdirAll(p) //nolint:wrapcheck // Classified by withSession
	})
}

// Close closes the session pool and the SSH connection.
func (c *SFTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error

	if c.pool != nil {
		firstErr = c.pool.Close()
		c.pool = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}

		c.conn = nil
	}

	return firstErr
}

// ResizePool sets the target session pool size.
func (c *SFTPClient) ResizePool(targetSize int) {
	if pool := c.currentPool(); pool != nil {
		pool.Resize(targetSize)
	}
}

// PoolSize returns the current number of sessions.
func (c *SFTPClient) PoolSize() int {
	if pool := c.currentPool(); pool != nil {
		return pool.Size()
	}

	return 0
}

// PoolTargetSize returns the target number of sessions.
func (c *SFTPClient) PoolTargetSize() int {
	if pool := c.currentPool(); pool != nil {
		return pool.TargetSize()
	}

	return 0
}

// PoolMinSize returns the configured minimum pool size.
func (c *SFTPClient) PoolMinSize() int {
	return c.opts.Pool.MinSize
}

// PoolMaxSize returns the configured maximum pool size.
func (c *SFTPClient) PoolMaxSize() int {
	return c.opts.Pool.MaxSize
}

func (c *SFTPClient) currentPool() *SFTPClientPool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pool
}

func entryFromInfo(dir string, info os.FileInfo) Entry {
	return Entry{
		Name:    info.Name(),
		Path:    path.Join(dir, info.Name()),
		IsDir:   info.IsDir(),
		Size:    max(info.Size(), 0),
		ModTime: info.ModTime(),
	}
}
