package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
)

// deadlineConn extends the read/write deadline before every I/O call so a
// stalled transfer surfaces as a timeout instead of hanging.
//
// A guarded conn only bounds reads while an operation holds it through begin.
// SSH and SMB keep a background reader blocked on the socket, and an idle
// pooled connection must not expire.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
	guarded bool

	mu      sync.Mutex
	active  int
	expired atomic.Bool
}

// newDeadlineConn bounds every read and write on conn.
func newDeadlineConn(conn net.Conn, timeout time.Duration) *deadlineConn {
	return &deadlineConn{Conn: conn, timeout: timeout}
}

// newGuardedConn bounds writes always and reads only during operations.
func newGuardedConn(conn net.Conn, timeout time.Duration) *deadlineConn {
	return &deadlineConn{Conn: conn, timeout: timeout, guarded: true}
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		c.mu.Lock()
		if !c.guarded || c.active > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
		}
		c.mu.Unlock()
	}

	n, err := c.Conn.Read(p)
	c.note(err)

	return n, err //nolint:wrapcheck // Pass-through conn
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}

	n, err := c.Conn.Write(p)
	c.note(err)

	return n, err //nolint:wrapcheck // Pass-through conn
}

func (c *deadlineConn) note(err error) {
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		c.expired.Store(true)
	}
}

// begin marks an operation in flight and arms the read deadline, including
// for a read already blocked in the background. The returned func ends it.
func (c *deadlineConn) begin() func() {
	if c == nil || c.timeout <= 0 {
		return func() {}
	}

	c.mu.Lock()
	c.active++
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	c.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			c.active--
			if c.active == 0 {
				_ = c.Conn.SetReadDeadline(time.Time{})
			}
		})
	}
}

// Expired reports whether a deadline has fired on the connection.
func (c *deadlineConn) Expired() bool {
	return c != nil && c.expired.Load()
}

// stalled rewrites err as a timeout once the connection has expired. After a
// deadline fires the libraries report the torn-down transport, not the cause.
// The original error is kept as text only so a reported io.EOF cannot pass
// for a clean end of stream.
func (c *deadlineConn) stalled(err error) error {
	if err == nil || !c.Expired() || errors.Is(err, os.ErrDeadlineExceeded) {
		return err
	}

	return fmt.Errorf("connection stalled for %s: %w (%v)", c.timeout, os.ErrDeadlineExceeded, err) //nolint:errorlint // Cause kept as text
}

// transportLost reports whether err means the connection under a cached
// session is unusable. Caller cancellation does not count.
func transportLost(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	switch pkgerrors.KindOf(pkgerrors.Classify("", "", err)) {
	case pkgerrors.KindConnectionUnreachable, pkgerrors.KindTimeout:
		return true
	default:
		return false
	}
}
