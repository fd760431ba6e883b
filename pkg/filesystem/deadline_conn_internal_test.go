//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	pkgerrors "github.com/joe/netmedia/pkg/errors"
)

type readResult struct {
	n   int
	err error
}

func TestDeadlineConn_UnguardedReadTimesOut(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	conn := newDeadlineConn(local, 20*time.Millisecond)

	_, err := conn.Read(make([]byte, 4))
	g.Expect(errors.Is(err, os.ErrDeadlineExceeded)).Should(BeTrue())
	g.Expect(conn.Expired()).Should(BeTrue())
}

func TestDeadlineConn_GuardedIdleReadWaits(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	conn := newGuardedConn(local, 20*time.Millisecond)

	go func() {
		time.Sleep(150 * time.Millisecond)
		_, _ = remote.Write([]byte("late"))
	}()

	buf := make([]byte, 4)
	n, err := conn.Read(buf)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(string(buf[:n])).Should(Equal("late"))
	g.Expect(conn.Expired()).Should(BeFalse())
}

func TestDeadlineConn_BeginArmsBlockedRead(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	conn := newGuardedConn(local, 50*time.Millisecond)

	results := make(chan readResult, 1)

	go func() {
		n, err := conn.Read(make([]byte, 4))
		results <- readResult{n: n, err: err}
	}()

	time.Sleep(100 * time.Millisecond)

	end := conn.begin()
	defer end()

	var result readResult
	g.Eventually(results).WithTimeout(2 * time.Second).Should(Receive(&result))
	g.Expect(errors.Is(result.err, os.ErrDeadlineExceeded)).Should(BeTrue())
	g.Expect(conn.Expired()).Should(BeTrue())
}

func TestDeadlineConn_StalledRewritesTransportErrors(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	conn := newGuardedConn(local, 20*time.Millisecond)
	g.Expect(conn.stalled(io.EOF)).Should(MatchError(io.EOF), "untouched before a deadline fires")

	end := conn.begin()
	_, err := conn.Read(make([]byte, 4))
	end()

	g.Expect(err).Should(HaveOccurred())

	rewritten := conn.stalled(io.EOF)
	g.Expect(errors.Is(rewritten, io.EOF)).Should(BeFalse(), "a stall is never a clean end of stream")
	g.Expect(rewritten.Error()).Should(ContainSubstring("EOF"))
	g.Expect(pkgerrors.ClassifyKind(rewritten)).Should(Equal(pkgerrors.KindTimeout))
	g.Expect(conn.stalled(nil)).Should(Succeed())

	var nilConn *deadlineConn
	g.Expect(nilConn.stalled(io.EOF)).Should(MatchError(io.EOF))
}

func TestTransportLost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		lost bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"closed conn", fmt.Errorf("read: %w", net.ErrClosed), true},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, true},
		{"io deadline", os.ErrDeadlineExceeded, true},
		{"caller deadline", context.DeadlineExceeded, false},
		{"caller cancel", context.Canceled, false},
		{"not found", pkgerrors.New(pkgerrors.KindNotFound, "stat", "/a", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			g.Expect(transportLost(tt.err)).Should(Equal(tt.lost))
		})
	}
}
