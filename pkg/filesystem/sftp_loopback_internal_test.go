//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package filesystem

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	pkgerrors "github.com/joe/netmedia/pkg/errors"
)

// sshTestServer is a loopback SSH server whose SFTP subsystem serves one
// shared in-memory tree. stall makes every SFTP reply hang.
type sshTestServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	handlers sftp.Handlers

	accepted atomic.Int64
	stall    atomic.Bool
	release  chan struct{}

	mu    sync.Mutex
	conns []net.Conn
}

func newSSHTestServer(t *testing.T) *sshTestServer {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}

	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) != "secret" {
				return nil, errors.New("password rejected")
			}

			return &ssh.Permissions{}, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	server := &sshTestServer{
		listener: listener,
		config:   config,
		handlers: sftp.InMemHandler(),
		release:  make(chan struct{}),
	}

	t.Cleanup(func() {
		close(server.release)
		_ = listener.Close()
		server.dropConnections()
	})

	go server.serve()

	return server
}

func (s *sshTestServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.accepted.Add(1)

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		go s.handle(conn)
	}
}

func (s *sshTestServer) handle(conn net.Conn) {
	_, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		_ = conn.Close()
		return
	}

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "session only")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}

		go s.session(channel, requests)
	}
}

func (s *sshTestServer) session(channel ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		isSFTP := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
		_ = req.Reply(isSFTP, nil)

		if !isSFTP {
			continue
		}

		server := sftp.NewRequestServer(stallingChannel{Channel: channel, server: s}, s.handlers)

		go func() {
			_ = server.Serve()
			_ = server.Close()
		}()
	}
}

// dropConnections closes every accepted TCP connection.
func (s *sshTestServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.conns {
		_ = conn.Close()
	}

	s.conns = nil
}

func (s *sshTestServer) port() int {
	_, portStr, _ := net.SplitHostPort(s.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	return port
}

// stallingChannel withholds SFTP replies while the server is stalled.
type stallingChannel struct {
	ssh.Channel
	server *sshTestServer
}

func (c stallingChannel) Write(p []byte) (int, error) {
	if c.server.stall.Load() {
		<-c.server.release
		return 0, io.ErrClosedPipe
	}

	return c.Channel.Write(p) //nolint:wrapcheck // Test transport
}

func newLoopbackSFTPClient(t *testing.T, server *sshTestServer, ioTimeout time.Duration) *SFTPClient {
	t.Helper()

	endpoint := Endpoint{Protocol: ProtocolSFTP, Host: "127.0.0.1", Port: server.port()}

	client := NewSFTPClient(endpoint, Auth{Username: "media", Password: "secret"}, Options{
		ConnectTimeout: 5 * time.Second,
		IOTimeout:      ioTimeout,
		Pool:           &PoolConfig{InitialSize: 1, MinSize: 1, MaxSize: 2},
	})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestSFTPClient_ReconnectsAfterConnectionDrop(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newSSHTestServer(t)
	client := newLoopbackSFTPClient(t, server, 5*time.Second)
	ctx := context.Background()

	g.Expect(client.Mkdir(ctx, "/photos")).Should(Succeed())

	server.dropConnections()

	g.Eventually(func() error {
		return client.Mkdir(ctx, "/photos/sorted")
	}).WithTimeout(5 * time.Second).WithPolling(20 * time.Millisecond).Should(Succeed())

	entry, err := client.Stat(ctx, "/photos/sorted")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(entry.IsDir).Should(BeTrue())
	g.Expect(server.accepted.Load()).Should(Equal(int64(2)), "one reconnect after the drop")
}

func TestSFTPClient_StalledServerSurfacesAsTimeout(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	server := newSSHTestServer(t)
	client := newLoopbackSFTPClient(t, server, 200*time.Millisecond)
	ctx := context.Background()

	g.Expect(client.Mkdir(ctx, "/photos")).Should(Succeed())

	// Idle time longer than the I/O timeout must not break the connection.
	time.Sleep(400 * time.Millisecond)

	_, err := client.Stat(ctx, "/photos")
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(server.accepted.Load()).Should(Equal(int64(1)))

	server.stall.Store(true)

	start := time.Now()
	_, err = client.Stat(ctx, "/photos")
	g.Expect(pkgerrors.KindOf(err)).Should(Equal(pkgerrors.KindTimeout))
	g.Expect(time.Since(start)).Should(BeNumerically("<", 5*time.Second))

	server.stall.Store(false)

	g.Eventually(func() error {
		_, err := client.Stat(ctx, "/photos")
		return err
	}).WithTimeout(5 * time.Second).WithPolling(20 * time.Millisecond).Should(Succeed())
}
