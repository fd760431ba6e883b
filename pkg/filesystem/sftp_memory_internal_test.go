package filesystem

import (
	"net"
	"sync"
	"testing"

	"github.com/pkg/sftp"
)

// memorySFTP serves every session from one shared in-memory tree.
type memorySFTP struct {
	handlers sftp.Handlers

	mu     sync.Mutex
	opened int
}

// newInMemorySFTPFactory returns a session factory whose sessions share one
// in-memory filesystem, plus a counter of sessions opened so far.
func newInMemorySFTPFactory(t *testing.T) (SFTPSessionFactory, func() int) {
	t.Helper()

	server := &memorySFTP{handlers: sftp.InMemHandler()}

	var (
		closersMu sync.Mutex
		closers   []func()
	)

	t.Cleanup(func() {
		closersMu.Lock()
		defer closersMu.Unlock()

		for _, closeFn := range closers {
			closeFn()
		}
	})

	factory := func() (*sftp.Client, error) {
		clientConn, serverConn := net.Pipe()

		requestServer := sftp.NewRequestServer(serverConn, server.handlers)

		go func() {
			_ = requestServer.Serve()
		}()

		client, err := sftp.NewClientPipe(clientConn, clientConn)
		if err != nil {
			_ = requestServer.Close()
			return nil, err
		}

		closersMu.Lock()
		closers = append(closers, func() {
			_ = client.Close()
			_ = requestServer.Close()
		})
		closersMu.Unlock()

		server.mu.Lock()
		server.opened++
		server.mu.Unlock()

		return client, nil
	}

	opened := func() int {
		server.mu.Lock()
		defer server.mu.Unlock()

		return server.opened
	}

	return factory, opened
}
