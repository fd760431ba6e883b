package filesystem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Exported variables.
var (
	ErrPoolClosed = errors.New("pool is closed")
)

// SFTPSessionFactory opens one SFTP session.
type SFTPSessionFactory func() (*sftp.Client, error)

// SSHSessionFactory opens SFTP sessions over an existing SSH connection with
// concurrent writes enabled.
func SSHSessionFactory(sshClient *ssh.Client) SFTPSessionFactory {
	return func() (*sftp.Client, error) {
		// Concurrent writes can leave holes if a write fails mid-transfer;
		// uploads remove the partial file on error.
		return sftp.NewClient(sshClient, sftp.UseConcurrentWrites(true)) //nolint:wrapcheck // Wrapped by the pool
	}
}

// SFTPClientPool manages a pool of SFTP sessions over a single SSH connection.
// It uses a channel-based semaphore pattern for thread-safe concurrent access.
type SFTPClientPool struct {
	factory    SFTPSessionFactory
	clients    chan *sftp.Client // channel-based semaphore for pool
	maxSize    int               // maximum allowed pool size
	minSize    int               // minimum pool size (never scale below)
	targetSize int32             // desired pool size (atomic)
	actualSize int32             // current actual number of clients (atomic)
	mu         sync.Mutex        // protects closed flag
	closed     bool
}

// NewSFTPClientPoolWithLimits creates a new SFTP session pool with size limits.
// initialSize sessions are pre-created.
// Parameters must satisfy: 0 < minSize <= initialSize <= maxSize
func NewSFTPClientPoolWithLimits(factory SFTPSessionFactory, initialSize, minSize, maxSize int) (*SFTPClientPool, error) {
	if err := validatePoolLimits(initialSize, minSize, maxSize); err != nil {
		return nil, err
	}

	pool := &SFTPClientPool{
		factory:    factory,
		clients:    make(chan *sftp.Client, maxSize),
		minSize:    minSize,
		maxSize:    maxSize,
		targetSize: int32(initialSize), //nolint:gosec // Validated to be <= maxSize
		actualSize: int32(initialSize), //nolint:gosec // Validated to be <= maxSize
	}

	for i := range initialSize { //nolint:varnamelen // i is idiomatic loop counter
		client, err := pool.factory()
		if err != nil {
			close(pool.clients)
			for c := range pool.clients {
				_ = c.Close()
			}

			return nil, fmt.Errorf("failed to create client %d/%d: %w", i+1, initialSize, err)
		}
		pool.clients <- client
	}

	return pool, nil
}

// Acquire retrieves a session from the pool, blocking until one is free or
// ctx is done.
func (p *SFTPClientPool) Acquire(ctx context.Context) (*sftp.Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case client, ok := <-p.clients:
		if !ok {
			return nil, ErrPoolClosed
		}

		return client, nil
	case <-ctx.Done():
		return nil, ctx.Err() //nolint:wrapcheck // Classified by the caller
	}
}

// Close closes the pool and every idle session in it. Sessions still checked
// out are closed on Release. Close is idempotent and does not close the SSH
// connection the pool draws from.
func (p *SFTPClientPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.clients)

	var firstErr error
	for client := range p.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	atomic.StoreInt32(&p.actualSize, 0)
	atomic.StoreInt32(&p.targetSize, 0)

	return firstErr
}

// MaxSize returns the maximum pool size.
func (p *SFTPClientPool) MaxSize() int {
	return p.maxSize
}

// MinSize returns the minimum pool size.
func (p *SFTPClientPool) MinSize() int {
	return p.minSize
}

// Release returns a session to the pool.
// Closed pools close the session instead. When the pool is above its target
// size the session is closed (lazy scale-down, CAS guarded).
func (p *SFTPClientPool) Release(client *sftp.Client) {
	if client == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = client.Close()
		return
	}

	for {
		target := atomic.LoadInt32(&p.targetSize)
		actual := atomic.LoadInt32(&p.actualSize)

		if actual <= target {
			break
		}

		if atomic.CompareAndSwapInt32(&p.actualSize, actual, actual-1) {
			_ = client.Close()
			return
		}
	}

	select {
	case p.clients <- client:
	default:
		atomic.AddInt32(&p.actualSize, -1)
		_ = client.Close()
	}
}

// Resize changes the target pool size, clamped to [minSize, maxSize].
// Scale-up is eager, scale-down is lazy.
func (p *SFTPClientPool) Resize(targetSize int) {
	clamped := min(max(targetSize, p.minSize), p.maxSize)

	atomic.StoreInt32(&p.targetSize, int32(clamped)) //nolint:gosec // Clamped to [minSize, maxSize]

	p.scaleUp()
}

// Size returns the current actual number of sessions.
func (p *SFTPClientPool) Size() int {
	return int(atomic.LoadInt32(&p.actualSize))
}

// TargetSize returns the desired pool size.
func (p *SFTPClientPool) TargetSize() int {
	return int(atomic.LoadInt32(&p.targetSize))
}

// scaleUp creates sessions until targetSize is reached or creation fails.
func (p *SFTPClientPool) scaleUp() {
	for {
		target := atomic.LoadInt32(&p.targetSize)
		actual := atomic.LoadInt32(&p.actualSize)

		if actual >= target {
			return
		}

		client, err := p.factory()
		if err != nil {
			return
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = client.Close()

			return
		}

		select {
		case p.clients <- client:
			atomic.AddInt32(&p.actualSize, 1)
			p.mu.Unlock()
		default:
			p.mu.Unlock()
			_ = client.Close()

			return
		}
	}
}

func validatePoolLimits(initialSize, minSize, maxSize int) error {
	if minSize <= 0 {
		return fmt.Errorf("minSize must be greater than 0, got %d", minSize) //nolint:err113 // Validation error with actual values
	}

	if initialSize < minSize {
		return fmt.Errorf("initialSize (%d) must be >= minSize (%d)", initialSize, minSize) //nolint:err113 // Validation error with actual values
	}

	if initialSize > maxSize {
		return fmt.Errorf("initialSize (%d) must be <= maxSize (%d)", initialSize, maxSize) //nolint:err113 // Validation error with actual values
	}

	return nil
}

// PoolConfig configures the SFTP session pool size limits.
type PoolConfig struct {
	InitialSize int
	MinSize     int
	MaxSize     int
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		InitialSize: 2, //nolint:mnd // Matches the default SFTP throttle limit
		MinSize:     1,
		MaxSize:     8, //nolint:mnd // Upper bound on sessions per SSH connection
	}
}
