// Package throttle bounds concurrent connections per remote resource and
// recommends I/O buffer sizes from observed throughput.
//
// A Manager is created once by the application and shared by every scanner,
// client and transfer that talks to a remote host.
package throttle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
)

// Exported constants.
const (
	// DefaultSMBLimit is the concurrent connection limit for SMB resources.
	DefaultSMBLimit = 4
	// DefaultSFTPLimit is the concurrent connection limit for SFTP resources.
	DefaultSFTPLimit = 2
	// DefaultFTPLimit is the concurrent connection limit for FTP resources.
	DefaultFTPLimit = 2
	// DefaultLocalLimit is the concurrent limit for local disk I/O.
	DefaultLocalLimit = 8
	// DefaultCloudLimit is the concurrent limit for cloud resources.
	DefaultCloudLimit = 4
)

// Metrics receives throttle state changes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	SlotsInUse(protocol filesystem.Protocol, delta int)
	Waiters(protocol filesystem.Protocol, delta int)
	ObserveWait(protocol filesystem.Protocol, wait time.Duration)
}

// Config holds per-protocol limits and buffer sizing parameters.
type Config struct {
	Limits map[filesystem.Protocol]int

	MinBufferSize int
	MaxBufferSize int
	// TargetChunkTime is how much transfer time one buffer should cover.
	TargetChunkTime time.Duration
	// Smoothing is the EMA weight of the newest throughput sample.
	Smoothing float64
}

// DefaultConfig returns the default limits and buffer sizing.
func DefaultConfig() Config {
	return Config{
		Limits: map[filesystem.Protocol]int{
			filesystem.ProtocolSMB:   DefaultSMBLimit,
			filesystem.ProtocolSFTP:  DefaultSFTPLimit,
			filesystem.ProtocolFTP:   DefaultFTPLimit,
			filesystem.ProtocolLocal: DefaultLocalLimit,
			filesystem.ProtocolCloud: DefaultCloudLimit,
		},
		MinBufferSize:   MinBufferSize,
		MaxBufferSize:   MaxBufferSize,
		TargetChunkTime: TargetChunkTime,
		Smoothing:       Smoothing,
	}
}

// Limit returns the configured limit for protocol, never less than 1.
func (c Config) Limit(protocol filesystem.Protocol) int {
	if limit, ok := c.Limits[protocol]; ok && limit > 0 {
		return limit
	}

	if limit, ok := DefaultConfig().Limits[protocol]; ok {
		return limit
	}

	return 1
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// Manager is the admission-control gate. The zero value is not usable; use New.
type Manager struct {
	cfg     Config
	logger  *zap.Logger
	metrics Metrics

	mu        sync.Mutex
	resources map[string]*resource

	rates *rateTracker
}

// resource tracks slots and waiters for one resource key.
type resource struct {
	protocol filesystem.Protocol
	limit    int
	inUse    int
	high     []*waiter
	low      []*waiter
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// New creates a Manager.
func New(cfg Config, opts ...Option) *Manager {
	defaults := DefaultConfig()

	if cfg.MinBufferSize <= 0 {
		cfg.MinBufferSize = defaults.MinBufferSize
	}

	if cfg.MaxBufferSize < cfg.MinBufferSize {
		cfg.MaxBufferSize = max(defaults.MaxBufferSize, cfg.MinBufferSize)
	}

	if cfg.TargetChunkTime <= 0 {
		cfg.TargetChunkTime = defaults.TargetChunkTime
	}

	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = defaults.Smoothing
	}

	manager := &Manager{
		cfg:       cfg,
		logger:    zap.NewNop(),
		metrics:   noopMetrics{},
		resources: make(map[string]*resource),
		rates:     newRateTracker(cfg),
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager
}

// Acquire blocks until a slot for resourceKey is free. High-priority callers
// are queued ahead of every waiting low-priority caller. The only error is a
// KindCancelled error when ctx ends first; no slot is held in that case.
func (m *Manager) Acquire(
	ctx context.Context,
	protocol filesystem.Protocol,
	resourceKey string,
	highPriority bool,
) (*Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, pkgerrors.New(pkgerrors.KindCancelled, "acquire", resourceKey, err)
	}

	m.mu.Lock()

	res := m.resourceLocked(protocol, resourceKey)

	if res.inUse < res.limit && len(res.high) == 0 && len(res.low) == 0 {
		res.inUse++
		m.mu.Unlock()

		m.metrics.SlotsInUse(protocol, 1)
		m.metrics.ObserveWait(protocol, 0)

		return m.newSlot(protocol, resourceKey), nil
	}

	w := &waiter{ready: make(chan struct{})} //nolint:varnamelen // w is the waiter
	if highPriority {
		res.high = append(res.high, w)
	} else {
		res.low = append(res.low, w)
	}

	m.mu.Unlock()

	m.metrics.Waiters(protocol, 1)
	defer m.metrics.Waiters(protocol, -1)

	start := time.Now()

	select {
	case <-w.ready:
		m.metrics.ObserveWait(protocol, time.Since(start))

		return m.newSlot(protocol, resourceKey), nil
	case <-ctx.Done():
	}

	m.mu.Lock()

	if w.granted {
		// Granted while ctx ended; hand the slot on to the next waiter.
		m.mu.Unlock()
		m.release(protocol, resourceKey)

		return nil, pkgerrors.New(pkgerrors.KindCancelled, "acquire", resourceKey, ctx.Err())
	}

	res.high = removeWaiter(res.high, w)
	res.low = removeWaiter(res.low, w)
	m.mu.Unlock()

	m.logger.Debug("throttle wait cancelled",
		zap.String("resource", resourceKey),
		zap.Duration("waited", time.Since(start)))

	return nil, pkgerrors.New(pkgerrors.KindCancelled, "acquire", resourceKey, ctx.Err())
}

// Do runs fn while holding a slot and always releases it.
func (m *Manager) Do(
	ctx context.Context,
	protocol filesystem.Protocol,
	resourceKey string,
	highPriority bool,
	fn func(ctx context.Context) error,
) error {
	slot, err := m.Acquire(ctx, protocol, resourceKey, highPriority)
	if err != nil {
		return err
	}
	defer slot.Release()

	return fn(ctx)
}

// InUse returns how many slots are held for resourceKey.
func (m *Manager) InUse(resourceKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if res, ok := m.resources[resourceKey]; ok {
		return res.inUse
	}

	return 0
}

// Waiting returns how many callers are queued for resourceKey.
func (m *Manager) Waiting(resourceKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if res, ok := m.resources[resourceKey]; ok {
		return len(res.high) + len(res.low)
	}

	return 0
}

// Limit returns the limit applied to protocol.
func (m *Manager) Limit(protocol filesystem.Protocol) int {
	return m.cfg.Limit(protocol)
}

// RecordTransfer feeds a completed transfer into the throughput average for
// resourceKey.
func (m *Manager) RecordTransfer(resourceKey string, bytes int64, elapsed time.Duration) {
	m.rates.record(resourceKey, bytes, elapsed)
}

// RecommendedBufferSize returns a buffer size for resourceKey derived from
// its recent throughput, or the minimum when nothing has been observed.
func (m *Manager) RecommendedBufferSize(resourceKey string) int {
	return m.rates.bufferSize(resourceKey)
}

// Throughput returns the smoothed bytes/sec for resourceKey, 0 if unknown.
func (m *Manager) Throughput(resourceKey string) float64 {
	return m.rates.rate(resourceKey)
}

func (m *Manager) resourceLocked(protocol filesystem.Protocol, key string) *resource {
	res, ok := m.resources[key]
	if !ok {
		res = &resource{protocol: protocol, limit: m.cfg.Limit(protocol)}
		m.resources[key] = res
	}

	return res
}

func (m *Manager) newSlot(protocol filesystem.Protocol, key string) *Slot {
	return &Slot{manager: m, protocol: protocol, key: key}
}

// release frees one slot and grants it to the next waiter, high priority first.
func (m *Manager) release(protocol filesystem.Protocol, key string) {
	m.mu.Lock()

	res, ok := m.resources[key]
	if !ok || res.inUse == 0 {
		m.mu.Unlock()
		return
	}

	res.inUse--
	granted := 0

	for res.inUse < res.limit {
		var next *waiter

		switch {
		case len(res.high) > 0:
			next, res.high = res.high[0], res.high[1:]
		case len(res.low) > 0:
			next, res.low = res.low[0], res.low[1:]
		}

		if next == nil {
			break
		}

		res.inUse++
		next.granted = true
		close(next.ready)

		granted++
	}

	if res.inUse == 0 && len(res.high) == 0 && len(res.low) == 0 {
		delete(m.resources, key)
	}

	m.mu.Unlock()

	if delta := granted - 1; delta != 0 {
		m.metrics.SlotsInUse(protocol, delta)
	}
}

func removeWaiter(queue []*waiter, target *waiter) []*waiter {
	for i, w := range queue {
		if w == target {
			return append(queue[:i], queue[i+1:]...)
		}
	}

	return queue
}

// Slot is an admission ticket for one resource. Release is idempotent.
type Slot struct {
	manager  *Manager
	protocol filesystem.Protocol
	key      string
	once     sync.Once
}

// Release returns the slot and wakes the next waiter.
func (s *Slot) Release() {
	if s == nil {
		return
	}

	s.once.Do(func() {
		s.manager.release(s.protocol, s.key)
	})
}

// ResourceKey returns the key the slot was acquired for.
func (s *Slot) ResourceKey() string {
	return s.key
}

type noopMetrics struct{}

func (noopMetrics) SlotsInUse(filesystem.Protocol, int)            {}
func (noopMetrics) Waiters(filesystem.Protocol, int)               {}
func (noopMetrics) ObserveWait(filesystem.Protocol, time.Duration) {}

var _ filesystem.BufferAdvisor = (*Manager)(nil)
