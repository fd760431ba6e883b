package throttle

import (
	"math/bits"
	"sync"
	"time"
)

// Exported constants.
const (
	// MinBufferSize is the smallest recommended buffer (64 KiB).
	MinBufferSize = 64 * 1024
	// MaxBufferSize is the largest recommended buffer (1 MiB).
	MaxBufferSize = 1024 * 1024
	// TargetChunkTime is the transfer time one buffer should cover.
	TargetChunkTime = 250 * time.Millisecond
	// Smoothing is the weight of the newest sample in the throughput EMA.
	Smoothing = 0.3
)

// rateTracker keeps an exponential moving average of bytes/sec per resource.
type rateTracker struct {
	cfg Config

	mu    sync.Mutex
	rates map[string]float64
}

func newRateTracker(cfg Config) *rateTracker {
	return &rateTracker{cfg: cfg, rates: make(map[string]float64)}
}

func (t *rateTracker) record(key string, bytes int64, elapsed time.Duration) {
	if bytes <= 0 || elapsed <= 0 {
		return
	}

	sample := float64(bytes) / elapsed.Seconds()

	t.mu.Lock()
	defer t.mu.Unlock()

	previous, ok := t.rates[key]
	if !ok {
		t.rates[key] = sample
		return
	}

	t.rates[key] = t.cfg.Smoothing*sample + (1-t.cfg.Smoothing)*previous
}

func (t *rateTracker) rate(key string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.rates[key]
}

// bufferSize converts the smoothed rate into a power-of-two buffer that
// covers TargetChunkTime, clamped to [MinBufferSize, MaxBufferSize].
func (t *rateTracker) bufferSize(key string) int {
	rate := t.rate(key)
	if rate <= 0 {
		return t.cfg.MinBufferSize
	}

	want := uint64(rate * t.cfg.TargetChunkTime.Seconds())
	if want < uint64(t.cfg.MinBufferSize) { //nolint:gosec // Validated positive in New
		return t.cfg.MinBufferSize
	}

	if want >= uint64(t.cfg.MaxBufferSize) { //nolint:gosec // Validated positive in New
		return t.cfg.MaxBufferSize
	}

	// Largest power of two not above want.
	size := 1 << (bits.Len64(want) - 1)

	return min(max(size, t.cfg.MinBufferSize), t.cfg.MaxBufferSize)
}
