// Package probe downloads bounded file heads for metadata probing.
//
// Downloads are keyed in the staging cache by remote URL and full size, so a
// probe reuses bytes fetched by an earlier probe or by a full download of the
// same file. A cached file satisfies a request when it holds at least the
// requested cap or the whole file.
package probe

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
)

// Exported constants.
const (
	DefaultExifBytes     = 64 << 10
	DefaultGifBytes      = 5 << 20
	DefaultMediaBytes    = 1 << 20
	DefaultExtendedBytes = 5 << 20
)

// Kind selects the download cap.
type Kind int

// Probe kinds.
const (
	KindExif Kind = iota
	KindGif
	KindVideo
	KindAudio
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindExif:
		return "exif"
	case KindGif:
		return "gif"
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "exif", "image":
		return KindExif, nil
	case "gif":
		return KindGif, nil
	case "video":
		return KindVideo, nil
	case "audio":
		return KindAudio, nil
	default:
		return KindExif, fmt.Errorf("invalid probe kind: %s (valid: exif, gif, video, audio)", s)
	}
}

// Caps are the download limits in bytes.
type Caps struct {
	Exif     int64
	Gif      int64
	Media    int64 // first video/audio attempt
	Extended int64 // video/audio retry after Media proved too short
}

// DefaultCaps returns the built-in limits.
func DefaultCaps() Caps {
	return Caps{
		Exif:     DefaultExifBytes,
		Gif:      DefaultGifBytes,
		Media:    DefaultMediaBytes,
		Extended: DefaultExtendedBytes,
	}
}

// For returns the cap for kind. extended only affects video and audio.
func (c Caps) For(kind Kind, extended bool) int64 {
	defaults := DefaultCaps()

	pick := func(v, fallback int64) int64 {
		if v > 0 {
			return v
		}

		return fallback
	}

	switch kind {
	case KindGif:
		return pick(c.Gif, defaults.Gif)
	case KindVideo, KindAudio:
		if extended {
			return pick(c.Extended, defaults.Extended)
		}

		return pick(c.Media, defaults.Media)
	case KindExif:
	}

	return pick(c.Exif, defaults.Exif)
}

// Source is the part of a client the downloader reads through.
type Source interface {
	Endpoint() filesystem.Endpoint
	ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error)
}

// Cache stores probe files.
type Cache interface {
	CacheFile(remotePath string, size int64) string
	CachedFile(remotePath string, size int64) (string, bool)
	TempFile(prefix string) (*os.File, error)
	Commit(tmp, final string) error
}

// Slots admits network reads.
type Slots interface {
	Do(ctx context.Context, protocol filesystem.Protocol, resourceKey string, highPriority bool,
		fn func(ctx context.Context) error) error
}

// Metrics observes probe fetches.
type Metrics interface {
	ProbeFetched(kind string, bytes int, cached bool)
}

// Probe describes a downloaded file head.
type Probe struct {
	Kind Kind
	// Path is the local file holding the bytes.
	Path string
	// Length is the number of bytes in Path.
	Length int64
	// Complete reports that Path holds the whole remote file.
	Complete bool
	// Cached reports that no network read was needed.
	Cached bool
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithCaps overrides the download limits. Zero fields keep their defaults.
func WithCaps(caps Caps) Option {
	return func(d *Downloader) {
		d.caps = caps
	}
}

// WithThrottle makes every network read hold a low-priority slot.
func WithThrottle(slots Slots) Option {
	return func(d *Downloader) {
		d.slots = slots
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Downloader) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(d *Downloader) {
		d.metrics = metrics
	}
}

// Downloader fetches capped file heads into the cache.
type Downloader struct {
	cache   Cache
	caps    Caps
	slots   Slots
	logger  *zap.Logger
	metrics Metrics
}

// NewDownloader creates a downloader over cache.
func NewDownloader(cache Cache, opts ...Option) *Downloader {
	downloader := &Downloader{
		cache:  cache,
		caps:   DefaultCaps(),
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(downloader)
	}

	return downloader
}

// Fetch returns at most the kind's cap of remotePath. size is the full file
// size, or 0 when unknown.
func (d *Downloader) Fetch(ctx context.Context, src Source, remotePath string, size int64, kind Kind) (*Probe, error) {
	return d.fetch(ctx, src, remotePath, size, kind, false)
}

// Extend re-downloads remotePath with the extended cap, replacing any shorter
// probe file. Kinds without an extended cap behave like Fetch.
func (d *Downloader) Extend(ctx context.Context, src Source, remotePath string, size int64, kind Kind) (*Probe, error) {
	return d.fetch(ctx, src, remotePath, size, kind, true)
}

func (d *Downloader) fetch(
	ctx context.Context,
	src Source,
	remotePath string,
	size int64,
	kind Kind,
	extended bool,
) (*Probe, error) {
	endpoint := src.Endpoint()
	key := endpoint.URL(remotePath)

	want := d.caps.For(kind, extended)
	if size > 0 && size < want {
		want = size
	}

	final := d.cache.CacheFile(key, size)

	if cached, ok := d.cachedProbe(key, size, want); ok {
		cached.Kind = kind

		d.record(kind, 0, true)
		d.logger.Debug("probe served from cache",
			zap.String("path", key),
			zap.Int64("bytes", cached.Length))

		return cached, nil
	}

	var data []byte

	read := func(ctx context.Context) error {
		var err error

		data, err = src.ReadRange(ctx, remotePath, 0, want)

		return err
	}

	var err error
	if d.slots != nil {
		err = d.slots.Do(ctx, endpoint.Protocol, endpoint.ResourceKey(), false, read)
	} else {
		err = read(ctx)
	}

	if err != nil {
		return nil, pkgerrors.Classify("probe", key, err)
	}

	if err := d.store(data, final); err != nil {
		return nil, pkgerrors.Classify("probe", key, err)
	}

	length := int64(len(data))

	d.record(kind, len(data), false)
	d.logger.Debug("probe downloaded",
		zap.String("path", key),
		zap.Stringer("kind", kind),
		zap.Int64("bytes", length),
		zap.Bool("extended", extended))

	return &Probe{
		Kind:     kind,
		Path:     final,
		Length:   length,
		Complete: (size > 0 && length >= size) || length < want,
	}, nil
}

// cachedProbe returns the cache entry when it already holds want bytes or the
// whole file.
func (d *Downloader) cachedProbe(key string, size, want int64) (*Probe, bool) {
	p, ok := d.cache.CachedFile(key, size)
	if !ok {
		return nil, false
	}

	info, err := os.Stat(p)
	if err != nil {
		return nil, false
	}

	complete := size > 0 && info.Size() >= size
	if !complete && info.Size() < want {
		return nil, false
	}

	return &Probe{Path: p, Length: info.Size(), Complete: complete, Cached: true}, true
}

// store writes data to a temp file and renames it over final.
func (d *Downloader) store(data []byte, final string) error {
	tmp, err := d.cache.TempFile("probe_")
	if err != nil {
		return fmt.Errorf("failed to create probe file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to write probe file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close probe file: %w", err)
	}

	if err := d.cache.Commit(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return nil
}

func (d *Downloader) record(kind Kind, bytes int, cached bool) {
	if d.metrics != nil {
		d.metrics.ProbeFetched(kind.String(), bytes, cached)
	}
}
