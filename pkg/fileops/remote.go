package fileops

import (
	"context"
	"os"

	"go.uber.org/zap"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
	"github.com/joe/netmedia/pkg/staging"
	"github.com/joe/netmedia/pkg/throttle"
)

// ClientSource hands out connected clients. *filesystem.Connector implements it.
type ClientSource interface {
	ClientFor(ctx context.Context, parsed *filesystem.ParsedPath) (filesystem.Client, error)
}

// StrategyOption configures a RemoteStrategy.
type StrategyOption func(*RemoteStrategy)

// WithThrottle makes every client call hold a slot from manager.
func WithThrottle(manager *throttle.Manager) StrategyOption {
	return func(s *RemoteStrategy) {
		s.throttle = manager
	}
}

// WithStrategyLogger sets the logger.
func WithStrategyLogger(logger *zap.Logger) StrategyOption {
	return func(s *RemoteStrategy) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// RemoteStrategy implements Strategy for one network protocol on top of the
// protocol clients.
type RemoteStrategy struct {
	protocol filesystem.Protocol
	clients  ClientSource
	cache    *staging.Cache
	throttle *throttle.Manager
	logger   *zap.Logger
}

// NewRemoteStrategy creates the strategy for protocol. cache stages copies
// between two locations of the same protocol.
func NewRemoteStrategy(
	protocol filesystem.Protocol,
	clients ClientSource,
	cache *staging.Cache,
	opts ...StrategyOption,
) *RemoteStrategy {
	strategy := &RemoteStrategy{
		protocol: protocol,
		clients:  clients,
		cache:    cache,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(strategy)
	}

	return strategy
}

// Name returns the protocol name.
func (s *RemoteStrategy) Name() string {
	return string(s.protocol)
}

// Supports reports whether path parses to this strategy's protocol.
func (s *RemoteStrategy) Supports(path string) bool {
	parsed, err := filesystem.ParsePath(path)

	return err == nil && parsed.Endpoint.Protocol == s.protocol
}

// withClient runs fn with a client for path while holding a throttle slot.
func (s *RemoteStrategy) withClient(
	ctx context.Context,
	path string,
	fn func(ctx context.Context, client filesystem.Client, parsed *filesystem.ParsedPath) error,
) error {
	parsed, err := filesystem.ParsePath(path)
	if err != nil {
		return err //nolint:wrapcheck // ParsePath returns classified errors
	}

	if parsed.Endpoint.Protocol != s.protocol {
		return pkgerrors.Newf(pkgerrors.KindNoStrategyForProtocol, s.Name(), path,
			"%s strategy cannot handle %s paths", s.protocol, parsed.Endpoint.Protocol)
	}

	client, err := s.clients.ClientFor(ctx, parsed)
	if err != nil {
		return pkgerrors.Classify("connect", parsed.URL(), err)
	}

	run := func(ctx context.Context) error {
		return fn(ctx, client, parsed)
	}

	if s.throttle == nil {
		return run(ctx)
	}

	return s.throttle.Do(ctx, s.protocol, parsed.Endpoint.ResourceKey(), true, run) //nolint:wrapcheck // Classified by callers
}

// Exists reports whether path exists.
func (s *RemoteStrategy) Exists(ctx context.Context, path string) (bool, error) {
	var exists bool

	err := s.withClient(ctx, path, func(ctx context.Context, client filesystem.Client, parsed *filesystem.ParsedPath) error {
		_, err := client.Stat(ctx, parsed.Path)

		switch {
		case err == nil:
			exists = true
		case pkgerrors.KindOf(err) == pkgerrors.KindNotFound:
		default:
			return err //nolint:wrapcheck // Clients return classified errors
		}

		return nil
	})

	return exists, err
}

// DeleteFile removes path.
func (s *RemoteStrategy) DeleteFile(ctx context.Context, path string) error {
	return s.withClient(ctx, path, func(ctx context.Context, client filesystem.Client, parsed *filesystem.ParsedPath) error {
		return client.Delete(ctx, parsed.Path) //nolint:wrapcheck // Clients return classified errors
	})
}

// Mkdir creates path and missing parents.
func (s *RemoteStrategy) Mkdir(ctx context.Context, path string) error {
	return s.withClient(ctx, path, func(ctx context.Context, client filesystem.Client, parsed *filesystem.ParsedPath) error {
		return client.Mkdir(ctx, parsed.Path) //nolint:wrapcheck // Clients return classified errors
	})
}

// Download copies path into the local file localPath. A partial local file
// is removed on failure.
func (s *RemoteStrategy) Download(ctx context.Context, path, localPath string, progress filesystem.ProgressFunc) error {
	return s.withClient(ctx, path, func(ctx context.Context, client filesystem.Client, parsed *filesystem.ParsedPath) error {
		file, err := os.Create(localPath) // #nosec G304 - path is controlled by caller
		if err != nil {
			return pkgerrors.Classify("download", localPath, err)
		}

		downloadErr := client.Download(ctx, parsed.Path, file, progress)
		closeErr := file.Close()

		if downloadErr == nil && closeErr != nil {
			downloadErr = pkgerrors.Classify("download", localPath, closeErr)
		}

		if downloadErr != nil {
			_ = os.Remove(localPath)

			return downloadErr //nolint:wrapcheck // Clients return classified errors
		}

		return nil
	})
}

// Upload copies the local file localPath to path.
func (s *RemoteStrategy) Upload(ctx context.Context, localPath, path string, progress filesystem.ProgressFunc) error {
	file, err := os.Open(localPath) // #nosec G304 - path is controlled by caller
	if err != nil {
		return pkgerrors.Classify("upload", localPath, err)
	}
	defer file.Close()

	size := int64(-1)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	return s.withClient(ctx, path, func(ctx context.Context, client filesystem.Client, parsed *filesystem.ParsedPath) error {
		return client.Upload(ctx, parsed.Path, file, size, progress) //nolint:wrapcheck // Clients return classified errors
	})
}

// CopyFile copies src to dst, both served by this protocol, through a local
// staging file.
func (s *RemoteStrategy) CopyFile(
	ctx context.Context,
	src, dst FileRef,
	overwrite bool,
	progress PercentFunc,
) (string, error) {
	if !overwrite {
		if err := destinationExists(ctx, s, dst.Path); err != nil {
			return "", err
		}
	}

	if err := bridge(ctx, s.cache, s, src.Path, s, dst.Path, progress); err != nil {
		return "", err
	}

	return dst.Path, nil
}

// MoveFile renames src to dst on the server when both live on the same
// endpoint, and otherwise copies then deletes the source.
func (s *RemoteStrategy) MoveFile(ctx context.Context, src, dst FileRef) (string, error) {
	srcParsed, err := filesystem.ParsePath(src.Path)
	if err != nil {
		return "", err //nolint:wrapcheck // ParsePath returns classified errors
	}

	dstParsed, err := filesystem.ParsePath(dst.Path)
	if err != nil {
		return "", err //nolint:wrapcheck // ParsePath returns classified errors
	}

	if sameEndpoint(srcParsed.Endpoint, dstParsed.Endpoint) {
		err := s.withClient(ctx, src.Path, func(ctx context.Context, client filesystem.Client, parsed *filesystem.ParsedPath) error {
			return client.Rename(ctx, parsed.Path, dstParsed.Path) //nolint:wrapcheck // Clients return classified errors
		})
		if err != nil {
			return "", err
		}

		return dst.Path, nil
	}

	if err := bridge(ctx, s.cache, s, src.Path, s, dst.Path, nil); err != nil {
		return "", err
	}

	if err := s.DeleteFile(ctx, src.Path); err != nil {
		return dst.Path, partialMove(src.Path, err)
	}

	return dst.Path, nil
}

// sameEndpoint reports whether a native rename can move between a and b.
func sameEndpoint(a, b filesystem.Endpoint) bool {
	return a.ResourceKey() == b.ResourceKey() && a.Share == b.Share
}

// partialMove reports a copy whose source could not be removed.
func partialMove(src string, cause error) error {
	return pkgerrors.Newf(pkgerrors.KindPartialTransfer, "move", src, "copied but source not removed: %w", cause)
}
