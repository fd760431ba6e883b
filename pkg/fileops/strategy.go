package fileops

import (
	"context"
	"os"
	"strings"
	"sync"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
	"github.com/joe/netmedia/pkg/staging"
)

// Strategy performs file operations for the paths it supports. Paths are the
// user-facing forms accepted by filesystem.ParsePath.
type Strategy interface {
	Name() string
	// Supports must be pure: it inspects the path string only.
	Supports(path string) bool
	CopyFile(ctx context.Context, src, dst FileRef, overwrite bool, progress PercentFunc) (string, error)
	MoveFile(ctx context.Context, src, dst FileRef) (string, error)
	DeleteFile(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	// Download copies path to the local file localPath, replacing it.
	Download(ctx context.Context, path, localPath string, progress filesystem.ProgressFunc) error
	// Upload copies the local file localPath to path, replacing it.
	Upload(ctx context.Context, localPath, path string, progress filesystem.ProgressFunc) error
	Mkdir(ctx context.Context, path string) error
}

// Registry resolves the owning strategy for a path. Strategies are queried
// in registration order.
type Registry struct {
	mu         sync.RWMutex
	strategies []Strategy
}

// NewRegistry creates a registry holding strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

// Register appends a strategy.
func (r *Registry) Register(strategy Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.strategies = append(r.strategies, strategy)
}

// For returns the first strategy supporting path.
func (r *Registry) For(path string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, strategy := range r.strategies {
		if strategy.Supports(path) {
			return strategy, nil
		}
	}

	return nil, pkgerrors.Newf(pkgerrors.KindNoStrategyForProtocol, "resolve strategy", path,
		"no strategy handles %s", schemeOf(path))
}

func schemeOf(path string) string {
	if scheme, _, ok := strings.Cut(path, "://"); ok {
		return scheme + "://"
	}

	return "local paths"
}

// bridge copies srcPath to dstPath through a local staging file. Download
// progress covers 0-50 percent and upload 50-100. The staging file is always
// removed, and errors name the failing leg.
func bridge(
	ctx context.Context,
	cache *staging.Cache,
	from Strategy,
	srcPath string,
	to Strategy,
	dstPath string,
	progress PercentFunc,
) error {
	tmp, err := cache.TempFile("bridge_")
	if err != nil {
		return pkgerrors.WithLeg(pkgerrors.Classify("stage", srcPath, err), pkgerrors.LegDownload)
	}

	tmpPath := tmp.Name()
	_ = tmp.Close()

	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if err := from.Download(ctx, srcPath, tmpPath, scaled(progress, 0, 50)); err != nil { //nolint:mnd // Download is the first half
		return pkgerrors.WithLeg(err, pkgerrors.LegDownload)
	}

	if err := to.Upload(ctx, tmpPath, dstPath, scaled(progress, 50, 100)); err != nil { //nolint:mnd // Upload is the second half
		return pkgerrors.WithLeg(err, pkgerrors.LegUpload)
	}

	return nil
}

// destinationExists fails with KindProtocolError when dst exists.
func destinationExists(ctx context.Context, strategy Strategy, dst string) error {
	exists, err := strategy.Exists(ctx, dst)
	if err != nil {
		return err
	}

	if exists {
		return pkgerrors.Newf(pkgerrors.KindProtocolError, "copy", dst, "destination exists")
	}

	return nil
}
