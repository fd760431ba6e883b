package fileops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
)

// LocalStrategy implements Strategy for local paths.
type LocalStrategy struct {
	advisor filesystem.BufferAdvisor
}

// NewLocalStrategy creates the local strategy. advisor may be nil.
func NewLocalStrategy(advisor filesystem.BufferAdvisor) *LocalStrategy {
	return &LocalStrategy{advisor: advisor}
}

// Name returns "local".
func (s *LocalStrategy) Name() string {
	return string(filesystem.ProtocolLocal)
}

// Supports reports whether path is a local path or file:// URL.
func (s *LocalStrategy) Supports(path string) bool {
	parsed, err := filesystem.ParsePath(path)

	return err == nil && parsed.Endpoint.Protocol == filesystem.ProtocolLocal
}

// Exists reports whether path exists.
func (s *LocalStrategy) Exists(_ context.Context, path string) (bool, error) {
	local, err := localPath(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(local)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, pkgerrors.Classify("stat", local, err)
	}
}

// DeleteFile removes path.
func (s *LocalStrategy) DeleteFile(_ context.Context, path string) error {
	local, err := localPath(path)
	if err != nil {
		return err
	}

	if err := os.Remove(local); err != nil {
		return pkgerrors.Classify("delete", local, err)
	}

	return nil
}

// Mkdir creates path and missing parents.
func (s *LocalStrategy) Mkdir(_ context.Context, path string) error {
	local, err := localPath(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(local, DefaultDirPermissions); err != nil {
		return pkgerrors.Classify("mkdir", local, err)
	}

	return nil
}

// Download copies path to localPath.
func (s *LocalStrategy) Download(ctx context.Context, path, localPath string, progress filesystem.ProgressFunc) error {
	_, err := s.copyFile(ctx, path, localPath, true, progress)

	return err
}

// Upload copies localPath to path.
func (s *LocalStrategy) Upload(ctx context.Context, localPath, path string, progress filesystem.ProgressFunc) error {
	_, err := s.copyFile(ctx, localPath, path, true, progress)

	return err
}

// CopyFile copies src to dst, preserving the modification time.
func (s *LocalStrategy) CopyFile(
	ctx context.Context,
	src, dst FileRef,
	overwrite bool,
	progress PercentFunc,
) (string, error) {
	return s.copyFile(ctx, src.Path, dst.Path, overwrite, scaled(progress, 0, 100)) //nolint:mnd // Whole range
}

// MoveFile renames src to dst, copying then deleting across devices.
func (s *LocalStrategy) MoveFile(ctx context.Context, src, dst FileRef) (string, error) {
	from, err := localPath(src.Path)
	if err != nil {
		return "", err
	}

	to, err := localPath(dst.Path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(to), DefaultDirPermissions); err != nil {
		return "", pkgerrors.Classify("move", to, err)
	}

	err = os.Rename(from, to)
	if err == nil {
		return to, nil
	}

	if !errors.Is(err, syscall.EXDEV) {
		return "", pkgerrors.Classify("move", from, err)
	}

	if _, err := s.copyFile(ctx, from, to, true, nil); err != nil {
		return "", err
	}

	if err := os.Remove(from); err != nil {
		return to, partialMove(from, pkgerrors.Classify("delete", from, err))
	}

	return to, nil
}

// copyFile copies src to dst. If the copy fails or is cancelled, the partial
// destination is deleted.
func (s *LocalStrategy) copyFile(
	ctx context.Context,
	src, dst string,
	overwrite bool,
	progress filesystem.ProgressFunc,
) (string, error) {
	src, err := localPath(src)
	if err != nil {
		return "", err
	}

	dst, err = localPath(dst)
	if err != nil {
		return "", err
	}

	sourceFile, err := os.Open(src) // #nosec G304 - file path is controlled by caller
	if err != nil {
		return "", pkgerrors.Classify("copy", src, err)
	}

	defer func() {
		_ = sourceFile.Close()
	}()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return "", pkgerrors.Classify("copy", src, err)
	}

	// Create destination directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dst), DefaultDirPermissions); err != nil {
		return "", pkgerrors.Classify("copy", dst, err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}

	destFile, err := os.OpenFile(dst, flags, 0o644) //nolint:gosec,mnd // Regular file permissions
	if errors.Is(err, os.ErrExist) {
		return "", pkgerrors.Newf(pkgerrors.KindProtocolError, "copy", dst, "destination exists")
	}

	if err != nil {
		return "", pkgerrors.Classify("copy", dst, err)
	}

	copyCompleted := false

	defer func() {
		_ = destFile.Close()
		if !copyCompleted {
			_ = os.Remove(dst)
		}
	}()

	bufSize := filesystem.DefaultBufferSize
	if s.advisor != nil {
		bufSize = s.advisor.RecommendedBufferSize("local")
	}

	stats, err := filesystem.CopyStream(ctx, destFile, sourceFile, sourceInfo.Size(), bufSize, progress)
	if err != nil {
		return "", pkgerrors.Classify("copy", src, fmt.Errorf("failed to copy %s to %s: %w", src, dst, err))
	}

	// Close before setting the modification time; network mounts may reset it on close.
	if err := destFile.Close(); err != nil {
		return "", pkgerrors.Classify("copy", dst, err)
	}

	if err := os.Chtimes(dst, sourceInfo.ModTime(), sourceInfo.ModTime()); err != nil {
		return "", pkgerrors.Classify("copy", dst, err)
	}

	if s.advisor != nil {
		s.advisor.RecordTransfer("local", stats.BytesCopied, stats.Elapsed())
	}

	copyCompleted = true

	return dst, nil
}

func localPath(path string) (string, error) {
	parsed, err := filesystem.ParsePath(path)
	if err != nil {
		return "", err //nolint:wrapcheck // ParsePath returns classified errors
	}

	if parsed.Endpoint.Protocol != filesystem.ProtocolLocal {
		return "", pkgerrors.Newf(pkgerrors.KindNoStrategyForProtocol, "local", path, "not a local path")
	}

	return parsed.Path, nil
}
