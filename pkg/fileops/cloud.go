package fileops

import (
	"context"
	"io"
	"os"
	"path"
	"strings"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
	"github.com/joe/netmedia/pkg/staging"
)

// CloudStore is the provider-specific backend behind cloud://provider/id
// paths. Ids are opaque; Upload, Mkdir and Move return the id of the new object.
type CloudStore interface {
	Exists(ctx context.Context, provider, id string) (bool, error)
	Download(ctx context.Context, provider, id string, w io.Writer, progress filesystem.ProgressFunc) error
	Upload(ctx context.Context, provider, parentID, name string, r io.Reader, size int64,
		progress filesystem.ProgressFunc) (string, error)
	Delete(ctx context.Context, provider, id string) error
	Move(ctx context.Context, provider, id, parentID, name string) (string, error)
	Mkdir(ctx context.Context, provider, parentID, name string) (string, error)
}

// CloudStrategy implements Strategy for cloud:// paths. A destination path is
// the parent folder id joined with the new object's name.
type CloudStrategy struct {
	store CloudStore
	cache *staging.Cache
}

// NewCloudStrategy creates the cloud strategy over store. cache stages
// copies between two cloud locations.
func NewCloudStrategy(store CloudStore, cache *staging.Cache) *CloudStrategy {
	return &CloudStrategy{store: store, cache: cache}
}

// Name returns "cloud".
func (s *CloudStrategy) Name() string {
	return string(filesystem.ProtocolCloud)
}

// Supports reports whether path is a cloud:// path.
func (s *CloudStrategy) Supports(p string) bool {
	parsed, err := filesystem.ParsePath(p)

	return err == nil && parsed.Endpoint.Protocol == filesystem.ProtocolCloud
}

// cloudRef splits a cloud path into provider and object id.
type cloudRef struct {
	provider string
	id       string
}

func parseCloud(p string) (cloudRef, error) {
	parsed, err := filesystem.ParsePath(p)
	if err != nil {
		return cloudRef{}, err //nolint:wrapcheck // ParsePath returns classified errors
	}

	if parsed.Endpoint.Protocol != filesystem.ProtocolCloud {
		return cloudRef{}, pkgerrors.Newf(pkgerrors.KindNoStrategyForProtocol, "cloud", p, "not a cloud path")
	}

	return cloudRef{provider: parsed.Endpoint.Host, id: trimSlash(parsed.Path)}, nil
}

// parent splits the reference into the parent folder id and the final name.
func (r cloudRef) parent() (string, string) {
	dir, name := path.Split(r.id)

	return trimSlash(dir), name
}

func (r cloudRef) url(id string) string {
	return CloudScheme + r.provider + "/" + id
}

func trimSlash(p string) string {
	return strings.Trim(p, "/")
}

// Exists reports whether the object exists.
func (s *CloudStrategy) Exists(ctx context.Context, p string) (bool, error) {
	ref, err := parseCloud(p)
	if err != nil {
		return false, err
	}

	exists, err := s.store.Exists(ctx, ref.provider, ref.id)
	if err != nil {
		return false, pkgerrors.Classify("stat", p, err)
	}

	return exists, nil
}

// DeleteFile deletes the object.
func (s *CloudStrategy) DeleteFile(ctx context.Context, p string) error {
	ref, err := parseCloud(p)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, ref.provider, ref.id); err != nil {
		return pkgerrors.Classify("delete", p, err)
	}

	return nil
}

// Mkdir creates a folder named after the last path element.
func (s *CloudStrategy) Mkdir(ctx context.Context, p string) error {
	ref, err := parseCloud(p)
	if err != nil {
		return err
	}

	parentID, name := ref.parent()
	if _, err := s.store.Mkdir(ctx, ref.provider, parentID, name); err != nil {
		return pkgerrors.Classify("mkdir", p, err)
	}

	return nil
}

// Download writes the object to localPath.
func (s *CloudStrategy) Download(ctx context.Context, p, localPath string, progress filesystem.ProgressFunc) error {
	ref, err := parseCloud(p)
	if err != nil {
		return err
	}

	file, err := os.Create(localPath) // #nosec G304 - path is controlled by caller
	if err != nil {
		return pkgerrors.Classify("download", localPath, err)
	}

	downloadErr := s.store.Download(ctx, ref.provider, ref.id, file, progress)
	closeErr := file.Close()

	if downloadErr == nil {
		downloadErr = closeErr
	}

	if downloadErr != nil {
		_ = os.Remove(localPath)

		return pkgerrors.Classify("download", p, downloadErr)
	}

	return nil
}

// Upload stores localPath under the parent folder of p, named after p's last element.
func (s *CloudStrategy) Upload(ctx context.Context, localPath, p string, progress filesystem.ProgressFunc) error {
	_, err := s.upload(ctx, localPath, p, progress)

	return err
}

func (s *CloudStrategy) upload(ctx context.Context, localPath, p string, progress filesystem.ProgressFunc) (string, error) {
	ref, err := parseCloud(p)
	if err != nil {
		return "", err
	}

	file, err := os.Open(localPath) // #nosec G304 - path is controlled by caller
	if err != nil {
		return "", pkgerrors.Classify("upload", localPath, err)
	}
	defer file.Close()

	size := int64(-1)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	parentID, name := ref.parent()

	id, err := s.store.Upload(ctx, ref.provider, parentID, name, file, size, progress)
	if err != nil {
		return "", pkgerrors.Classify("upload", p, err)
	}

	return ref.url(id), nil
}

// CopyFile copies between two cloud locations through the store.
func (s *CloudStrategy) CopyFile(
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

	tmp, err := s.cache.TempFile("cloud_")
	if err != nil {
		return "", pkgerrors.Classify("copy", src.Path, err)
	}

	tmpPath := tmp.Name()
	_ = tmp.Close()

	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if err := s.Download(ctx, src.Path, tmpPath, scaled(progress, 0, 50)); err != nil { //nolint:mnd // First half
		return "", pkgerrors.WithLeg(err, pkgerrors.LegDownload)
	}

	resultPath, err := s.upload(ctx, tmpPath, dst.Path, scaled(progress, 50, 100)) //nolint:mnd // Second half
	if err != nil {
		return "", pkgerrors.WithLeg(err, pkgerrors.LegUpload)
	}

	return resultPath, nil
}

// MoveFile moves the object within the provider.
func (s *CloudStrategy) MoveFile(ctx context.Context, src, dst FileRef) (string, error) {
	from, err := parseCloud(src.Path)
	if err != nil {
		return "", err
	}

	to, err := parseCloud(dst.Path)
	if err != nil {
		return "", err
	}

	if from.provider != to.provider {
		return "", pkgerrors.Newf(pkgerrors.KindProtocolError, "move", src.Path, "cannot move between cloud providers")
	}

	parentID, name := to.parent()

	id, err := s.store.Move(ctx, from.provider, from.id, parentID, name)
	if err != nil {
		return "", pkgerrors.Classify("move", src.Path, err)
	}

	return to.url(id), nil
}
