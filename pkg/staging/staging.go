// Package staging is the local on-disk cache used to bridge cross-protocol
// transfers and to keep partially downloaded files for metadata probing.
package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Exported constants.
const (
	// DefaultMaxBytes bounds the cache when no limit is configured.
	DefaultMaxBytes = 512 << 20
	// TempDirName is the subdirectory holding in-flight bridge files.
	TempDirName = "tmp"
	dirPerm     = 0o750
	keyLength   = 32
)

// Cache maps remote files to deterministic local paths and holds temporary
// bridge files. Cached entries are evicted oldest-first once the cache grows
// beyond its byte limit; bridge files are never evicted.
type Cache struct {
	dir      string
	tmpDir   string
	maxBytes int64
	logger   *zap.Logger

	mu sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates the cache rooted at dir. maxBytes <= 0 selects DefaultMaxBytes.
func New(dir string, maxBytes int64, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("staging directory must not be empty")
	}

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	cache := &Cache{
		dir:      dir,
		tmpDir:   filepath.Join(dir, TempDirName),
		maxBytes: maxBytes,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(cache)
	}

	if err := os.MkdirAll(cache.tmpDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create staging directory %s: %w", cache.tmpDir, err)
	}

	return cache, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// CacheFile returns the local path for remotePath at the given size. The
// path is the same for the same inputs and changes when the size changes.
func (c *Cache) CacheFile(remotePath string, size int64) string {
	sum := sha256.Sum256([]byte(remotePath + "\x00" + strconv.FormatInt(size, 10)))
	name := hex.EncodeToString(sum[:])[:keyLength]

	if ext := strings.ToLower(path.Ext(remotePath)); ext != "" && !strings.ContainsAny(ext, `/\`) {
		name += ext
	}

	return filepath.Join(c.dir, name)
}

// CachedFile returns the cached copy of remotePath if one exists and is not
// empty.
func (c *Cache) CachedFile(remotePath string, size int64) (string, bool) {
	local := c.CacheFile(remotePath, size)

	info, err := os.Stat(local)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return "", false
	}

	return local, true
}

// TempFile creates a uniquely named bridge file. The caller owns it and must
// remove it.
func (c *Cache) TempFile(prefix string) (*os.File, error) {
	name := filepath.Join(c.tmpDir, prefix+uuid.NewString())

	file, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // Name is generated
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	return file, nil
}

// Commit atomically moves a fully written temp file to its final cache path,
// replacing any previous content, then evicts old entries if needed.
func (c *Cache) Commit(tmp, final string) error {
	if err := os.MkdirAll(filepath.Dir(final), dirPerm); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", final, err)
	}

	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to commit %s: %w", final, err)
	}

	if _, err := c.Evict(final); err != nil {
		c.logger.Warn("staging eviction failed", zap.Error(err))
	}

	return nil
}

// Evict removes the oldest cached entries until the cache fits its limit.
// Paths in keep are never removed. It returns the number of removed files.
func (c *Cache) Evict(keep ...string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging directory: %w", err)
	}

	kept := make(map[string]bool, len(keep))
	for _, p := range keep {
		kept[filepath.Clean(p)] = true
	}

	type cached struct {
		path string
		size int64
		mod  int64
	}

	var (
		files []cached
		total int64
	)

	for _, entry := range dirEntries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		total += info.Size()
		files = append(files, cached{
			path: filepath.Join(c.dir, entry.Name()),
			size: info.Size(),
			mod:  info.ModTime().UnixNano(),
		})
	}

	if total <= c.maxBytes {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod < files[j].mod })

	removed := 0

	for _, file := range files {
		if total <= c.maxBytes {
			break
		}

		if kept[file.path] {
			continue
		}

		if err := os.Remove(file.path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to evict staging file", zap.String("path", file.path), zap.Error(err))

			continue
		}

		total -= file.size
		removed++
	}

	c.logger.Debug("staging cache evicted",
		zap.Int("removed", removed),
		zap.Int64("bytes_remaining", total))

	return removed, nil
}

// CleanTemp removes leftover bridge files from interrupted runs.
func (c *Cache) CleanTemp() error {
	entries, err := os.ReadDir(c.tmpDir)
	if err != nil {
		return fmt.Errorf("failed to read staging temp directory: %w", err)
	}

	var errs []error

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(c.tmpDir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
