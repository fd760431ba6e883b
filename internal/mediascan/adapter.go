// Package mediascan exposes one media scanner per protocol over a uniform
// contract: full scans, paged scans, counts and a writability check.
package mediascan

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
	"github.com/joe/netmedia/pkg/scanner"
	"github.com/joe/netmedia/pkg/throttle"
)

// Exported constants.
const (
	// WriteProbePrefix names the marker file created by a write probe.
	WriteProbePrefix = ".netmedia_write_probe_"
)

// FileRecord is one scanned media file.
type FileRecord struct {
	Name      string
	Path      string // protocol-qualified location
	Size      int64
	ModTime   time.Time
	MediaType MediaType
}

// Page is one window of a paged scan.
type Page struct {
	Items   []FileRecord
	Offset  int
	Limit   int
	HasMore bool
}

// ClientSource hands out connected clients. *filesystem.Connector satisfies it.
type ClientSource interface {
	ClientFor(ctx context.Context, parsed *filesystem.ParsedPath) (filesystem.Client, error)
}

// Options configure an Adapter. The zero value is usable.
type Options struct {
	Throttle  *throttle.Manager
	IOWorkers int
	Logger    *zap.Logger
	Metrics   scanner.Metrics
	// Excludes are doublestar globs skipped by every scan.
	Excludes []string
	// ProbeWrites makes IsWritable create and remove a marker file instead of
	// trusting a successful connection.
	ProbeWrites bool
}

// Adapter scans one protocol.
type Adapter struct {
	protocol filesystem.Protocol
	clients  ClientSource
	opts     Options
	logger   *zap.Logger
}

// NewSMBAdapter creates the SMB media scanner.
func NewSMBAdapter(clients ClientSource, opts Options) *Adapter {
	return newAdapter(filesystem.ProtocolSMB, clients, opts)
}

// NewSFTPAdapter creates the SFTP media scanner.
func NewSFTPAdapter(clients ClientSource, opts Options) *Adapter {
	return newAdapter(filesystem.ProtocolSFTP, clients, opts)
}

// NewFTPAdapter creates the FTP media scanner.
func NewFTPAdapter(clients ClientSource, opts Options) *Adapter {
	return newAdapter(filesystem.ProtocolFTP, clients, opts)
}

// NewLocalAdapter creates the local media scanner.
func NewLocalAdapter(clients ClientSource, opts Options) *Adapter {
	return newAdapter(filesystem.ProtocolLocal, clients, opts)
}

func newAdapter(protocol filesystem.Protocol, clients ClientSource, opts Options) *Adapter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Adapter{
		protocol: protocol,
		clients:  clients,
		opts:     opts,
		logger:   logger.With(zap.String("protocol", string(protocol))),
	}
}

// Protocol returns the protocol the adapter serves.
func (a *Adapter) Protocol() filesystem.Protocol {
	return a.protocol
}

// ScanFolder returns the matching files below path. A cancelled scan returns
// the files found so far.
func (a *Adapter) ScanFolder(
	ctx context.Context,
	path string,
	types []MediaType,
	sizes SizeFilter,
	credID string,
	recurse bool,
	cb *scanner.Callback,
) ([]FileRecord, error) {
	sc, parsed, err := a.scanner(ctx, path, credID)
	if err != nil {
		return nil, err
	}

	filter := buildFilter(types, sizes, a.opts.Excludes)

	if !recurse {
		files, err := sc.ScanDirectory(ctx, parsed.Path, filter)
		if err != nil {
			return nil, err //nolint:wrapcheck // Scanner returns classified errors
		}

		return records(files), nil
	}

	result, err := sc.ScanRecursive(ctx, parsed.Path, filter, cb)
	if err != nil {
		return nil, err //nolint:wrapcheck // Scanner returns classified errors
	}

	if result.FailedListings > 0 {
		a.logger.Info("scan finished with skipped folders",
			zap.String("path", parsed.URL()),
			zap.Int("skipped", result.FailedListings))
	}

	return records(result.Files), nil
}

// ScanFolderLimited returns at most maxFiles matching files and whether the
// limit cut the scan short.
func (a *Adapter) ScanFolderLimited(
	ctx context.Context,
	path string,
	types []MediaType,
	sizes SizeFilter,
	credID string,
	maxFiles int,
	cb *scanner.Callback,
) ([]FileRecord, bool, error) {
	sc, parsed, err := a.scanner(ctx, path, credID)
	if err != nil {
		return nil, false, err
	}

	result, limited, err := sc.ScanLimited(ctx, parsed.Path, buildFilter(types, sizes, a.opts.Excludes), maxFiles, cb)
	if err != nil {
		return nil, false, err //nolint:wrapcheck // Scanner returns classified errors
	}

	return records(result.Files), limited, nil
}

// ScanFolderPaged returns one page of matching files in stable name order.
func (a *Adapter) ScanFolderPaged(
	ctx context.Context,
	path string,
	types []MediaType,
	sizes SizeFilter,
	credID string,
	offset, limit int,
	recurse bool,
) (*Page, error) {
	sc, parsed, err := a.scanner(ctx, path, credID)
	if err != nil {
		return nil, err
	}

	page, err := sc.ScanPaged(ctx, parsed.Path, buildFilter(types, sizes, a.opts.Excludes), offset, limit, recurse)
	if err != nil {
		return nil, err //nolint:wrapcheck // Scanner returns classified errors
	}

	return &Page{
		Items:   records(page.Files),
		Offset:  page.Offset,
		Limit:   page.Limit,
		HasMore: page.HasMore,
	}, nil
}

// FileCount counts matching files, stopping at maxCount (scanner.DefaultMaxCount when <= 0).
func (a *Adapter) FileCount(
	ctx context.Context,
	path string,
	types []MediaType,
	sizes SizeFilter,
	credID string,
	recurse bool,
	maxCount int,
) (int, error) {
	sc, parsed, err := a.scanner(ctx, path, credID)
	if err != nil {
		return 0, err
	}

	filter := buildFilter(types, sizes, a.opts.Excludes)

	if recurse {
		return sc.CountRecursive(ctx, parsed.Path, filter, maxCount, nil) //nolint:wrapcheck // Scanner returns classified errors
	}

	if maxCount <= 0 {
		maxCount = scanner.DefaultMaxCount
	}

	files, err := sc.ScanDirectory(ctx, parsed.Path, filter)
	if err != nil {
		return 0, err //nolint:wrapcheck // Scanner returns classified errors
	}

	return min(len(files), maxCount), nil
}

// IsWritable reports whether path accepts writes. Remote folders count as
// writable when a connection can be established, unless Options.ProbeWrites
// asks for a real marker file. Local folders are always probed.
func (a *Adapter) IsWritable(ctx context.Context, path, credID string) bool {
	parsed, err := a.parse(path, credID)
	if err != nil {
		return false
	}

	if a.protocol == filesystem.ProtocolLocal {
		return probeLocal(parsed.Path)
	}

	client, err := a.clients.ClientFor(ctx, parsed)
	if err != nil {
		a.logger.Info("folder not writable: connection failed",
			zap.String("path", parsed.URL()),
			zap.Error(err))

		return false
	}

	if !a.opts.ProbeWrites {
		return true
	}

	marker := parsed.Join(WriteProbePrefix + uuid.NewString()).Path

	if err := client.Upload(ctx, marker, bytes.NewReader(nil), 0, nil); err != nil {
		a.logger.Info("folder not writable: probe failed",
			zap.String("path", parsed.URL()),
			zap.Error(err))

		return false
	}

	if err := client.Delete(ctx, marker); err != nil {
		a.logger.Warn("write probe marker could not be removed",
			zap.String("marker", client.Endpoint().URL(marker)),
			zap.Error(err))
	}

	return true
}

func (a *Adapter) parse(path, credID string) (*filesystem.ParsedPath, error) {
	parsed, err := filesystem.ParsePath(path)
	if err != nil {
		return nil, err //nolint:wrapcheck // ParsePath returns classified errors
	}

	if parsed.Endpoint.Protocol != a.protocol {
		return nil, pkgerrors.Newf(pkgerrors.KindNoStrategyForProtocol, "scan", path,
			"%s scanner cannot read %s paths", a.protocol, parsed.Endpoint.Protocol)
	}

	if credID != "" {
		parsed.Endpoint = parsed.Endpoint.WithCredential(credID)
	}

	return parsed, nil
}

func (a *Adapter) scanner(ctx context.Context, path, credID string) (*scanner.Scanner, *filesystem.ParsedPath, error) {
	parsed, err := a.parse(path, credID)
	if err != nil {
		return nil, nil, err
	}

	client, err := a.clients.ClientFor(ctx, parsed)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // Connector returns classified errors
	}

	opts := []scanner.Option{
		scanner.WithIOWorkers(a.opts.IOWorkers),
		scanner.WithLogger(a.logger),
	}

	if a.opts.Throttle != nil {
		opts = append(opts, scanner.WithThrottle(a.opts.Throttle))
	}

	if a.opts.Metrics != nil {
		opts = append(opts, scanner.WithMetrics(a.opts.Metrics))
	}

	return scanner.New(client, client.Endpoint(), opts...), parsed, nil
}

func records(files []scanner.ScannedFile) []FileRecord {
	out := make([]FileRecord, 0, len(files))

	for _, file := range files {
		out = append(out, FileRecord{
			Name:      file.Name,
			Path:      file.FullPath,
			Size:      file.SizeBytes,
			ModTime:   file.LastModified,
			MediaType: TypeOf(file.Name),
		})
	}

	return out
}

// probeLocal creates and removes a marker file in dir.
func probeLocal(dir string) bool {
	file, err := os.CreateTemp(dir, WriteProbePrefix+"*")
	if err != nil {
		return false
	}

	name := file.Name()
	_ = file.Close()

	return os.Remove(filepath.Clean(name)) == nil
}
