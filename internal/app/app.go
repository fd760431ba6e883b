// Package app wires configuration, logging, metrics, the throttle, protocol
// clients, scanners and the transfer handler together and runs one
// subcommand.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/joe/netmedia/internal/config"
	"github.com/joe/netmedia/internal/logging"
	"github.com/joe/netmedia/internal/mediascan"
	"github.com/joe/netmedia/internal/metrics"
	"github.com/joe/netmedia/internal/probe"
	"github.com/joe/netmedia/pkg/credentials"
	"github.com/joe/netmedia/pkg/fileops"
	"github.com/joe/netmedia/pkg/filesystem"
	"github.com/joe/netmedia/pkg/staging"
	"github.com/joe/netmedia/pkg/throttle"
)

// Exported constants.
const (
	// ShutdownTimeout bounds the metrics server shutdown.
	ShutdownTimeout = 5 * time.Second
)

// Option configures an App.
type Option func(*options)

type options struct {
	out         io.Writer
	logger      *zap.Logger
	store       credentials.Store
	cloud       fileops.CloudStore
	construct   filesystem.ClientConstructor
	interactive bool
}

// WithOutput sets where command output is written. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStore replaces the SQLite credential store.
func WithStore(store credentials.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithCloudStore enables cloud:// paths for transfers.
func WithCloudStore(store fileops.CloudStore) Option {
	return func(o *options) {
		o.cloud = store
	}
}

// WithClientConstructor replaces the protocol client factory.
func WithClientConstructor(construct filesystem.ClientConstructor) Option {
	return func(o *options) {
		o.construct = construct
	}
}

// WithInteractive selects the live progress view for transfers.
func WithInteractive(interactive bool) Option {
	return func(o *options) {
		o.interactive = interactive
	}
}

// App is one configured run of the program.
type App struct {
	cfg         *config.Config
	out         io.Writer
	logger      *zap.Logger
	interactive bool

	collectors *metrics.Collectors
	throttle   *throttle.Manager
	cache      *staging.Cache
	store      credentials.Store
	closeStore func() error
	connector  *filesystem.Connector
	clients    *pooledClients
	scanOpts   mediascan.Options
	adapters   map[filesystem.Protocol]*mediascan.Adapter
	handler    *fileops.Handler
	probes     *probe.Downloader

	metricsServer *http.Server
}

// New builds every component from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error

		logger, err = logging.New(logging.Config{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			OutputPath: cfg.Logging.Output,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	app := &App{
		cfg:         cfg,
		out:         o.out,
		logger:      logger,
		interactive: o.interactive,
		collectors:  metrics.New(nil),
	}

	app.throttle = throttle.New(throttle.Config{Limits: cfg.ThrottleLimits()},
		throttle.WithLogger(logger.Named("throttle")),
		throttle.WithMetrics(app.collectors))

	cache, err := staging.New(cfg.Staging.Dir, cfg.Staging.MaxBytes, staging.WithLogger(logger.Named("staging")))
	if err != nil {
		return nil, fmt.Errorf("failed to open staging cache: %w", err)
	}

	app.cache = cache

	if err := app.openStore(ctx, o.store); err != nil {
		return nil, err
	}

	var connectorOpts []filesystem.ConnectorOption
	if o.construct != nil {
		connectorOpts = append(connectorOpts, filesystem.WithClientConstructor(o.construct))
	}

	app.connector = filesystem.NewConnector(
		credentials.NewResolver(app.store, logger.Named("credentials")),
		filesystem.Options{
			Logger:         logger.Named("client"),
			Advisor:        app.collectors.Advisor(app.throttle),
			ConnectTimeout: cfg.Timeouts.Connect,
			IOTimeout:      cfg.Timeouts.IO,
		},
		connectorOpts...,
	)
	app.clients = newPooledClients(app.connector, app.throttle, logger)

	app.buildScanners()
	app.buildHandler(o.cloud)

	app.probes = probe.NewDownloader(app.cache,
		probe.WithCaps(probe.Caps{
			Exif:     cfg.Settings.Probe.ExifBytes,
			Gif:      cfg.Settings.Probe.GifBytes,
			Media:    cfg.Settings.Probe.MediaBytes,
			Extended: cfg.Settings.Probe.ExtendedBytes,
		}),
		probe.WithThrottle(app.throttle),
		probe.WithLogger(logger.Named("probe")),
		probe.WithMetrics(app.collectors))

	if err := app.serveMetrics(); err != nil {
		_ = app.Close()

		return nil, err
	}

	return app, nil
}

func (a *App) openStore(ctx context.Context, store credentials.Store) error {
	if store != nil {
		a.store = store
		a.closeStore = func() error { return nil }

		return nil
	}

	sqlite, err := credentials.OpenSQLite(ctx, a.cfg.Credentials.DBPath, a.logger.Named("credentials"))
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	a.store = sqlite
	a.closeStore = sqlite.Close

	return nil
}

//nolint:gochecknoglobals // Constructor table keyed by protocol
var newAdapters = map[filesystem.Protocol]func(mediascan.ClientSource, mediascan.Options) *mediascan.Adapter{
	filesystem.ProtocolSMB:   mediascan.NewSMBAdapter,
	filesystem.ProtocolSFTP:  mediascan.NewSFTPAdapter,
	filesystem.ProtocolFTP:   mediascan.NewFTPAdapter,
	filesystem.ProtocolLocal: mediascan.NewLocalAdapter,
}

func (a *App) buildScanners() {
	a.scanOpts = mediascan.Options{
		Throttle:    a.throttle,
		IOWorkers:   a.cfg.Settings.Scan.IOWorkers,
		Logger:      a.logger.Named("scan"),
		Metrics:     a.collectors,
		Excludes:    a.cfg.Settings.Scan.Excludes,
		ProbeWrites: a.cfg.Settings.Scan.ProbeWrites,
	}

	a.adapters = make(map[filesystem.Protocol]*mediascan.Adapter, len(newAdapters))
	for protocol, build := range newAdapters {
		a.adapters[protocol] = build(a.clients, a.scanOpts)
	}
}

func (a *App) buildHandler(cloud fileops.CloudStore) {
	strategyOpts := []fileops.StrategyOption{
		fileops.WithThrottle(a.throttle),
		fileops.WithStrategyLogger(a.logger.Named("transfer")),
	}

	registry := fileops.NewRegistry(
		fileops.NewRemoteStrategy(filesystem.ProtocolSMB, a.clients, a.cache, strategyOpts...),
		fileops.NewRemoteStrategy(filesystem.ProtocolSFTP, a.clients, a.cache, strategyOpts...),
		fileops.NewRemoteStrategy(filesystem.ProtocolFTP, a.clients, a.cache, strategyOpts...),
		fileops.NewLocalStrategy(a.collectors.Advisor(a.throttle)),
	)

	if cloud != nil {
		registry.Register(fileops.NewCloudStrategy(cloud, a.cache))
	}

	a.handler = fileops.NewHandler(registry, a.cache,
		fileops.WithLogger(a.logger.Named("transfer")),
		fileops.WithMetrics(a.collectors))
}

func (a *App) serveMetrics() error {
	addr := a.cfg.Metrics.Addr
	if addr == "" {
		return nil
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics address %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.collectors.Handler())

	a.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: ShutdownTimeout,
	}

	go func() {
		if err := a.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	a.logger.Info("serving metrics", zap.String("addr", listener.Addr().String()))

	return nil
}

// Collectors returns the metrics collectors.
func (a *App) Collectors() *metrics.Collectors {
	return a.collectors
}

// Close releases connections, the credential store and the metrics server.
func (a *App) Close() error {
	var errs []error

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}

	if a.connector != nil {
		if err := a.connector.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			errs = append(errs, err)
		}
	}

	if a.cache != nil {
		if err := a.cache.CleanTemp(); err != nil {
			errs = append(errs, err)
		}
	}

	_ = a.logger.Sync()

	return errors.Join(errs...)
}
