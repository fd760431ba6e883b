package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/joe/netmedia/internal/config"
	"github.com/joe/netmedia/internal/mediascan"
	"github.com/joe/netmedia/internal/probe"
	"github.com/joe/netmedia/internal/tui"
	"github.com/joe/netmedia/pkg/credentials"
	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/fileops"
	"github.com/joe/netmedia/pkg/filesystem"
)

// Exported variables.
var (
	// ErrIncomplete is returned when a batch finished with failed files.
	ErrIncomplete = errors.New("operation did not complete for every file")
	// ErrUnknownCommand is returned for an unrecognised subcommand.
	ErrUnknownCommand = errors.New("unknown command")
)

// Run executes the configured subcommand.
func (a *App) Run(ctx context.Context) error {
	command := a.cfg.Command()

	a.logger.Debug("running command", zap.String("command", command))

	switch command {
	case "scan":
		return a.scan(ctx, a.cfg.Args.Scan)
	case "count":
		return a.count(ctx, a.cfg.Count)
	case "page":
		return a.page(ctx, a.cfg.Page)
	case "copy":
		return a.transfer(ctx, fileops.OpCopy, a.cfg.Copy)
	case "move":
		return a.transfer(ctx, fileops.OpMove, a.cfg.Move)
	case "delete":
		return a.delete(ctx, a.cfg.Delete)
	case "probe":
		return a.probe(ctx, a.cfg.Args.Probe)
	case "creds add":
		return a.addCredential(ctx, a.cfg.Creds.Add)
	case "creds list":
		return a.listCredentials(ctx)
	}

	return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
}

// Adapter returns the media scanner for path's protocol.
func (a *App) Adapter(path string) (*mediascan.Adapter, error) {
	parsed, err := filesystem.ParsePath(path)
	if err != nil {
		return nil, err //nolint:wrapcheck // ParsePath returns classified errors
	}

	adapter, ok := a.adapters[parsed.Endpoint.Protocol]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.KindNoStrategyForProtocol, "scan", path,
			"no scanner for protocol %q", parsed.Endpoint.Protocol)
	}

	return adapter, nil
}

type scanRequest struct {
	adapter *mediascan.Adapter
	types   []mediascan.MediaType
	sizes   mediascan.SizeFilter
}

func (a *App) scanRequest(args config.ScanArgs) (*scanRequest, error) {
	adapter, err := a.Adapter(args.Path)
	if err != nil {
		return nil, err
	}

	if len(args.Exclude) > 0 {
		opts := a.scanOpts
		opts.Excludes = append(append([]string(nil), opts.Excludes...), args.Exclude...)
		adapter = newAdapters[adapter.Protocol()](a.clients, opts)
	}

	types, err := mediascan.ParseMediaTypes(args.Types)
	if err != nil {
		return nil, err //nolint:wrapcheck // Message names the bad type
	}

	return &scanRequest{
		adapter: adapter,
		types:   types,
		sizes: mediascan.SizeFilter{
			ImageMin: args.MinImage, ImageMax: args.MaxImage,
			VideoMin: args.MinVideo, VideoMax: args.MaxVideo,
			AudioMin: args.MinAudio, AudioMax: args.MaxAudio,
		},
	}, nil
}

func (a *App) scan(ctx context.Context, cmd *config.ScanCmd) error {
	req, err := a.scanRequest(cmd.ScanArgs)
	if err != nil {
		return err
	}

	var (
		records []mediascan.FileRecord
		limited bool
	)

	if cmd.Limit > 0 {
		records, limited, err = req.adapter.ScanFolderLimited(ctx, cmd.Path, req.types, req.sizes, cmd.CredID, cmd.Limit, nil)
	} else {
		records, err = req.adapter.ScanFolder(ctx, cmd.Path, req.types, req.sizes, cmd.CredID, cmd.Recursive, nil)
	}

	if err != nil {
		return err //nolint:wrapcheck // Adapters return classified errors
	}

	a.printRecords(records)

	summary := fmt.Sprintf("%s files", humanize.Comma(int64(len(records))))
	if limited {
		summary += fmt.Sprintf(" (stopped at limit %d)", cmd.Limit)
	}

	_, _ = fmt.Fprintln(a.out, summary)

	return nil
}

func (a *App) count(ctx context.Context, cmd *config.CountCmd) error {
	req, err := a.scanRequest(cmd.ScanArgs)
	if err != nil {
		return err
	}

	maxCount := cmd.Max
	if maxCount <= 0 {
		maxCount = a.cfg.Settings.Scan.MaxCount
	}

	n, err := req.adapter.FileCount(ctx, cmd.Path, req.types, req.sizes, cmd.CredID, cmd.Recursive, maxCount)
	if err != nil {
		return err //nolint:wrapcheck // Adapters return classified errors
	}

	_, _ = fmt.Fprintln(a.out, n)

	return nil
}

func (a *App) page(ctx context.Context, cmd *config.PageCmd) error {
	req, err := a.scanRequest(cmd.ScanArgs)
	if err != nil {
		return err
	}

	limit := cmd.Limit
	if limit <= 0 {
		limit = a.cfg.Settings.Scan.PageLimit
	}

	page, err := req.adapter.ScanFolderPaged(ctx, cmd.Path, req.types, req.sizes, cmd.CredID,
		cmd.Offset, limit, cmd.Recursive)
	if err != nil {
		return err //nolint:wrapcheck // Adapters return classified errors
	}

	a.printRecords(page.Items)

	_, _ = fmt.Fprintf(a.out, "offset %d, %d files, more: %t\n", page.Offset, len(page.Items), page.HasMore)

	return nil
}

func (a *App) printRecords(records []mediascan.FileRecord) {
	for _, record := range records {
		_, _ = fmt.Fprintf(a.out, "%-6s %10s  %s\n",
			record.MediaType, humanize.Bytes(uint64(max(record.Size, 0))), record.Path)
	}
}

func (a *App) transfer(ctx context.Context, kind fileops.OperationKind, cmd *config.TransferCmd) error {
	if adapter, err := a.Adapter(cmd.Dest); err == nil && !adapter.IsWritable(ctx, cmd.Dest, "") {
		a.logger.Warn("destination does not look writable", zap.String("dest", cmd.Dest))
	}

	sources := fileops.Paths(cmd.Sources...)
	for i, name := range cmd.Names {
		sources[i].DisplayName = name
	}

	return a.execute(ctx, fileops.Operation{
		Kind:        kind,
		Sources:     sources,
		Destination: cmd.Dest,
		Overwrite:   cmd.Overwrite,
	})
}

func (a *App) delete(ctx context.Context, cmd *config.DeleteCmd) error {
	return a.execute(ctx, fileops.Operation{
		Kind:       fileops.OpDelete,
		Sources:    fileops.Paths(cmd.Paths...),
		SoftDelete: cmd.Trash,
	})
}

// execute runs op behind the live view when interactive, else with plain
// progress lines, and prints the summary.
func (a *App) execute(ctx context.Context, op fileops.Operation) error {
	start := time.Now()

	batch := func(ctx context.Context, progress fileops.ProgressFunc) *fileops.Result {
		return a.handler.Execute(ctx, op, progress)
	}

	var result *fileops.Result

	if a.interactive && !a.cfg.Plain {
		var err error

		title := fmt.Sprintf("%s %d file(s)", op.Kind, len(op.Sources))

		result, err = tui.Run(ctx, title, len(op.Sources), batch)
		if err != nil {
			return err //nolint:wrapcheck // Already describes the failure
		}
	} else {
		result = batch(ctx, tui.PlainProgress(a.out))
		_, _ = fmt.Fprint(a.out, tui.RenderSummary(result, time.Since(start)))
	}

	for _, p := range result.ResultPaths {
		a.logger.Debug("result path", zap.String("path", p))
	}

	if result.Status != fileops.StatusSuccess {
		return fmt.Errorf("%w: %s", ErrIncomplete, result.Summary())
	}

	return nil
}

func (a *App) probe(ctx context.Context, cmd *config.ProbeCmd) error {
	kind, err := probe.ParseKind(cmd.Kind)
	if err != nil {
		return err //nolint:wrapcheck // Message names the bad kind
	}

	parsed, err := filesystem.ParsePath(cmd.Path)
	if err != nil {
		return err //nolint:wrapcheck // ParsePath returns classified errors
	}

	if cmd.CredID != "" {
		parsed.Endpoint = parsed.Endpoint.WithCredential(cmd.CredID)
	}

	client, err := a.clients.ClientFor(ctx, parsed)
	if err != nil {
		return err
	}

	entry, err := client.Stat(ctx, parsed.Path)
	if err != nil {
		return err //nolint:wrapcheck // Clients return classified errors
	}

	fetch := a.probes.Fetch
	if cmd.Extended {
		fetch = a.probes.Extend
	}

	result, err := fetch(ctx, client, parsed.Path, entry.Size, kind)
	if err != nil {
		return err //nolint:wrapcheck // Downloader returns classified errors
	}

	_, _ = fmt.Fprintf(a.out, "%s\t%s of %s\tcomplete=%t cached=%t\n",
		result.Path,
		humanize.Bytes(uint64(max(result.Length, 0))),
		humanize.Bytes(uint64(max(entry.Size, 0))),
		result.Complete, result.Cached)

	return nil
}

func (a *App) addCredential(ctx context.Context, cmd *config.CredsAddCmd) error {
	parsed, err := filesystem.ParsePath(cmd.URL)
	if err != nil {
		return err //nolint:wrapcheck // ParsePath returns classified errors
	}

	endpoint := parsed.Endpoint

	creds := &credentials.Credentials{
		ID:         cmd.ID,
		Protocol:   endpoint.Protocol,
		Host:       endpoint.Host,
		Port:       endpoint.Port,
		Username:   cmd.Username,
		Password:   cmd.Password,
		Passphrase: cmd.Passphrase,
		Domain:     cmd.Domain,
	}

	if creds.Username == "" {
		creds.Username = endpoint.User
	}

	if endpoint.Protocol == filesystem.ProtocolSMB {
		creds.Share = endpoint.Share
		if first := parsed.FirstSegment(); first != "" {
			creds.Share += "/" + first
		}
	}

	if cmd.KeyFile != "" {
		key, err := os.ReadFile(cmd.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to read key file: %w", err)
		}

		creds.PrivateKey = string(key)
	}

	if err := a.store.Save(ctx, creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	a.logger.Info("credentials saved",
		zap.String("id", creds.ID),
		zap.String("resource", endpoint.ResourceKey()))

	_, _ = fmt.Fprintln(a.out, creds.ID)

	return nil
}

func (a *App) listCredentials(ctx context.Context) error {
	all, err := a.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	rows := make([][]string, 0, len(all))

	for _, creds := range all {
		secret := "-"

		switch {
		case creds.PrivateKey != "":
			secret = "key"
		case creds.Password != "":
			secret = "password"
		}

		rows = append(rows, []string{
			creds.ID,
			string(creds.Protocol),
			fmt.Sprintf("%s:%d", creds.Host, creds.Port),
			creds.Share,
			creds.Username,
			secret,
		})
	}

	t := table.New().
		Headers("ID", "PROTOCOL", "SERVER", "SHARE", "USER", "SECRET").
		Rows(rows...)

	_, _ = fmt.Fprintln(a.out, t.Render())

	return nil
}
