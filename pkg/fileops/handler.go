package fileops

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/filesystem"
	"github.com/joe/netmedia/pkg/staging"
)

// Metrics receives batch outcomes.
type Metrics interface {
	OperationFinished(kind OperationKind, status Status, succeeded, failed int)
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = metrics
	}
}

// WithClock overrides the clock used to name trash directories.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

// Handler executes batches of copy, move and delete operations.
type Handler struct {
	registry *Registry
	cache    *staging.Cache
	logger   *zap.Logger
	metrics  Metrics
	now      func() time.Time
}

// NewHandler creates a Handler. cache provides bridge files for
// cross-protocol transfers.
func NewHandler(registry *Registry, cache *staging.Cache, opts ...HandlerOption) *Handler {
	handler := &Handler{
		registry: registry,
		cache:    cache,
		logger:   zap.NewNop(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(handler)
	}

	return handler
}

// Execute runs op. Each source is processed independently; one file failing
// never stops the rest of the batch. The returned Result is never nil.
func (h *Handler) Execute(ctx context.Context, op Operation, progress ProgressFunc) *Result {
	result := &Result{Kind: op.Kind, Total: len(op.Sources)}

	var trash *trashPlan
	if op.Kind == OpDelete && op.SoftDelete {
		trash = h.planTrash(ctx, op.Sources)
	}

	for i, src := range op.Sources {
		report := func(percent float64) {
			if progress != nil {
				progress(Progress{Index: i, Total: len(op.Sources), Name: src.Name(), Percent: percent})
			}
		}

		report(0)

		var (
			resultPath  string
			destination string
			err         error
		)

		if ctxErr := ctx.Err(); ctxErr != nil {
			err = pkgerrors.Classify(op.Kind.String(), src.Path, ctxErr)
		} else {
			switch op.Kind {
			case OpCopy, OpMove:
				destination, err = joinDestination(op.Destination, src.Name())
				if err == nil {
					resultPath, err = h.transfer(ctx, op, src, destination, report)
				}
			case OpDelete:
				resultPath, err = h.delete(ctx, src, trash, result)
			default:
				err = pkgerrors.Newf(pkgerrors.KindProtocolError, "execute", src.Path, "unknown operation %d", op.Kind)
			}
		}

		if err != nil {
			failure := FileFailure{Name: src.Name(), Source: src.Path, Destination: destination, Err: err}
			result.Failures = append(result.Failures, failure)

			h.logger.Warn("file operation failed",
				zap.Stringer("op", op.Kind),
				zap.String("source", src.Path),
				zap.String("destination", destination),
				zap.String("kind", string(pkgerrors.KindOf(err))),
				zap.String("leg", string(pkgerrors.LegOf(err))),
				zap.Error(err))

			continue
		}

		result.SuccessCount++
		result.ResultPaths = append(result.ResultPaths, resultPath)

		report(100) //nolint:mnd // Complete
	}

	result.finalize()

	if h.metrics != nil {
		h.metrics.OperationFinished(op.Kind, result.Status, result.SuccessCount, len(result.Failures))
	}

	h.logger.Info("file operation finished",
		zap.Stringer("op", op.Kind),
		zap.Stringer("status", result.Status),
		zap.String("summary", result.Summary()))

	return result
}

// transfer copies or moves one file to destination.
func (h *Handler) transfer(
	ctx context.Context,
	op Operation,
	src FileRef,
	destination string,
	progress PercentFunc,
) (string, error) {
	from, err := h.registry.For(src.Path)
	if err != nil {
		return "", err
	}

	to, err := h.registry.For(destination)
	if err != nil {
		return "", err
	}

	dst := FileRef{Path: destination, DisplayName: src.DisplayName}

	if from == to {
		if op.Kind == OpCopy {
			return from.CopyFile(ctx, src, dst, op.Overwrite, progress) //nolint:wrapcheck // Strategies return classified errors
		}

		if !op.Overwrite {
			if err := destinationExists(ctx, to, destination); err != nil {
				return "", err
			}
		}

		return from.MoveFile(ctx, src, dst) //nolint:wrapcheck // Strategies return classified errors
	}

	if !op.Overwrite {
		if err := destinationExists(ctx, to, destination); err != nil {
			return "", err
		}
	}

	h.logger.Debug("bridging transfer through staging",
		zap.String("from", from.Name()),
		zap.String("to", to.Name()),
		zap.String("source", src.Path))

	if err := bridge(ctx, h.cache, from, src.Path, to, destination, progress); err != nil {
		return "", err
	}

	if op.Kind == OpMove {
		if err := from.DeleteFile(ctx, src.Path); err != nil {
			return destination, partialMove(src.Path, err)
		}
	}

	return destination, nil
}

// trashPlan maps each parent directory to its trash directory for one batch.
type trashPlan struct {
	dirs     map[string]string
	fallback bool
}

// planTrash creates one trash directory per parent. Any creation failure
// switches the whole batch to hard delete.
func (h *Handler) planTrash(ctx context.Context, sources []FileRef) *trashPlan {
	plan := &trashPlan{dirs: make(map[string]string)}
	name := filesystem.TrashDirPrefix + strconv.FormatInt(h.now().UnixMilli(), 10)

	for _, src := range sources {
		parsed, err := filesystem.ParsePath(src.Path)
		if err != nil {
			continue
		}

		parent := parsed.Dir()
		if _, ok := plan.dirs[parent.Raw]; ok {
			continue
		}

		trashDir := parent.Join(name).Raw

		strategy, err := h.registry.For(trashDir)
		if err == nil {
			err = strategy.Mkdir(ctx, trashDir)
		}

		if err != nil {
			h.logger.Warn("trash directory could not be created, deleting permanently",
				zap.String("trash_dir", trashDir),
				zap.Error(err))

			plan.fallback = true

			return plan
		}

		plan.dirs[parent.Raw] = trashDir
	}

	return plan
}

// delete removes one file, moving it to trash when the plan allows.
func (h *Handler) delete(ctx context.Context, src FileRef, plan *trashPlan, result *Result) (string, error) {
	strategy, err := h.registry.For(src.Path)
	if err != nil {
		return "", err
	}

	if plan == nil || plan.fallback {
		if err := strategy.DeleteFile(ctx, src.Path); err != nil {
			return "", err //nolint:wrapcheck // Strategies return classified errors
		}

		return src.Path, nil
	}

	parsed, err := filesystem.ParsePath(src.Path)
	if err != nil {
		return "", err //nolint:wrapcheck // ParsePath returns classified errors
	}

	trashDir := plan.dirs[parsed.Dir().Raw]

	trashed, err := joinDestination(trashDir, src.Name())
	if err != nil {
		return "", err
	}

	trashedPath, err := strategy.MoveFile(ctx, src, FileRef{Path: trashed})
	if err != nil {
		return "", err //nolint:wrapcheck // Strategies return classified errors
	}

	result.Trash = append(result.Trash, TrashRecord{
		TrashDir:     trashDir,
		OriginalPath: src.Path,
		TrashedPath:  trashedPath,
	})

	return src.Path, nil
}
