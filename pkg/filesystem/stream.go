package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// CopyStats contains timing information about a stream copy.
type CopyStats struct {
	BytesCopied int64
	ReadTime    time.Duration
	WriteTime   time.Duration
}

// Elapsed returns the time spent in reads and writes.
func (s *CopyStats) Elapsed() time.Duration {
	return s.ReadTime + s.WriteTime
}

// CopyStream copies src to dst in bufSize chunks, reporting progress after each
// chunk and checking ctx before each read. total is passed through to progress.
func CopyStream(
	ctx context.Context,
	dst io.Writer,
	src io.Reader,
	total int64,
	bufSize int,
	progress ProgressFunc,
) (*CopyStats, error) {
	stats := &CopyStats{}

	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	buf := make([]byte, bufSize)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err //nolint:wrapcheck // Context errors are classified by the caller
		}

		readStart := time.Now()
		nr, readErr := src.Read(buf) //nolint:varnamelen // nr is idiomatic for bytes read
		stats.ReadTime += time.Since(readStart)

		if nr > 0 {
			writeStart := time.Now()
			nw, err := dst.Write(buf[:nr]) //nolint:varnamelen // nw is idiomatic for bytes written
			stats.WriteTime += time.Since(writeStart)

			if err != nil {
				return stats, fmt.Errorf("failed to write to destination: %w", err)
			}

			if nr != nw {
				return stats, fmt.Errorf("short write: %w", io.ErrShortWrite)
			}

			stats.BytesCopied += int64(nw)

			if progress != nil {
				progress(stats.BytesCopied, total)
			}
		}

		if errors.Is(readErr, io.EOF) {
			return stats, nil
		}

		if readErr != nil {
			return stats, fmt.Errorf("failed to read from source: %w", readErr)
		}
	}
}

// progressReader counts bytes pulled through it by libraries that consume a
// reader directly (FTP STOR) and stops when ctx is cancelled.
type progressReader struct {
	ctx      context.Context //nolint:containedctx // Reader is consumed by a library that takes no context
	reader   io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func (r *progressReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err //nolint:wrapcheck // Context errors are classified by the caller
	}

	n, err := r.reader.Read(p)
	if n > 0 {
		r.read += int64(n)
		if r.progress != nil {
			r.progress(r.read, r.total)
		}
	}

	return n, err //nolint:wrapcheck // Pass-through reader
}
