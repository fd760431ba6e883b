package tui

import (
	"fmt"
	"io"
	"sync"

	"github.com/joe/netmedia/pkg/fileops"
)

// PlainProgress returns a ProgressFunc that prints one line when each file
// starts and one when it completes. It is used when stdout is not a terminal.
func PlainProgress(w io.Writer) fileops.ProgressFunc {
	var mu sync.Mutex

	return func(p fileops.Progress) {
		mu.Lock()
		defer mu.Unlock()

		switch p.Percent {
		case 0:
			_, _ = fmt.Fprintf(w, "[%d/%d] %s\n", p.Index+1, p.Total, p.Name)
		case 100: //nolint:mnd // Complete
			_, _ = fmt.Fprintf(w, "[%d/%d] %s done\n", p.Index+1, p.Total, p.Name)
		}
	}
}
