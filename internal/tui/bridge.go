package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/netmedia/pkg/fileops"
)

// DefaultBridgeBuffer is the number of progress reports buffered before new
// ones are dropped.
const DefaultBridgeBuffer = 64

// Bridge forwards progress from a running batch to the bubbletea loop.
// Progress never blocks the batch: reports arriving while the buffer is full
// are dropped, since the next report supersedes them.
type Bridge struct {
	progress chan fileops.Progress
	done     chan *fileops.Result
	once     sync.Once
}

// NewBridge creates a bridge buffering size progress reports.
func NewBridge(size int) *Bridge {
	if size <= 0 {
		size = DefaultBridgeBuffer
	}

	return &Bridge{
		progress: make(chan fileops.Progress, size),
		done:     make(chan *fileops.Result, 1),
	}
}

// Progress is a fileops.ProgressFunc.
func (b *Bridge) Progress(p fileops.Progress) {
	select {
	case b.progress <- p:
	default:
	}
}

// Finish delivers the batch result. Later calls are ignored.
func (b *Bridge) Finish(result *fileops.Result) {
	b.once.Do(func() {
		b.done <- result
	})
}

// Listen returns a command that waits for the next report. Buffered progress
// is drained before the result is delivered.
func (b *Bridge) Listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case p := <-b.progress:
			return ProgressMsg(p)
		default:
		}

		select {
		case p := <-b.progress:
			return ProgressMsg(p)
		case result := <-b.done:
			return DoneMsg{Result: result}
		}
	}
}
