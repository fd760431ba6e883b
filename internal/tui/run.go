package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/netmedia/pkg/fileops"
)

// Batch runs a file operation reporting to progress.
type Batch func(ctx context.Context, progress fileops.ProgressFunc) *fileops.Result

// Run executes batch behind the live progress view and returns its result.
// Quitting the view cancels the batch; Run still waits for it to stop.
func Run(parent context.Context, title string, total int, batch Batch, opts ...tea.ProgramOption) (*fileops.Result, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	bridge := NewBridge(DefaultBridgeBuffer)
	results := make(chan *fileops.Result, 1)

	go func() {
		result := batch(ctx, bridge.Progress)
		bridge.Finish(result)
		results <- result
	}()

	model := NewModel(title, total, bridge, cancel)
	program := tea.NewProgram(model, append([]tea.ProgramOption{tea.WithContext(parent)}, opts...)...)

	_, err := program.Run()

	cancel()

	result := <-results

	if err != nil && parent.Err() == nil {
		return result, fmt.Errorf("progress view failed: %w", err)
	}

	return result, nil
}
