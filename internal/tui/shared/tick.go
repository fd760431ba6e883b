package shared

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// TickMsg is sent on each redraw interval.
type TickMsg time.Time

// TickCmd schedules the next TickMsg.
func TickCmd() tea.Cmd {
	return tea.Tick(TickIntervalMs*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
