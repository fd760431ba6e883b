// Package tui renders a live progress view for copy, move and delete batches.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/netmedia/internal/tui/shared"
	"github.com/joe/netmedia/pkg/fileops"
)

// Exported constants.
const (
	// ActivityLogEntries is the number of finished files kept on screen.
	ActivityLogEntries = 5
)

// Model is the bubbletea model of a running batch.
type Model struct {
	title  string
	total  int
	bridge *Bridge
	cancel context.CancelFunc

	overall progress.Model
	file    progress.Model
	width   int

	index    int
	name     string
	percent  float64
	finished int
	activity []string

	start     time.Time
	now       time.Time
	cancelled bool
	done      bool
	result    *fileops.Result
}

// NewModel creates the view of a batch of total files. cancel stops the batch
// when the user presses ctrl+c.
func NewModel(title string, total int, bridge *Bridge, cancel context.CancelFunc) *Model {
	now := time.Now()

	return &Model{
		title:   title,
		total:   total,
		bridge:  bridge,
		cancel:  cancel,
		overall: shared.NewProgressModel(shared.ProgressBarWidth),
		file:    shared.NewProgressModel(shared.ProgressBarWidth),
		index:   -1,
		start:   now,
		now:     now,
	}
}

// Init starts listening for progress and the redraw tick.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.bridge.Listen(), shared.TickCmd())
}

// Update handles one message.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.overall.Width = shared.BarWidth(msg.Width)
		m.file.Width = m.overall.Width

		return m, nil
	case ProgressMsg:
		m.handleProgress(fileops.Progress(msg))

		return m, m.bridge.Listen()
	case DoneMsg:
		m.handleDone(msg.Result)

		return m, tea.Quit
	case shared.TickMsg:
		m.now = time.Time(msg)
		if m.done {
			return m, nil
		}

		return m, shared.TickCmd()
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() != shared.KeyCtrlC && msg.String() != "q" {
		return m, nil
	}

	if m.cancelled || m.done {
		return m, tea.Quit
	}

	m.cancelled = true
	if m.cancel != nil {
		m.cancel()
	}

	return m, nil
}

func (m *Model) handleProgress(p fileops.Progress) {
	if p.Total > 0 {
		m.total = p.Total
	}

	if p.Index != m.index {
		m.closeCurrent()
		m.index = p.Index
		m.name = p.Name
	}

	m.percent = p.Percent

	if p.Percent >= shared.ProgressPercentageScale {
		m.log(shared.SuccessSymbol() + " " + p.Name)
		m.finished++
		m.name = ""
	}
}

// closeCurrent records the previous file as failed when it never reached 100%.
func (m *Model) closeCurrent() {
	if m.index >= 0 && m.name != "" {
		m.log(shared.ErrorSymbol() + " " + m.name)
		m.finished++
	}
}

func (m *Model) handleDone(result *fileops.Result) {
	m.closeCurrent()
	m.name = ""
	m.done = true
	m.result = result
}

func (m *Model) log(entry string) {
	m.activity = append(m.activity, entry)
	if len(m.activity) > ActivityLogEntries {
		m.activity = m.activity[len(m.activity)-ActivityLogEntries:]
	}
}

// Fraction returns the overall batch progress in [0, 1].
func (m *Model) Fraction() float64 {
	if m.total <= 0 {
		return 0
	}

	current := 0.0
	if m.name != "" {
		current = m.percent / shared.ProgressPercentageScale
	}

	return min((float64(m.finished)+current)/float64(m.total), 1)
}

// Result returns the batch result once the batch has finished.
func (m *Model) Result() *fileops.Result {
	return m.result
}

// Cancelled reports whether the user asked to stop the batch.
func (m *Model) Cancelled() bool {
	return m.cancelled
}

// View renders the model.
func (m *Model) View() string {
	elapsed := m.now.Sub(m.start)

	if m.done && m.result != nil {
		return RenderSummary(m.result, elapsed) + "\n"
	}

	var builder strings.Builder

	builder.WriteString(shared.RenderLabel(m.title))
	builder.WriteString("\n\n")

	fmt.Fprintf(&builder, "%s  %d/%d files\n", shared.RenderProgress(m.overall, m.Fraction()), m.finished, m.total)

	if m.name != "" {
		fmt.Fprintf(&builder, "%s\n", shared.RenderProgress(m.file, m.percent/shared.ProgressPercentageScale))
		fmt.Fprintf(&builder, "%s\n", shared.TruncatePath(m.name, max(m.overall.Width, shared.ProgressBarWidth)))
	}

	if len(m.activity) > 0 {
		builder.WriteString("\n")
		builder.WriteString(shared.RenderActivityLog("Recent", m.activity, ActivityLogEntries))
		builder.WriteString("\n")
	}

	builder.WriteString("\n")

	status := "elapsed " + shared.FormatDuration(elapsed) + "  ctrl+c to cancel"
	if m.cancelled {
		status = "cancelling, waiting for the current file  ctrl+c again to quit"
	}

	builder.WriteString(shared.RenderDim(status))
	builder.WriteString("\n")

	return builder.String()
}
