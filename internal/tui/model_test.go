package tui

import (
	"bytes"
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/joe/netmedia/internal/tui/shared"
	pkgerrors "github.com/joe/netmedia/pkg/errors"
	"github.com/joe/netmedia/pkg/fileops"
)

var _ = Describe("Model", func() {
	var (
		bridge    *Bridge
		cancelled int
		model     *Model
	)

	BeforeEach(func() {
		bridge = NewBridge(4)
		cancelled = 0
		model = NewModel("Copying 2 files", 2, bridge, func() { cancelled++ })
	})

	send := func(msg tea.Msg) tea.Cmd {
		_, cmd := model.Update(msg)

		return cmd
	}

	Describe("Progress", func() {
		It("starts empty", func() {
			Expect(model.Fraction()).To(BeZero())
			Expect(model.View()).To(ContainSubstring("0/2 files"))
		})

		It("tracks the current file", func() {
			send(ProgressMsg{Index: 0, Total: 2, Name: "a.jpg", Percent: 50})

			Expect(model.Fraction()).To(BeNumerically("~", 0.25, 0.001))
			Expect(model.View()).To(ContainSubstring("a.jpg"))
		})

		It("keeps listening after each report", func() {
			cmd := send(ProgressMsg{Index: 0, Total: 2, Name: "a.jpg"})

			Expect(cmd).NotTo(BeNil())
		})

		It("logs completed files", func() {
			send(ProgressMsg{Index: 0, Total: 2, Name: "a.jpg", Percent: 0})
			send(ProgressMsg{Index: 0, Total: 2, Name: "a.jpg", Percent: 100})

			Expect(model.finished).To(Equal(1))
			Expect(model.Fraction()).To(BeNumerically("~", 0.5, 0.001))
			Expect(model.activity).To(HaveLen(1))
			Expect(model.activity[0]).To(ContainSubstring("a.jpg"))
			Expect(model.View()).To(ContainSubstring("1/2 files"))
		})

		It("logs a file that never completed as failed", func() {
			send(ProgressMsg{Index: 0, Total: 2, Name: "a.jpg", Percent: 30})
			send(ProgressMsg{Index: 1, Total: 2, Name: "b.jpg", Percent: 0})

			Expect(model.finished).To(Equal(1))
			Expect(model.activity).To(ConsistOf(ContainSubstring("a.jpg")))
			Expect(model.name).To(Equal("b.jpg"))
		})

		It("keeps only the most recent activity", func() {
			for i := range ActivityLogEntries + 3 {
				send(ProgressMsg{Index: i, Total: 10, Name: "f.jpg", Percent: 100})
			}

			Expect(model.activity).To(HaveLen(ActivityLogEntries))
		})
	})

	Describe("Cancellation", func() {
		It("cancels the batch on the first ctrl+c", func() {
			cmd := send(tea.KeyMsg{Type: tea.KeyCtrlC})

			Expect(cmd).To(BeNil())
			Expect(cancelled).To(Equal(1))
			Expect(model.Cancelled()).To(BeTrue())
			Expect(model.View()).To(ContainSubstring("cancelling"))
		})

		It("quits on the second ctrl+c", func() {
			send(tea.KeyMsg{Type: tea.KeyCtrlC})
			cmd := send(tea.KeyMsg{Type: tea.KeyCtrlC})

			Expect(cmd).NotTo(BeNil())
			Expect(cmd()).To(Equal(tea.QuitMsg{}))
			Expect(cancelled).To(Equal(1))
		})

		It("ignores other keys", func() {
			Expect(send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})).To(BeNil())
			Expect(model.Cancelled()).To(BeFalse())
		})
	})

	Describe("Completion", func() {
		It("renders the summary and quits", func() {
			result := &fileops.Result{
				Kind:         fileops.OpCopy,
				Status:       fileops.StatusSuccess,
				SuccessCount: 2,
				Total:        2,
			}

			cmd := send(DoneMsg{Result: result})

			Expect(cmd()).To(Equal(tea.QuitMsg{}))
			Expect(model.Result()).To(BeIdenticalTo(result))
			Expect(model.View()).To(ContainSubstring("copy success: 2 of 2 succeeded"))
		})

		It("stops ticking once done", func() {
			send(DoneMsg{Result: &fileops.Result{}})

			Expect(send(shared.TickMsg(time.Now()))).To(BeNil())
		})
	})

	Describe("Window Size Handling", func() {
		It("resizes both bars", func() {
			send(tea.WindowSizeMsg{Width: 80, Height: 24})

			Expect(model.width).To(Equal(80))
			Expect(model.overall.Width).To(Equal(shared.BarWidth(80)))
			Expect(model.file.Width).To(Equal(shared.BarWidth(80)))
		})
	})
})

var _ = Describe("Bridge", func() {
	It("drops progress when the buffer is full", func() {
		bridge := NewBridge(1)

		bridge.Progress(fileops.Progress{Name: "a"})
		bridge.Progress(fileops.Progress{Name: "b"})

		Expect(bridge.Listen()()).To(Equal(ProgressMsg{Name: "a"}))
	})

	It("drains progress before the result", func() {
		bridge := NewBridge(4)
		result := &fileops.Result{Total: 1}

		bridge.Progress(fileops.Progress{Name: "a", Percent: 100})
		bridge.Finish(result)
		bridge.Finish(&fileops.Result{Total: 99})

		Expect(bridge.Listen()()).To(Equal(ProgressMsg{Name: "a", Percent: 100}))
		Expect(bridge.Listen()()).To(Equal(DoneMsg{Result: result}))
	})
})

var _ = Describe("RenderSummary", func() {
	It("lists trash records and failures", func() {
		result := &fileops.Result{
			Kind:         fileops.OpDelete,
			Status:       fileops.StatusPartialSuccess,
			SuccessCount: 1,
			Total:        2,
			Trash: []fileops.TrashRecord{{
				OriginalPath: "smb://nas/Media/a.jpg",
				TrashedPath:  "smb://nas/Media/.trash_1/a.jpg",
			}},
			Failures: []fileops.FileFailure{{
				Name:   "b.jpg",
				Source: "smb://nas/Media/b.jpg",
				Err:    pkgerrors.New(pkgerrors.KindNotFound, "delete", "smb://nas/Media/b.jpg", errors.New("no such file")),
			}},
		}

		view := RenderSummary(result, 3*time.Second)

		Expect(view).To(ContainSubstring("delete partial_success: 1 of 2 succeeded"))
		Expect(view).To(ContainSubstring("took 3s"))
		Expect(view).To(ContainSubstring("smb://nas/Media/.trash_1/a.jpg"))
		Expect(view).To(ContainSubstring("smb://nas/Media/b.jpg"))
	})
})

var _ = Describe("PlainProgress", func() {
	It("prints file starts and completions", func() {
		var out bytes.Buffer

		progress := PlainProgress(&out)
		progress(fileops.Progress{Index: 0, Total: 2, Name: "a.jpg", Percent: 0})
		progress(fileops.Progress{Index: 0, Total: 2, Name: "a.jpg", Percent: 40})
		progress(fileops.Progress{Index: 0, Total: 2, Name: "a.jpg", Percent: 100})

		Expect(out.String()).To(Equal("[1/2] a.jpg\n[1/2] a.jpg done\n"))
	})
})

var _ = Describe("Run", func() {
	It("returns the batch result", func() {
		var out bytes.Buffer

		want := &fileops.Result{Kind: fileops.OpCopy, Status: fileops.StatusSuccess, SuccessCount: 1, Total: 1}

		batch := func(_ context.Context, progress fileops.ProgressFunc) *fileops.Result {
			progress(fileops.Progress{Index: 0, Total: 1, Name: "a.jpg", Percent: 0})
			progress(fileops.Progress{Index: 0, Total: 1, Name: "a.jpg", Percent: 100})

			return want
		}

		result, err := Run(context.Background(), "Copying", 1, batch,
			tea.WithInput(nil), tea.WithOutput(&out), tea.WithoutSignalHandler())

		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(BeIdenticalTo(want))
	})
})
