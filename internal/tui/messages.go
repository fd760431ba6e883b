package tui

import "github.com/joe/netmedia/pkg/fileops"

// ProgressMsg carries one batch progress report.
type ProgressMsg fileops.Progress

// DoneMsg carries the finished batch result.
type DoneMsg struct {
	Result *fileops.Result
}
