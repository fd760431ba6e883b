package shared

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatBytes renders a byte count as "1.5 MB".
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}

	return humanize.Bytes(uint64(n))
}

// FormatRate renders bytes per second as "1.5 MB/s".
func FormatRate(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}

	return humanize.Bytes(uint64(bytesPerSecond)) + "/s"
}

// FormatDuration renders d as "45s", "2m05s" or "1h02m".
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60) //nolint:mnd // Seconds per minute
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60) //nolint:mnd // Minutes per hour
	}
}

// TruncatePath shortens p to maxLen by eliding its middle.
func TruncatePath(p string, maxLen int) string {
	const ellipsis = "..."

	if maxLen <= len(ellipsis) || len(p) <= maxLen {
		return p
	}

	keep := maxLen - len(ellipsis)
	head := keep / 2 //nolint:mnd // Half on each side
	tail := keep - head

	return p[:head] + ellipsis + p[len(p)-tail:]
}
