package msg

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ProgressBar renders a single-line build progress indicator: a percent
// bar plus a label (the CLI passes the target the latest update concerns). It is driven by
// explicit calls to Set rather than by wrapping an io.Writer, since a
// build's unit of progress is "targets completed out of targets dirty",
// not bytes copied.
type ProgressBar struct {
	Total      int64
	Indent     int
	Start      time.Time
	W          io.Writer

	mu         sync.Mutex
	current    int64
	label      string
	lastPrint  time.Time
	throbIndex int
}

var throbbers = []rune{'|', '/', '-', '\\'}

func NewProgressBar(total int64, indent int, w io.Writer) *ProgressBar {
	return &ProgressBar{
		Total:     total,
		Indent:    indent,
		Start:     time.Now(),
		W:         w,
		lastPrint: time.Now(),
	}
}

// Set records that current targets (out of Total) have completed, with
// label shown beside the bar, and repaints if enough time
// has passed since the last repaint. Scheduler progress callbacks arrive
// from worker goroutines, so Set is safe to call concurrently.
func (pb *ProgressBar) Set(current int64, label string) {
	pb.mu.Lock()
	pb.current = current
	pb.label = label
	shouldPrint := time.Since(pb.lastPrint) > 40*time.Millisecond
	if shouldPrint {
		pb.lastPrint = time.Now()
	}
	pb.mu.Unlock()

	if shouldPrint {
		pb.print(false)
	}
}

func (pb *ProgressBar) print(finish bool) {
	pb.mu.Lock()
	current, label := pb.current, pb.label
	pb.mu.Unlock()

	width := 40
	percent := float64(current) / float64(max(pb.Total, 1))
	if finish {
		percent = 1
	}

	filled := min(int(percent*float64(width)), width)
	bar := strings.Repeat("█", filled) + strings.Repeat("-", width-filled)

	throb := throbbers[pb.throbIndex%len(throbbers)]
	pb.throbIndex++
	if finish {
		throb = ' '
		label = ""
	}

	fmt.Fprintf(pb.W, "\r%s%6.f%% [%s] %c %s",
		strings.Repeat(" ", pb.Indent),
		percent*100,
		bar,
		throb,
		label,
	)
}

// Finish prints a final 100% frame and a trailing newline.
func (pb *ProgressBar) Finish() {
	pb.print(true)
	fmt.Fprintln(pb.W)
}
