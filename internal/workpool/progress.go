package workpool

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// BarReporter renders an in-place terminal progress bar, refreshed at a
// fixed interval, safe for concurrent Increment calls from pool workers.
// Adapted from the teacher's internal/tile/progress.go.
type BarReporter struct {
	total     int64
	processed atomic.Int64
	label     string
	barWidth  int
	start     time.Time
	done      chan struct{}
	once      sync.Once
	mu        sync.Mutex
}

// NewBarReporter starts a progress bar labeled `label` tracking `total`
// items.
func NewBarReporter(label string, total int64) *BarReporter {
	pb := &BarReporter{
		total:    total,
		label:    label,
		barWidth: 30,
		start:    time.Now(),
		done:     make(chan struct{}),
	}
	go pb.run()
	return pb
}

// Increment marks one more item processed.
func (pb *BarReporter) Increment() {
	pb.processed.Add(1)
}

// Finish stops the refresh loop and prints the final state with a newline.
// Safe to call more than once.
func (pb *BarReporter) Finish() {
	pb.once.Do(func() { close(pb.done) })
	pb.draw()
	fmt.Fprint(os.Stderr, "\n")
}

func (pb *BarReporter) run() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-pb.done:
			return
		case <-ticker.C:
			pb.draw()
		}
	}
}

func (pb *BarReporter) draw() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	processed := pb.processed.Load()
	total := pb.total

	var frac float64
	if total > 0 {
		frac = float64(processed) / float64(total)
	}
	if frac > 1 {
		frac = 1
	}

	filled := int(float64(pb.barWidth) * frac)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.barWidth-filled)

	elapsed := time.Since(pb.start)
	var rate float64
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(processed) / secs
	}

	fmt.Fprintf(os.Stderr, "\r%s [%s] %3.0f%%  %d/%d  %.0f/s  %s\033[K",
		pb.label, bar, frac*100, processed, total, rate, formatDuration(elapsed))
}

func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) - m*60
	return fmt.Sprintf("%dm%02ds", m, s)
}

// NullReporter discards all progress events; useful in tests and for
// non-interactive runs.
type NullReporter struct{}

func (NullReporter) Increment() {}
func (NullReporter) Finish()    {}
