package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Label prefixes every line, e.g. "harvest".
	Label string

	// Noun names what is being counted.
	// Default: units
	Noun string

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to poll the tracker.
	// Default: 1s
	UpdateInterval time.Duration
}

// Reporter polls a Tracker and prints a progress line until every registered unit has finished
// or Stop is called. It never blocks the workers feeding the tracker.
type Reporter struct {
	opts    Options
	tracker *Tracker

	mu        sync.Mutex
	startTime time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopped   bool
}

func NewReporter(tracker *Tracker, opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = time.Second
	}
	if opts.Noun == "" {
		opts.Noun = "units"
	}
	if opts.Label == "" {
		opts.Label = "harvest"
	}

	return &Reporter{
		opts:    opts,
		tracker: tracker,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins polling in the background.
func (r *Reporter) Start() {
	r.startTime = time.Now()
	go r.updateLoop()
}

// Stop ends polling and waits for the final line to be written. Safe to call more than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.stopCh)
	}
	r.mu.Unlock()

	<-r.doneCh
}

// Done is closed once the reporter has written its final line.
func (r *Reporter) Done() <-chan struct{} {
	return r.doneCh
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printProgress("\n")
			return
		case <-ticker.C:
			if r.finished() {
				r.printProgress("\n")
				return
			}
			r.printProgress("")
		}
	}
}

func (r *Reporter) finished() bool {
	return r.tracker.Completed() >= r.tracker.Total()
}

func (r *Reporter) printProgress(end string) {
	completed := r.tracker.Completed()
	total := r.tracker.Total()

	var percent float64
	if total > 0 {
		percent = float64(completed) / float64(total) * 100
	}

	fmt.Fprintf(r.opts.Output, "\r[%s] Progress: %d/%d %s (%.1f%%) | Elapsed: %s    %s",
		r.opts.Label,
		completed,
		total,
		r.opts.Noun,
		percent,
		formatDuration(time.Since(r.startTime)),
		end,
	)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
