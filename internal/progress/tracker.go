// Package progress tracks how many catalog units have finished and reports it on a schedule.
package progress

import "sync"

// Tracker counts finished units per key. It is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	counts map[string]int
	total  int
}

func NewTracker() *Tracker {
	return &Tracker{counts: make(map[string]int)}
}

// Register adds keys to the expected total, each starting at zero.
func (t *Tracker) Register(keys ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, k := range keys {
		if _, ok := t.counts[k]; ok {
			continue
		}
		t.counts[k] = 0
		t.total++
	}
}

// Increment marks key as finished once more.
func (t *Tracker) Increment(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.counts[key]; !ok {
		t.total++
	}
	t.counts[key]++
}

// Snapshot returns a copy of the per-key counters.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// Completed returns the sum of all counters.
func (t *Tracker) Completed() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, v := range t.counts {
		n += v
	}
	return n
}

func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
