package dispatch

import (
	"slices"
	"sync"
	"time"
)

// defaultWindowSize is the capacity of each tool's measurement window.
const defaultWindowSize = 100

// window tracks the most recent invocation latencies and outcomes for one
// tool, for percentile and error-rate reporting. It is a fixed-size ring
// buffer; all methods are safe for concurrent use.
type window struct {
	mu      sync.Mutex
	samples []int64 // latency measurements in ms
	failed  []bool  // per-slot error flag, parallel to samples
	pos     int     // next write position
	count   int     // total measurements recorded (may exceed capacity)
}

// newWindow creates a window with the given capacity. A non-positive size
// defaults to [defaultWindowSize].
func newWindow(size int) *window {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &window{
		samples: make([]int64, size),
		failed:  make([]bool, size),
	}
}

// record adds one measurement, overwriting the oldest once the buffer is full.
func (w *window) record(d time.Duration, isError bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.pos] = d.Milliseconds()
	w.failed[w.pos] = isError
	w.pos = (w.pos + 1) % len(w.samples)
	w.count++
}

// filled returns the number of meaningful samples in the buffer.
func (w *window) filled() int {
	if w.count >= len(w.samples) {
		return len(w.samples)
	}
	return w.count
}

// snapshot returns the current window statistics in one pass.
func (w *window) snapshot() (calls int, errorRate float64, p50Ms, p99Ms int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.filled()
	if n == 0 {
		return w.count, 0, 0, 0
	}

	sorted := make([]int64, n)
	copy(sorted, w.samples[:n])
	slices.Sort(sorted)

	errs := 0
	for i := range n {
		if w.failed[i] {
			errs++
		}
	}

	p50Ms = sorted[n/2]
	p99Ms = sorted[int(float64(n-1)*0.99)]
	return w.count, float64(errs) / float64(n), p50Ms, p99Ms
}
