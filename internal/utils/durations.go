package utils

import (
	"sort"
	"sync"
	"time"
)

// DurationTracker stores recent duration samples and computes percentiles.
// The scheduler keeps one per collection task to surface pass timings on the
// status endpoint without a metrics backend in the loop.
type DurationTracker struct {
	mu      sync.RWMutex
	samples []time.Duration
	maxSize int
}

// NewDurationTracker creates a tracker storing up to maxSize samples.
func NewDurationTracker(maxSize int) *DurationTracker {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &DurationTracker{maxSize: maxSize}
}

// Observe records a new duration.
func (d *DurationTracker) Observe(sample time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.samples = append(d.samples, sample)
	if len(d.samples) > d.maxSize {
		// Drop oldest sample to bound memory.
		copy(d.samples[0:], d.samples[1:])
		d.samples = d.samples[:d.maxSize]
	}
}

// Percentile returns the percentile (0-100) duration. Returns zero if no samples.
func (d *DurationTracker) Percentile(p float64) time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.samples) == 0 {
		return 0
	}

	sorted := append([]time.Duration(nil), d.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	index := int((p / 100.0) * float64(len(sorted)-1))
	return sorted[index]
}

// Average returns the mean of the recorded samples, zero when empty.
func (d *DurationTracker) Average() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range d.samples {
		total += s
	}
	return total / time.Duration(len(d.samples))
}

// Count returns number of samples recorded.
func (d *DurationTracker) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.samples)
}
