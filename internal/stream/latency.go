package stream

import (
	"sort"
	"sync"
	"time"
)

// latencyWindow keeps the most recent analysis durations.
type latencyWindow struct {
	mu      sync.RWMutex
	samples []time.Duration
	maxSize int
	sum     time.Duration
}

func newLatencyWindow(maxSize int) *latencyWindow {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &latencyWindow{maxSize: maxSize}
}

func (l *latencyWindow) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, d)
	l.sum += d
	if len(l.samples) > l.maxSize {
		l.sum -= l.samples[0]
		copy(l.samples[0:], l.samples[1:])
		l.samples = l.samples[:l.maxSize]
	}
}

func (l *latencyWindow) Average() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.samples) == 0 {
		return 0
	}
	return l.sum / time.Duration(len(l.samples))
}

// Percentile returns the p-th percentile (0-100) of the retained samples.
func (l *latencyWindow) Percentile(p float64) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), l.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	return sorted[int((p/100.0)*float64(len(sorted)-1))]
}

func (l *latencyWindow) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples)
}
