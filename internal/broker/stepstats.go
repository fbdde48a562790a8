package broker

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// StepSummary describes recent step durations in milliseconds.
type StepSummary struct {
	Count    int     `json:"count"`
	MeanMs   float64 `json:"mean_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	P99Ms    float64 `json:"p99_ms"`
	Overruns uint64  `json:"overruns"`
}

// StepStats keeps a sliding window of step durations.
type StepStats struct {
	mu       sync.Mutex
	window   []float64
	next     int
	full     bool
	overruns uint64
}

// NewStepStats returns a window holding the last size steps.
func NewStepStats(size int) *StepStats {
	if size <= 0 {
		size = 1024
	}
	return &StepStats{window: make([]float64, size)}
}

// Add records one step.
func (s *StepStats) Add(d time.Duration, overran bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window[s.next] = float64(d) / float64(time.Millisecond)
	s.next++
	if s.next == len(s.window) {
		s.next = 0
		s.full = true
	}
	if overran {
		s.overruns++
	}
}

// Summary computes statistics over the current window.
func (s *StepStats) Summary() StepSummary {
	s.mu.Lock()
	n := s.next
	if s.full {
		n = len(s.window)
	}
	samples := append([]float64(nil), s.window[:n]...)
	overruns := s.overruns
	s.mu.Unlock()

	sum := StepSummary{Count: len(samples), Overruns: overruns}
	if len(samples) == 0 {
		return sum
	}
	sum.MeanMs, sum.StdDevMs = stat.MeanStdDev(samples, nil)
	if len(samples) == 1 {
		sum.StdDevMs = 0
	}
	sort.Float64s(samples)
	sum.P99Ms = stat.Quantile(0.99, stat.Empirical, samples, nil)
	return sum
}
