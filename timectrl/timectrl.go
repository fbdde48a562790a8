package timectrl

import (
	"sync"
	"time"
)

// Mode describes how the Pacer holds the step loop to the simulation timestep.
type Mode int

const (
	// RealTime holds every step to at least one timestep of wall-clock time.
	RealTime Mode = iota
	// Accelerated lets the loop run as fast as the simulator produces steps.
	Accelerated
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// Pacer enforces a lower bound on the wall-clock duration of each step.
//
// In RealTime mode the wait is a busy spin on the monotonic clock.
type Pacer struct {
	mu       sync.Mutex
	Interval time.Duration
	Mode     Mode

	last  time.Time
	steps uint64
}

// NewPacer constructs a pacer whose first step starts now.
func NewPacer(interval time.Duration, mode Mode) *Pacer {
	return &Pacer{
		Interval: interval,
		Mode:     mode,
		last:     time.Now(),
	}
}

// Reset starts a new step at the current instant.
func (p *Pacer) Reset() {
	p.mu.Lock()
	p.last = time.Now()
	p.mu.Unlock()
}

// Wait blocks until at least Interval has passed since the previous step
// began, then begins the next step. It returns the wall-clock duration of
// the step that just ended and whether that step had already overrun the
// interval before Wait was called.
func (p *Pacer) Wait() (elapsed time.Duration, overran bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	busy := time.Since(p.last)
	overran = p.Interval > 0 && busy > p.Interval
	if p.Mode == RealTime {
		for time.Since(p.last) < p.Interval {
		}
	}
	now := time.Now()
	elapsed = now.Sub(p.last)
	p.last = now
	p.steps++
	return elapsed, overran
}

// Steps returns how many steps have been paced.
func (p *Pacer) Steps() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.steps
}
