package ipc

import (
	"context"
	"math"
	"sync"
)

// MemSemaphore is an in-process Semaphore. It stands in for the named
// semaphores in tests and when the simulator runs inside the broker process.
type MemSemaphore struct {
	mu     sync.Mutex
	count  int
	notify chan struct{}
}

// NewMemSemaphore returns a semaphore with the given initial count.
func NewMemSemaphore(initial int) *MemSemaphore {
	return &MemSemaphore{count: initial, notify: make(chan struct{})}
}

func (s *MemSemaphore) Post() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == math.MaxInt32 {
		return ErrOverflow
	}
	s.count++
	close(s.notify)
	s.notify = make(chan struct{})
	return nil
}

func (s *MemSemaphore) TryWait() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return false
	}
	s.count--
	return true
}

func (s *MemSemaphore) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.count > 0 {
			s.count--
			s.mu.Unlock()
			return nil
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *MemSemaphore) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *MemSemaphore) Close() error { return nil }
