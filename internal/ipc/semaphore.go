// Package ipc holds the broker's inter-process primitives: the named
// semaphores shared with the simulator and the shared memory step regions.
package ipc

import (
	"context"
	"errors"
	"fmt"
)

// ErrOverflow is returned by Post when a semaphore is at its maximum value.
var ErrOverflow = errors.New("ipc: semaphore value overflow")

// Semaphore is a counting semaphore that may be shared across processes.
type Semaphore interface {
	// Post increments the count, waking one waiter.
	Post() error
	// TryWait decrements the count if it is positive and reports whether it did.
	TryWait() bool
	// Wait blocks until the count can be decremented or ctx is done.
	Wait(ctx context.Context) error
	// Value returns the current count.
	Value() int
	Close() error
}

// Names are the OS-level names of the four session semaphores.
type Names struct {
	PublishReady   string
	UpdateReady    string
	Stop           string
	HandshakeReady string
}

// DefaultNames match the names compiled into the simulator adapter.
var DefaultNames = Names{
	PublishReady:   "/pp_sem",
	UpdateReady:    "/up_sem",
	Stop:           "/stop",
	HandshakeReady: "/msg",
}

// Bank groups the four semaphores that pace and stop a session.
//
// The semaphores outlive any single process, so a Bank must be drained
// before a session starts.
type Bank struct {
	PublishReady   Semaphore
	UpdateReady    Semaphore
	Stop           Semaphore
	HandshakeReady Semaphore
}

// OpenBank opens (creating if needed) the named semaphores in names.
func OpenBank(names Names) (*Bank, error) {
	open := func(name string) (Semaphore, error) {
		s, err := OpenNamed(name, 0o644)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	var b Bank
	var err error
	if b.PublishReady, err = open(names.PublishReady); err != nil {
		return nil, err
	}
	if b.UpdateReady, err = open(names.UpdateReady); err != nil {
		_ = b.Close()
		return nil, err
	}
	if b.Stop, err = open(names.Stop); err != nil {
		_ = b.Close()
		return nil, err
	}
	if b.HandshakeReady, err = open(names.HandshakeReady); err != nil {
		_ = b.Close()
		return nil, err
	}
	return &b, nil
}

// NewMemBank returns a Bank backed by in-process semaphores.
func NewMemBank() *Bank {
	return &Bank{
		PublishReady:   NewMemSemaphore(0),
		UpdateReady:    NewMemSemaphore(0),
		Stop:           NewMemSemaphore(0),
		HandshakeReady: NewMemSemaphore(0),
	}
}

func (b *Bank) all() []Semaphore {
	return []Semaphore{b.PublishReady, b.UpdateReady, b.Stop, b.HandshakeReady}
}

// Drain forces every semaphore down to zero without ever blocking.
func (b *Bank) Drain() {
	for _, s := range b.all() {
		if s == nil {
			continue
		}
		for s.Value() > 0 {
			s.TryWait()
		}
	}
}

// SignalStop raises the stop semaphore by one. Stop is never un-signaled
// within a session.
func (b *Bank) SignalStop() error {
	if err := b.Stop.Post(); err != nil {
		return fmt.Errorf("signal stop: %w", err)
	}
	return nil
}

// IsStopped reports whether stop has been signaled. It never blocks.
func (b *Bank) IsStopped() bool {
	return b.Stop.Value() > 0
}

// Close releases the process's handles. The OS-level semaphores persist.
func (b *Bank) Close() error {
	var errs []error
	for _, s := range b.all() {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
