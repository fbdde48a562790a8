package ipc

import (
	"context"
	"testing"
	"time"
)

func postN(t *testing.T, s Semaphore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.Post(); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
}

func assertDrained(t *testing.T, b *Bank) {
	t.Helper()
	for i, s := range b.all() {
		if v := s.Value(); v != 0 {
			t.Fatalf("semaphore %d value = %d after Drain, want 0", i, v)
		}
	}
}

func TestBankDrainIsIdempotent(t *testing.T) {
	b := NewMemBank()
	postN(t, b.PublishReady, 3)
	postN(t, b.UpdateReady, 1)
	postN(t, b.Stop, 2)
	postN(t, b.HandshakeReady, 5)

	b.Drain()
	assertDrained(t, b)

	done := make(chan struct{})
	go func() {
		b.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Drain on zeroed semaphores blocked")
	}
	assertDrained(t, b)
}

func TestBankStopIsMonotonic(t *testing.T) {
	b := NewMemBank()
	if b.IsStopped() {
		t.Fatalf("fresh bank reports stopped")
	}
	for i := 0; i < 3; i++ {
		if err := b.SignalStop(); err != nil {
			t.Fatalf("SignalStop: %v", err)
		}
		for j := 0; j < 5; j++ {
			if !b.IsStopped() {
				t.Fatalf("IsStopped false after %d SignalStop calls", i+1)
			}
		}
	}
	if got := b.Stop.Value(); got != 3 {
		t.Fatalf("stop value = %d, want 3", got)
	}
}

func TestMemSemaphoreWaitWakesOnPost(t *testing.T) {
	s := NewMemSemaphore(0)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Wait(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	if err := s.Post(); err != nil {
		t.Fatalf("Post: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Post")
	}
	if v := s.Value(); v != 0 {
		t.Fatalf("value = %d after wait, want 0", v)
	}
}

func TestMemSemaphoreWaitHonoursContext(t *testing.T) {
	s := NewMemSemaphore(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatalf("Wait returned nil on an empty semaphore")
	}
	if s.TryWait() {
		t.Fatalf("TryWait succeeded on an empty semaphore")
	}
}
