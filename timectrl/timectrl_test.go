package timectrl

import (
	"testing"
	"time"
)

func TestPacerRealTimeHoldsLowerBound(t *testing.T) {
	interval := 5 * time.Millisecond
	p := NewPacer(interval, RealTime)

	start := time.Now()
	for i := 0; i < 4; i++ {
		elapsed, _ := p.Wait()
		if elapsed < interval {
			t.Fatalf("step %d took %v, want at least %v", i, elapsed, interval)
		}
	}
	if total := time.Since(start); total < 4*interval {
		t.Fatalf("4 steps took %v, want at least %v", total, 4*interval)
	}
	if got := p.Steps(); got != 4 {
		t.Fatalf("Steps() = %d, want 4", got)
	}
}

func TestPacerAcceleratedDoesNotWait(t *testing.T) {
	p := NewPacer(time.Hour, Accelerated)

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("accelerated Wait blocked")
	}
}

func TestPacerReportsOverrun(t *testing.T) {
	p := NewPacer(time.Millisecond, RealTime)
	time.Sleep(5 * time.Millisecond)
	if _, overran := p.Wait(); !overran {
		t.Fatalf("expected overrun after sleeping past the interval")
	}

	p = NewPacer(time.Hour, Accelerated)
	if _, overran := p.Wait(); overran {
		t.Fatalf("unexpected overrun on an hour-long interval")
	}
}

func TestPacerZeroIntervalNeverOverruns(t *testing.T) {
	p := NewPacer(0, RealTime)
	time.Sleep(time.Millisecond)
	if _, overran := p.Wait(); overran {
		t.Fatalf("zero interval reported overrun")
	}
}

func TestModeString(t *testing.T) {
	if RealTime.String() != "realtime" || Accelerated.String() != "accelerated" {
		t.Fatalf("unexpected mode strings %q %q", RealTime, Accelerated)
	}
}
