package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/model"
)

type memPort struct {
	mu      sync.Mutex
	writes  int
	last    []model.Point
	actuate []model.Point
}

func (p *memPort) WritePublish(points []model.Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++
	p.last = append(p.last[:0], points...)
}

func (p *memPort) ReadUpdate(dst []model.Point) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(dst, p.actuate)
}

func TestTankFillsAndDrains(t *testing.T) {
	tk := newTank(2, 0.5)
	tk.update[pumpCmd].Value = 1
	for i := 0; i < 100; i++ {
		tk.advance(0.01)
	}
	filled := tk.level
	if filled <= 0 {
		t.Fatalf("level = %v after pumping, want > 0", filled)
	}
	if tk.publish[tankLevel].Time != tk.simTime {
		t.Fatalf("publish time %v, want %v", tk.publish[tankLevel].Time, tk.simTime)
	}

	tk.update[pumpCmd].Value = 0
	tk.update[valveCmd].Value = 5 // clamped to 1
	for i := 0; i < 100; i++ {
		tk.advance(0.01)
	}
	if tk.level >= filled {
		t.Fatalf("level %v did not drain from %v", tk.level, filled)
	}
	if tk.publish[tankFlow].Value <= 0 {
		t.Fatalf("outflow = %v, want > 0", tk.publish[tankFlow].Value)
	}
}

func TestClamp01(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0.25: 0.25, 3: 1} {
		if got := clamp01(in); got != want {
			t.Fatalf("clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}

// TestRunPlantFollowsBrokerProtocol plays the broker's part: post publish
// and update once, then per step wait publish and post update.
func TestRunPlantFollowsBrokerProtocol(t *testing.T) {
	sems := ipc.NewMemBank()
	port := &memPort{actuate: []model.Point{{Name: "pump_cmd", Value: 1}, {Name: "valve_cmd"}}}
	tk := newTank(2, 0.5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan int, 1)
	go func() {
		n, err := runPlant(ctx, tk, port, sems, 0.01, 3)
		if err != nil {
			t.Errorf("runPlant: %v", err)
		}
		done <- n
	}()

	if err := sems.HandshakeReady.Wait(ctx); err != nil {
		t.Fatalf("wait handshake: %v", err)
	}
	_ = sems.PublishReady.Post()
	_ = sems.UpdateReady.Post()
	for !sems.IsStopped() {
		if err := sems.PublishReady.Wait(ctx); err != nil {
			t.Fatalf("wait publish: %v", err)
		}
		_ = sems.UpdateReady.Post()
	}

	if n := <-done; n != 3 {
		t.Fatalf("steps = %d, want 3", n)
	}
	if port.writes != 3 {
		t.Fatalf("publish writes = %d, want 3", port.writes)
	}
	if port.last[tankLevel].Value <= 0 {
		t.Fatalf("level = %v, want > 0 with pump on", port.last[tankLevel].Value)
	}
}

func TestRunPlantLeavesOnForeignStop(t *testing.T) {
	sems := ipc.NewMemBank()
	_ = sems.SignalStop()
	_ = sems.UpdateReady.Post()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := runPlant(ctx, newTank(1, 1), &memPort{}, sems, 0.01, 0)
	if err != nil || n != 0 {
		t.Fatalf("runPlant = %d, %v; want 0, nil", n, err)
	}
}
