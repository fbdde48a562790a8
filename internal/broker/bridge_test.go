package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/model"
	"github.com/signalsfoundry/ot-databroker/timectrl"
)

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

type recordingTelemetry struct {
	mu    sync.Mutex
	snaps []model.Snapshot
	stops int
}

func (r *recordingTelemetry) Publish(_ context.Context, snap model.Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, snap)
	r.mu.Unlock()
}

func (r *recordingTelemetry) PublishStop(context.Context) {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
}

func (r *recordingTelemetry) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps), r.stops
}

// runPlant mimics the simulator adapter: announce the handshake, then for
// each step wait for the broker's update, write outputs and post publish.
// On termination it posts stop and publish twice.
func runPlant(ctx context.Context, t *testing.T, link *ipc.MemLink, sems *ipc.Bank, steps int) {
	t.Helper()
	if err := sems.HandshakeReady.Post(); err != nil {
		t.Errorf("post handshake: %v", err)
		return
	}
	for i := 1; i <= steps; i++ {
		if err := sems.UpdateReady.Wait(ctx); err != nil {
			t.Errorf("plant wait update: %v", err)
			return
		}
		link.SetPublish(0, float64(i), float64(i)*0.005)
		if err := sems.PublishReady.Post(); err != nil {
			t.Errorf("plant post publish: %v", err)
			return
		}
	}
	_ = sems.SignalStop()
	_ = sems.PublishReady.Post()
	_ = sems.PublishReady.Post()
}

func TestBridgeRunsUntilStop(t *testing.T) {
	link := testLink()
	sems := ipc.NewMemBank()
	out := &recordingTelemetry{}
	session := NewSession()
	stats := NewStepStats(16)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go runPlant(ctx, t, link, sems, 5)

	bridge := NewBridge(session, link, sems, out, WithMode(timectrl.Accelerated), WithStepStats(stats))
	if err := bridge.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	steps, stops := out.counts()
	if steps == 0 {
		t.Fatalf("no steps published")
	}
	if stops != 1 {
		t.Fatalf("stop marker sent %d times, want 1", stops)
	}
	if got := stats.Summary().Count; got != steps {
		t.Fatalf("stats recorded %d steps, telemetry saw %d", got, steps)
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	for i, snap := range out.snaps {
		if snap.Step != uint64(i+1) {
			t.Fatalf("snapshot %d has step %d", i, snap.Step)
		}
		if snap.SessionID != session.ID {
			t.Fatalf("snapshot session %q, want %q", snap.SessionID, session.ID)
		}
		if snap.Publish[0].Name != "tank_level" {
			t.Fatalf("publish names lost: %+v", snap.Publish)
		}
	}
}

func TestBridgePacesRealTime(t *testing.T) {
	link := testLink()
	sems := ipc.NewMemBank()
	out := &recordingTelemetry{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go runPlant(ctx, t, link, sems, 4)

	start := time.Now()
	if err := NewBridge(NewSession(), link, sems, out).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)

	steps, _ := out.counts()
	if want := time.Duration(steps) * 5 * time.Millisecond; elapsed < want {
		t.Fatalf("%d steps took %v, want at least %v", steps, elapsed, want)
	}
}

func TestBridgeHandshakeFailureIsFatal(t *testing.T) {
	link := testLink()
	link.FailHandshake(errors.New("segment missing"))
	sems := ipc.NewMemBank()
	if err := sems.HandshakeReady.Post(); err != nil {
		t.Fatalf("post: %v", err)
	}
	out := &recordingTelemetry{}

	err := NewBridge(NewSession(), link, sems, out).Run(context.Background())
	if err == nil {
		t.Fatalf("Run succeeded with a failing handshake")
	}
	if steps, stops := out.counts(); steps != 0 || stops != 0 {
		t.Fatalf("telemetry saw %d steps and %d stops after a failed handshake", steps, stops)
	}
	if sems.PublishReady.Value() != 0 || sems.UpdateReady.Value() != 0 {
		t.Fatalf("semaphores posted after a failed handshake")
	}
}

func TestBridgeHonoursContextWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := NewBridge(NewSession(), testLink(), ipc.NewMemBank(), nil).Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run error = %v, want deadline exceeded", err)
	}
}
