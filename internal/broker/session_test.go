package broker

import (
	"errors"
	"sync"
	"testing"

	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/model"
)

func testLink() *ipc.MemLink {
	return ipc.NewMemLink(5,
		[]model.Point{
			{Name: "tank_level", Kind: "DOUBLE"},
			{Name: "flow_rate", Kind: "DOUBLE"},
		},
		[]model.Point{
			{Name: "valve1", Kind: "DOUBLE", Value: -1e14},
			{Name: "pump2", Kind: "DOUBLE", Value: -1e14},
		},
	)
}

func startedSession(t *testing.T, link *ipc.MemLink) *Session {
	t.Helper()
	meta, err := link.Handshake()
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	s := NewSession()
	if err := s.Start(meta, link); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func TestNewPointTableCapacity(t *testing.T) {
	if _, err := NewPointTable(model.MaxPoints); err != nil {
		t.Fatalf("NewPointTable(%d): %v", model.MaxPoints, err)
	}
	if _, err := NewPointTable(model.MaxPoints + 1); !errors.Is(err, ErrTableFull) {
		t.Fatalf("NewPointTable(%d) error = %v, want ErrTableFull", model.MaxPoints+1, err)
	}
}

func TestSessionStartLoadsInitialUpdate(t *testing.T) {
	s := startedSession(t, testLink())

	if s.ID == "" {
		t.Fatalf("session has no ID")
	}
	meta, ok := s.Metadata()
	if !ok || meta.PublishCount != 2 || meta.UpdateCount != 2 || meta.TimestepMs != 5 {
		t.Fatalf("Metadata = %+v, %v", meta, ok)
	}
	snap := s.Snapshot()
	if len(snap.Update) != 2 || snap.Update[0].Name != "valve1" || snap.Update[0].Value != -1e14 {
		t.Fatalf("initial update table = %+v", snap.Update)
	}
}

func TestMergeUpdateMatchesByName(t *testing.T) {
	s := startedSession(t, testLink())

	if !s.MergeUpdate("pump2", 3) {
		t.Fatalf("MergeUpdate(pump2) reported no match")
	}
	if s.MergeUpdate("ghost", 1) {
		t.Fatalf("MergeUpdate(ghost) reported a match")
	}
	snap := s.Snapshot()
	if snap.Update[1].Value != 3 || snap.Update[1].Time != 0 {
		t.Fatalf("pump2 = %+v, want value 3 with time untouched", snap.Update[1])
	}
	if snap.Update[0].Value != -1e14 {
		t.Fatalf("valve1 changed: %+v", snap.Update[0])
	}
}

func TestMergeUpdateBeforeStart(t *testing.T) {
	s := NewSession()
	if s.MergeUpdate("valve1", 1) {
		t.Fatalf("MergeUpdate succeeded before Start")
	}
	if _, err := s.Exchange(testLink()); !errors.Is(err, ErrSessionNotStarted) {
		t.Fatalf("Exchange error = %v, want ErrSessionNotStarted", err)
	}
}

func TestExchangeStampsPendingUpdates(t *testing.T) {
	link := testLink()
	s := startedSession(t, link)

	link.SetPublish(0, 10, 0.5)
	link.SetPublish(1, 20, 0.5)
	s.MergeUpdate("valve1", 42.5)

	snap, err := s.Exchange(link)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if snap.Step != 1 || snap.SimTime != 0.5 {
		t.Fatalf("snapshot step %d sim time %v", snap.Step, snap.SimTime)
	}
	if snap.Publish[0].Value != 10 || snap.Publish[1].Value != 20 {
		t.Fatalf("publish = %+v", snap.Publish)
	}

	up := link.Update()
	if up[0].Value != 42.5 || up[0].Time != 0.5 {
		t.Fatalf("valve1 in simulator = %+v, want value 42.5 time 0.5", up[0])
	}
	if up[1].Value != -1e14 || up[1].Time != 0 {
		t.Fatalf("pump2 in simulator = %+v, want untouched", up[1])
	}

	// A second step without new updates leaves the stamp alone.
	link.SetPublish(0, 11, 0.505)
	if _, err := s.Exchange(link); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if got := link.Update()[0].Time; got != 0.5 {
		t.Fatalf("valve1 time = %v after idle step, want 0.5", got)
	}
}

func TestSessionTablesStayConsistentUnderConcurrency(t *testing.T) {
	link := testLink()
	s := startedSession(t, link)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.MergeUpdate("valve1", float64(i))
			s.MergeUpdate("pump2", float64(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			link.SetPublish(0, float64(i), float64(i))
			snap, err := s.Exchange(link)
			if err != nil {
				t.Errorf("Exchange: %v", err)
				return
			}
			if len(snap.Publish) != 2 || len(snap.Update) != 2 {
				t.Errorf("snapshot shape changed: %d/%d", len(snap.Publish), len(snap.Update))
				return
			}
			if snap.Update[0].Name != "valve1" || snap.Update[1].Name != "pump2" {
				t.Errorf("update names changed: %+v", snap.Update)
				return
			}
		}
	}()
	wg.Wait()

	snap := s.Snapshot()
	if snap.Update[0].Value != 499 || snap.Update[1].Value != 499 {
		t.Fatalf("final update values = %+v", snap.Update)
	}
	if snap.Step != 500 {
		t.Fatalf("Step = %d, want 500", snap.Step)
	}
}

func TestStepStatsSummary(t *testing.T) {
	s := NewStepStats(4)
	if got := s.Summary(); got.Count != 0 {
		t.Fatalf("empty summary = %+v", got)
	}
	for _, ms := range []int{1, 2, 3, 4, 5, 6} {
		s.Add(msDuration(ms), ms == 6)
	}
	got := s.Summary()
	if got.Count != 4 {
		t.Fatalf("Count = %d, want window size 4", got.Count)
	}
	if got.MeanMs != 4.5 {
		t.Fatalf("MeanMs = %v, want 4.5", got.MeanMs)
	}
	if got.P99Ms != 6 {
		t.Fatalf("P99Ms = %v, want 6", got.P99Ms)
	}
	if got.Overruns != 1 {
		t.Fatalf("Overruns = %d, want 1", got.Overruns)
	}
}
