package broker

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/signalsfoundry/ot-databroker/model"
)

// ErrSessionNotStarted is returned by operations that need the handshake.
var ErrSessionNotStarted = errors.New("session not started")

// SimLink is the broker's side of the simulator shared memory. ReadPublish
// and ReadUpdate fill whole records; WriteUpdate only carries values and
// timestamps back.
type SimLink interface {
	Handshake() (model.SessionMetadata, error)
	ReadPublish(dst []model.Point)
	ReadUpdate(dst []model.Point)
	WriteUpdate(src []model.Point)
	Close() error
}

// Session owns the publish and update tables for one simulator run. A single
// mutex guards both tables, the pending-update marks and the step counters.
type Session struct {
	ID string

	mu      sync.Mutex
	started bool
	meta    model.SessionMetadata
	publish *PointTable
	update  *PointTable

	// pending marks update points written by ingress since the last
	// exchange; they are stamped with the step's simulation time.
	pending []bool

	step    uint64
	simTime float64
}

// NewSession returns an empty session with a fresh identifier.
func NewSession() *Session {
	return &Session{ID: uuid.NewString()}
}

// Start sizes both tables from the handshake and loads the simulator's
// initial update snapshot so names are known before ingress starts.
func (s *Session) Start(meta model.SessionMetadata, link SimLink) error {
	publish, err := NewPointTable(meta.PublishCount)
	if err != nil {
		return err
	}
	update, err := NewPointTable(meta.UpdateCount)
	if err != nil {
		return err
	}
	link.ReadUpdate(update.Points())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
	s.publish = publish
	s.update = update
	s.pending = make([]bool, update.Len())
	s.started = true
	return nil
}

// Metadata returns the handshake values and whether the session started.
func (s *Session) Metadata() (model.SessionMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta, s.started
}

// MergeUpdate overwrites the value of the update point named name. It
// reports false when the session has no such point.
func (s *Session) MergeUpdate(name string, v float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return false
	}
	i := s.update.Index(name)
	if i < 0 {
		return false
	}
	s.update.SetValue(i, v)
	s.pending[i] = true
	return true
}

// Exchange performs one step's copy under the lock: simulator outputs into
// the publish table, update values out to the simulator. It returns a
// snapshot of both tables as they stood after the copy.
func (s *Session) Exchange(link SimLink) (model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return model.Snapshot{}, ErrSessionNotStarted
	}

	pub := s.publish.Points()
	link.ReadPublish(pub)
	for i := range pub {
		if pub[i].Time > s.simTime {
			s.simTime = pub[i].Time
		}
	}

	up := s.update.Points()
	for i, dirty := range s.pending {
		if dirty {
			up[i].Time = s.simTime
			s.pending[i] = false
		}
	}
	link.WriteUpdate(up)
	s.step++

	return s.snapshotLocked(), nil
}

// Snapshot copies both tables.
func (s *Session) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return model.Snapshot{SessionID: s.ID}
	}
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() model.Snapshot {
	return model.Snapshot{
		SessionID: s.ID,
		Step:      s.step,
		SimTime:   s.simTime,
		Publish:   s.publish.Snapshot(),
		Update:    s.update.Snapshot(),
	}
}
