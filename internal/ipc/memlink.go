package ipc

import (
	"sync"

	"github.com/signalsfoundry/ot-databroker/model"
)

// MemLink is an in-process stand-in for the simulator's shared memory. The
// test plant drives it through SetPublish and Update.
type MemLink struct {
	mu      sync.Mutex
	meta    model.SessionMetadata
	publish []model.Point
	update  []model.Point
	err     error
}

// NewMemLink returns a link whose handshake reports the sizes of publish
// and update.
func NewMemLink(timestepMs float64, publish, update []model.Point) *MemLink {
	return &MemLink{
		meta: model.SessionMetadata{
			PublishCount: len(publish),
			UpdateCount:  len(update),
			TimestepMs:   timestepMs,
		},
		publish: append([]model.Point(nil), publish...),
		update:  append([]model.Point(nil), update...),
	}
}

// FailHandshake makes the next Handshake return err.
func (l *MemLink) FailHandshake(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *MemLink) Handshake() (model.SessionMetadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return model.SessionMetadata{}, l.err
	}
	return l.meta, nil
}

func (l *MemLink) ReadPublish(dst []model.Point) {
	l.mu.Lock()
	copy(dst, l.publish)
	l.mu.Unlock()
}

func (l *MemLink) ReadUpdate(dst []model.Point) {
	l.mu.Lock()
	copy(dst, l.update)
	l.mu.Unlock()
}

func (l *MemLink) WriteUpdate(src []model.Point) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := min(len(src), len(l.update))
	for i := 0; i < n; i++ {
		l.update[i].Value = src[i].Value
		l.update[i].Time = src[i].Time
	}
}

func (l *MemLink) Close() error { return nil }

// SetPublish is the simulator writing one output.
func (l *MemLink) SetPublish(i int, value, t float64) {
	l.mu.Lock()
	l.publish[i].Value = value
	l.publish[i].Time = t
	l.mu.Unlock()
}

// Update is the simulator reading the actuator region.
func (l *MemLink) Update() []model.Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Point(nil), l.update...)
}
