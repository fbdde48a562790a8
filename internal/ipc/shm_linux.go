//go:build linux

package ipc

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/signalsfoundry/ot-databroker/model"
)

// ShmKeys are the SysV keys of the three shared memory segments.
type ShmKeys struct {
	Handshake int
	Publish   int
	Update    int
}

// DefaultShmKeys match the keys compiled into the simulator adapter.
var DefaultShmKeys = ShmKeys{Handshake: 10620, Publish: 10618, Update: 10619}

// ShmLink is the broker's view of the simulator's shared memory.
type ShmLink struct {
	keys    ShmKeys
	meta    model.SessionMetadata
	publish []byte
	update  []byte
}

// NewShmLink returns an unattached link. Handshake attaches it.
func NewShmLink(keys ShmKeys) *ShmLink {
	return &ShmLink{keys: keys}
}

// Handshake reads the session metadata once and attaches the publish and
// update segments sized from it.
func (l *ShmLink) Handshake() (model.SessionMetadata, error) {
	rec, err := attachSegment(l.keys.Handshake, HandshakeSize, false)
	if err != nil {
		return model.SessionMetadata{}, fmt.Errorf("attach handshake segment: %w", err)
	}
	meta, err := DecodeHandshake(rec)
	_ = unix.SysvShmDetach(rec)
	if err != nil {
		return model.SessionMetadata{}, fmt.Errorf("read handshake: %w", err)
	}

	if meta.PublishCount > 0 {
		if l.publish, err = attachSegment(l.keys.Publish, meta.PublishCount*RecordSize, false); err != nil {
			return model.SessionMetadata{}, fmt.Errorf("attach publish segment: %w", err)
		}
	}
	if meta.UpdateCount > 0 {
		if l.update, err = attachSegment(l.keys.Update, meta.UpdateCount*RecordSize, false); err != nil {
			l.Close()
			return model.SessionMetadata{}, fmt.Errorf("attach update segment: %w", err)
		}
	}
	l.meta = meta
	return meta, nil
}

func (l *ShmLink) ReadPublish(dst []model.Point) { readRecords(l.publish, dst) }

func (l *ShmLink) ReadUpdate(dst []model.Point) { readRecords(l.update, dst) }

// WriteUpdate copies only value and time; names belong to the simulator.
func (l *ShmLink) WriteUpdate(src []model.Point) {
	n := min(len(src), len(l.update)/RecordSize)
	for i := 0; i < n; i++ {
		PutValueTime(l.update[i*RecordSize:(i+1)*RecordSize], src[i].Value, src[i].Time)
	}
}

// Close detaches the segments. The segments themselves are left in place
// for the simulator.
func (l *ShmLink) Close() error {
	var errs []error
	if l.publish != nil {
		errs = append(errs, unix.SysvShmDetach(l.publish))
		l.publish = nil
	}
	if l.update != nil {
		errs = append(errs, unix.SysvShmDetach(l.update))
		l.update = nil
	}
	return errors.Join(errs...)
}

// ShmSimulatorPort is the simulator's side of the contract. It backs
// cmd/simulator, a stand-in plant for running the broker without the
// numerical solver.
type ShmSimulatorPort struct {
	keys    ShmKeys
	publish []byte
	update  []byte
}

// CreateSimulatorPort sizes the step segments for the given points, writes
// their names, and publishes the handshake record. The caller then posts
// the handshake semaphore.
func CreateSimulatorPort(keys ShmKeys, timestepMs float64, publish, update []model.Point) (*ShmSimulatorPort, error) {
	meta := model.SessionMetadata{
		PublishCount: len(publish),
		UpdateCount:  len(update),
		TimestepMs:   timestepMs,
	}
	if err := ValidateMetadata(meta); err != nil {
		return nil, err
	}

	p := &ShmSimulatorPort{keys: keys}
	var err error
	if len(publish) > 0 {
		if p.publish, err = attachSegment(keys.Publish, len(publish)*RecordSize, true); err != nil {
			return nil, fmt.Errorf("create publish segment: %w", err)
		}
		for i, pt := range publish {
			EncodePoint(p.publish[i*RecordSize:(i+1)*RecordSize], pt)
		}
	}
	if len(update) > 0 {
		if p.update, err = attachSegment(keys.Update, len(update)*RecordSize, true); err != nil {
			p.Close()
			return nil, fmt.Errorf("create update segment: %w", err)
		}
		for i, pt := range update {
			EncodePoint(p.update[i*RecordSize:(i+1)*RecordSize], pt)
		}
	}

	rec, err := attachSegment(keys.Handshake, HandshakeSize, true)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("create handshake segment: %w", err)
	}
	EncodeHandshake(rec, meta)
	_ = unix.SysvShmDetach(rec)
	return p, nil
}

// WritePublish stores the values and time of the simulator's outputs.
func (p *ShmSimulatorPort) WritePublish(points []model.Point) {
	n := min(len(points), len(p.publish)/RecordSize)
	for i := 0; i < n; i++ {
		PutValueTime(p.publish[i*RecordSize:(i+1)*RecordSize], points[i].Value, points[i].Time)
	}
}

// ReadUpdate loads the actuator values written back by the broker.
func (p *ShmSimulatorPort) ReadUpdate(dst []model.Point) { readRecords(p.update, dst) }

func (p *ShmSimulatorPort) Close() error {
	var errs []error
	if p.publish != nil {
		errs = append(errs, unix.SysvShmDetach(p.publish))
		p.publish = nil
	}
	if p.update != nil {
		errs = append(errs, unix.SysvShmDetach(p.update))
		p.update = nil
	}
	return errors.Join(errs...)
}

func readRecords(seg []byte, dst []model.Point) {
	n := min(len(dst), len(seg)/RecordSize)
	for i := 0; i < n; i++ {
		DecodePoint(seg[i*RecordSize:(i+1)*RecordSize], &dst[i])
	}
}

// attachSegment gets (creating if needed) and attaches a segment of at
// least size bytes. With recreate, an existing segment that is too small
// is removed and created again.
func attachSegment(key, size int, recreate bool) ([]byte, error) {
	id, err := unix.SysvShmGet(key, size, unix.IPC_CREAT|0o600)
	if errors.Is(err, unix.EINVAL) && recreate {
		if old, gerr := unix.SysvShmGet(key, 0, 0); gerr == nil {
			_, _ = unix.SysvShmCtl(old, unix.IPC_RMID, nil)
		}
		id, err = unix.SysvShmGet(key, size, unix.IPC_CREAT|0o600)
	}
	if err != nil {
		return nil, fmt.Errorf("shmget key %d size %d: %w", key, size, err)
	}
	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat key %d: %w", key, err)
	}
	if len(mem) < size {
		_ = unix.SysvShmDetach(mem)
		return nil, fmt.Errorf("segment key %d is %d bytes, want %d", key, len(mem), size)
	}
	return mem, nil
}
