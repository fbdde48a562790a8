package ipc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/signalsfoundry/ot-databroker/model"
)

// Shared memory record layout written by the simulator adapter:
//
//	char   name[128];
//	char   kind[50];
//	       (6 bytes padding)
//	double value;
//	double time;
const (
	RecordSize  = 200
	kindOffset  = model.MaxPointName
	valueOffset = 184
	timeOffset  = 192

	// HandshakeSize is the size of the handshake record
	// { int32 publish; int32 update; double timestep_seconds }.
	HandshakeSize = 16
)

// DecodePoint fills p from one record. The existing name and kind strings
// are kept when unchanged so steady-state steps do not allocate.
func DecodePoint(rec []byte, p *model.Point) {
	name := cString(rec[:kindOffset])
	if string(name) != p.Name {
		p.Name = string(name)
	}
	kind := cString(rec[kindOffset : kindOffset+model.MaxPointKind])
	if string(kind) != p.Kind {
		p.Kind = string(kind)
	}
	p.Value = math.Float64frombits(binary.NativeEndian.Uint64(rec[valueOffset:]))
	p.Time = math.Float64frombits(binary.NativeEndian.Uint64(rec[timeOffset:]))
}

// EncodePoint writes a full record. Names and kinds longer than their
// fields are truncated, keeping a terminating NUL.
func EncodePoint(rec []byte, p model.Point) {
	putCString(rec[:kindOffset], p.Name)
	putCString(rec[kindOffset:kindOffset+model.MaxPointKind], p.Kind)
	PutValueTime(rec, p.Value, p.Time)
}

// PutValueTime overwrites only the value and time of a record.
func PutValueTime(rec []byte, value, t float64) {
	binary.NativeEndian.PutUint64(rec[valueOffset:], math.Float64bits(value))
	binary.NativeEndian.PutUint64(rec[timeOffset:], math.Float64bits(t))
}

// DecodeHandshake parses the handshake record. The simulator reports the
// timestep in seconds; the broker keeps milliseconds.
func DecodeHandshake(rec []byte) (model.SessionMetadata, error) {
	if len(rec) < HandshakeSize {
		return model.SessionMetadata{}, fmt.Errorf("handshake record is %d bytes, want %d", len(rec), HandshakeSize)
	}
	meta := model.SessionMetadata{
		PublishCount: int(int32(binary.NativeEndian.Uint32(rec[0:]))),
		UpdateCount:  int(int32(binary.NativeEndian.Uint32(rec[4:]))),
		TimestepMs:   math.Float64frombits(binary.NativeEndian.Uint64(rec[8:])) * 1000.0,
	}
	if err := ValidateMetadata(meta); err != nil {
		return model.SessionMetadata{}, err
	}
	return meta, nil
}

// EncodeHandshake writes the handshake record the way the simulator does.
func EncodeHandshake(rec []byte, meta model.SessionMetadata) {
	binary.NativeEndian.PutUint32(rec[0:], uint32(int32(meta.PublishCount)))
	binary.NativeEndian.PutUint32(rec[4:], uint32(int32(meta.UpdateCount)))
	binary.NativeEndian.PutUint64(rec[8:], math.Float64bits(meta.TimestepMs/1000.0))
}

// ValidateMetadata checks point counts against table capacity.
func ValidateMetadata(meta model.SessionMetadata) error {
	if meta.PublishCount < 0 || meta.PublishCount > model.MaxPoints {
		return fmt.Errorf("publish count %d outside [0, %d]", meta.PublishCount, model.MaxPoints)
	}
	if meta.UpdateCount < 0 || meta.UpdateCount > model.MaxPoints {
		return fmt.Errorf("update count %d outside [0, %d]", meta.UpdateCount, model.MaxPoints)
	}
	if meta.TimestepMs < 0 || math.IsNaN(meta.TimestepMs) {
		return fmt.Errorf("invalid timestep %v ms", meta.TimestepMs)
	}
	return nil
}

func cString(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}

func putCString(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	clear(dst[n:])
}
