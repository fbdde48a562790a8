//go:build !linux

package ipc

import "github.com/signalsfoundry/ot-databroker/model"

// ShmKeys are the SysV keys of the three shared memory segments.
type ShmKeys struct {
	Handshake int
	Publish   int
	Update    int
}

// DefaultShmKeys match the keys compiled into the simulator adapter.
var DefaultShmKeys = ShmKeys{Handshake: 10620, Publish: 10618, Update: 10619}

// ShmLink is unavailable off linux; Handshake always fails.
type ShmLink struct{}

func NewShmLink(keys ShmKeys) *ShmLink { return &ShmLink{} }

func (*ShmLink) Handshake() (model.SessionMetadata, error) {
	return model.SessionMetadata{}, ErrUnsupported
}
func (*ShmLink) ReadPublish([]model.Point) {}
func (*ShmLink) ReadUpdate([]model.Point)  {}
func (*ShmLink) WriteUpdate([]model.Point) {}
func (*ShmLink) Close() error              { return nil }

// ShmSimulatorPort is unavailable off linux.
type ShmSimulatorPort struct{}

func CreateSimulatorPort(keys ShmKeys, timestepMs float64, publish, update []model.Point) (*ShmSimulatorPort, error) {
	return nil, ErrUnsupported
}
func (*ShmSimulatorPort) WritePublish([]model.Point) {}
func (*ShmSimulatorPort) ReadUpdate([]model.Point)   {}
func (*ShmSimulatorPort) Close() error               { return nil }
