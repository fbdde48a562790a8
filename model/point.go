package model

import "time"

const (
	// MaxPointName is the capacity of a point name in the shared memory record.
	MaxPointName = 128
	// MaxPointKind is the capacity of a point kind tag in the shared memory record.
	MaxPointKind = 50
	// MaxPoints bounds the number of points a single table can hold.
	MaxPoints = 1000
)

// Point is one named, typed, timestamped scalar. Name is the join key
// between the simulator's shared memory and the network protocols.
type Point struct {
	Name  string  `json:"name" msgpack:"name"`
	Kind  string  `json:"kind" msgpack:"kind"` // e.g. "DOUBLE"
	Value float64 `json:"value" msgpack:"value"`
	Time  float64 `json:"time" msgpack:"time"` // simulation seconds
}

// SessionMetadata is established once from the simulator handshake.
type SessionMetadata struct {
	PublishCount int     `json:"publish_count" msgpack:"publish_count"`
	UpdateCount  int     `json:"update_count" msgpack:"update_count"`
	TimestepMs   float64 `json:"timestep_ms" msgpack:"timestep_ms"`
}

// Timestep converts TimestepMs to a time.Duration.
func (m SessionMetadata) Timestep() time.Duration {
	return time.Duration(m.TimestepMs * float64(time.Millisecond))
}
