package model

// Snapshot is a copy of both point tables taken at the end of one step.
type Snapshot struct {
	SessionID string  `json:"session_id" msgpack:"session_id"`
	Step      uint64  `json:"step" msgpack:"step"`
	SimTime   float64 `json:"sim_time" msgpack:"sim_time"`
	Publish   []Point `json:"publish" msgpack:"publish"`
	Update    []Point `json:"update" msgpack:"update"`
}
