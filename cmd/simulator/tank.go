package main

import (
	"math"

	"github.com/signalsfoundry/ot-databroker/model"
)

const (
	pumpCmd  = 0
	valveCmd = 1

	tankLevel = 0
	tankFlow  = 1
)

// tank is a single-tank level process: a pump fills it, a valve drains it.
type tank struct {
	inflowGain  float64
	outflowGain float64

	level   float64
	simTime float64

	publish []model.Point
	update  []model.Point
}

func newTank(inflowGain, outflowGain float64) *tank {
	return &tank{
		inflowGain:  inflowGain,
		outflowGain: outflowGain,
		publish: []model.Point{
			{Name: "tank_level", Kind: "DOUBLE"},
			{Name: "outflow", Kind: "DOUBLE"},
		},
		update: []model.Point{
			{Name: "pump_cmd", Kind: "DOUBLE"},
			{Name: "valve_cmd", Kind: "DOUBLE"},
		},
	}
}

// advance integrates one forward Euler step of dt seconds using the current
// actuator values. Commands are clamped to [0, 1] and the level to >= 0.
func (t *tank) advance(dt float64) {
	pump := clamp01(t.update[pumpCmd].Value)
	valve := clamp01(t.update[valveCmd].Value)

	out := t.outflowGain * valve * math.Sqrt(t.level)
	t.level += (t.inflowGain*pump - out) * dt
	if t.level < 0 {
		t.level = 0
	}
	t.simTime += dt

	t.publish[tankLevel].Value = t.level
	t.publish[tankFlow].Value = out
	for i := range t.publish {
		t.publish[i].Time = t.simTime
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}
