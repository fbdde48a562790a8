// Package telemetry fans each step's snapshot out to passive observers. The
// primary sink is a UDP broadcast; an MQTT mirror is optional.
package telemetry

import (
	"strconv"

	"github.com/signalsfoundry/ot-databroker/model"
)

// DefaultAddr is the limited-broadcast destination observers listen on.
const DefaultAddr = "255.255.255.255:8000"

var stopMessage = []byte("STOP\nSTOP\n")

// StopMessage returns the end-of-session marker.
func StopMessage() []byte {
	return append([]byte(nil), stopMessage...)
}

// FormatSnapshot appends one line per point, publish table first:
//
//	<name> <kind> <value> <time> sec
//
// Numbers use six decimal places.
func FormatSnapshot(buf []byte, snap model.Snapshot) []byte {
	buf = appendPoints(buf, snap.Publish)
	return appendPoints(buf, snap.Update)
}

func appendPoints(buf []byte, points []model.Point) []byte {
	for _, p := range points {
		buf = append(buf, p.Name...)
		buf = append(buf, ' ')
		buf = append(buf, p.Kind...)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, p.Value, 'f', 6, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, p.Time, 'f', 6, 64)
		buf = append(buf, " sec\n"...)
	}
	return buf
}
