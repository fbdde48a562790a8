// Package broker holds the session state shared between the simulator and
// the network, and the loops that move points between them.
package broker

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/ot-databroker/model"
)

// ErrTableFull indicates a table was sized beyond model.MaxPoints.
var ErrTableFull = errors.New("point table capacity exceeded")

// PointTable is an ordered, fixed-size table of points. After the session
// fills it from the simulator only values and timestamps change.
//
// PointTable has no lock of its own; the owning Session serialises access.
type PointTable struct {
	points []model.Point
}

// NewPointTable allocates a table of n zero points.
func NewPointTable(n int) (*PointTable, error) {
	if n < 0 || n > model.MaxPoints {
		return nil, fmt.Errorf("%w: %d points (max %d)", ErrTableFull, n, model.MaxPoints)
	}
	return &PointTable{points: make([]model.Point, n)}, nil
}

func (t *PointTable) Len() int { return len(t.points) }

func (t *PointTable) At(i int) model.Point { return t.points[i] }

// Index returns the position of the first point named name, or -1.
func (t *PointTable) Index(name string) int {
	for i := range t.points {
		if t.points[i].Name == name {
			return i
		}
	}
	return -1
}

// SetValue overwrites the value at i and leaves the timestamp alone.
func (t *PointTable) SetValue(i int, v float64) {
	t.points[i].Value = v
}

// Points exposes the backing slice for bulk copies by the session.
func (t *PointTable) Points() []model.Point { return t.points }

// Snapshot returns a copy of the table.
func (t *PointTable) Snapshot() []model.Point {
	return append([]model.Point(nil), t.points...)
}
