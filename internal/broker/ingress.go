package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/internal/logging"
	"github.com/signalsfoundry/ot-databroker/internal/observability"
	"github.com/signalsfoundry/ot-databroker/internal/transport"
)

// ErrMalformedUpdate is returned by ParseUpdate for messages that are not
// "<name>:<value>".
var ErrMalformedUpdate = errors.New("malformed update message")

// Receiver delivers one message per call. transport.ErrTimeout means no
// message arrived in time and the caller may try again.
type Receiver interface {
	Recv() ([]byte, error)
}

// ParseUpdate splits "<name>:<value>". Empty fields are skipped the way
// strtok does, so "::valve:1" still names "valve"; anything after the
// value is ignored.
func ParseUpdate(msg []byte) (string, float64, error) {
	fields := strings.FieldsFunc(string(msg), func(r rune) bool { return r == ':' })
	if len(fields) < 2 {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedUpdate, msg)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q: %v", ErrMalformedUpdate, msg, err)
	}
	return fields[0], v, nil
}

// Ingress applies actuator updates from PLC endpoints to the session.
type Ingress struct {
	session *Session
	recv    Receiver
	sems    *ipc.Bank
	log     logging.Logger
	metrics *observability.BrokerCollector
}

// NewIngress wires an ingress loop. log and metrics may be nil.
func NewIngress(session *Session, recv Receiver, sems *ipc.Bank, log logging.Logger, metrics *observability.BrokerCollector) *Ingress {
	return &Ingress{
		session: session,
		recv:    recv,
		sems:    sems,
		log:     logging.OrNoop(log).With(logging.Component("plc_ingress")),
		metrics: metrics,
	}
}

// Handle applies one message and reports whether it matched a point.
// Unknown names and malformed messages are dropped.
func (in *Ingress) Handle(ctx context.Context, msg []byte) bool {
	name, v, err := ParseUpdate(msg)
	if err != nil {
		in.metrics.ObserveIngress(observability.IngressMalformed)
		in.log.Debug(ctx, "dropping update", logging.Err(err))
		return false
	}
	if !in.session.MergeUpdate(name, v) {
		in.metrics.ObserveIngress(observability.IngressUnknown)
		in.log.Debug(ctx, "dropping update for unknown point", logging.String("name", name))
		return false
	}
	in.metrics.ObserveIngress(observability.IngressApplied)
	return true
}

// Run receives until stop is signaled or the receiver fails. A stop
// observed between messages ends the loop with nil.
func (in *Ingress) Run(ctx context.Context) error {
	ctx = logging.ContextWithSessionID(ctx, in.session.ID)
	for {
		if in.sems.IsStopped() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		msg, err := in.recv.Recv()
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			if in.sems.IsStopped() || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive update: %w", err)
		}
		in.Handle(ctx, msg)
	}
}
