package discovery

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/internal/logging"
	"github.com/signalsfoundry/ot-databroker/internal/observability"
	"github.com/signalsfoundry/ot-databroker/internal/transport"
	"github.com/signalsfoundry/ot-databroker/model"
)

// Responder is the registrar's side of a request/reply channel.
type Responder interface {
	Recv() ([]byte, error)
	Send(msg []byte) error
}

// Registrar answers endpoint registrations with descriptors.
//
// Every descriptor whose host differs from the registering endpoint is sent
// back on the same exchange. A strict request/reply transport delivers only
// the first; later sends fail and are logged.
type Registrar struct {
	descriptors []model.EndpointDescriptor
	resp        Responder
	sems        *ipc.Bank
	log         logging.Logger
	metrics     *observability.BrokerCollector
}

// NewRegistrar wires a registrar. log and metrics may be nil.
func NewRegistrar(descriptors []model.EndpointDescriptor, resp Responder, sems *ipc.Bank, log logging.Logger, metrics *observability.BrokerCollector) *Registrar {
	return &Registrar{
		descriptors: descriptors,
		resp:        resp,
		sems:        sems,
		log:         logging.OrNoop(log).With(logging.Component("registrar")),
		metrics:     metrics,
	}
}

// HandleRegistration answers one registration and returns how many
// descriptors were sent.
func (r *Registrar) HandleRegistration(ctx context.Context, msg []byte) (int, error) {
	ctx, span := observability.StartSpan(ctx, "discovery.registration",
		observability.AttrRole.String(string(RoleRegistrar)))

	tag, source, err := ParseRegistration(msg)
	if err != nil {
		observability.EndSpan(span, err)
		return 0, err
	}
	defer span.End()
	span.SetAttributes(attribute.String("databroker.endpoint_tag", tag), observability.AttrEndpoint.String(source))

	sent := 0
	for _, d := range r.descriptors {
		if d.HostIP == source {
			continue
		}
		wire, err := Encode(d)
		if err != nil {
			r.log.Error(ctx, "skipping descriptor", logging.Err(err))
			r.metrics.ObserveDiscovery(string(RoleRegistrar), err)
			continue
		}
		err = r.resp.Send([]byte(wire))
		r.metrics.ObserveDiscovery(string(RoleRegistrar), err)
		if err != nil {
			r.log.Warn(ctx, "descriptor not delivered",
				logging.String("endpoint", source),
				logging.String("node", d.Node),
				logging.Err(err),
			)
			continue
		}
		sent++
		r.log.Info(ctx, "sent initialization to endpoint",
			logging.String("endpoint", source),
			logging.String("node", d.WithDefaults().Node),
		)
	}
	span.SetAttributes(attribute.Int("descriptors.sent", sent))
	return sent, nil
}

// Run serves registrations until stop is signaled or the transport fails.
func (r *Registrar) Run(ctx context.Context) error {
	r.log.Info(ctx, "registrar listening", logging.Int("descriptors", len(r.descriptors)))
	defer r.log.Info(ctx, "registrar closed")
	for {
		if r.sems.IsStopped() || ctx.Err() != nil {
			return nil
		}
		msg, err := r.resp.Recv()
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			if r.sems.IsStopped() || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive registration: %w", err)
		}
		if _, err := r.HandleRegistration(ctx, msg); err != nil {
			r.log.Warn(ctx, "dropping registration", logging.Err(err))
		}
	}
}
