package discovery

import (
	"context"
	"time"

	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/internal/logging"
	"github.com/signalsfoundry/ot-databroker/internal/observability"
	"github.com/signalsfoundry/ot-databroker/model"
)

// Requester performs one request/reply exchange with host.
type Requester interface {
	Request(ctx context.Context, host string, msg []byte) ([]byte, error)
}

// PushReport summarises one push pass.
type PushReport struct {
	Sent    int
	Skipped int
	Failed  int
}

// Pusher sends every descriptor to its own host, one at a time.
type Pusher struct {
	descriptors []model.EndpointDescriptor
	req         Requester
	sems        *ipc.Bank
	log         logging.Logger
	metrics     *observability.BrokerCollector
}

// stopPoll is how often a pass in progress checks for stop.
const stopPoll = 50 * time.Millisecond

// NewPusher wires a pusher. sems, log and metrics may be nil; without sems
// only ctx ends a pass early.
func NewPusher(descriptors []model.EndpointDescriptor, req Requester, sems *ipc.Bank, log logging.Logger, metrics *observability.BrokerCollector) *Pusher {
	return &Pusher{
		descriptors: descriptors,
		req:         req,
		sems:        sems,
		log:         logging.OrNoop(log).With(logging.Component("pusher")),
		metrics:     metrics,
	}
}

// Push runs once over the descriptor set. A descriptor without addresses is
// skipped; an endpoint that does not acknowledge is counted as failed and
// the pass moves on. Stop abandons a pending acknowledgement and counts the
// rest of the pass as failed.
func (p *Pusher) Push(ctx context.Context) PushReport {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if p.sems != nil {
		go p.cancelOnStop(ctx, cancel)
	}

	var report PushReport
	for _, d := range p.descriptors {
		if ctx.Err() != nil || p.stopped() {
			report.Failed += len(p.descriptors) - report.Sent - report.Skipped - report.Failed
			break
		}
		wire, err := Encode(d)
		if err != nil {
			p.log.Error(ctx, "skipping descriptor", logging.Err(err))
			p.metrics.ObserveDiscovery(string(RolePush), err)
			report.Skipped++
			continue
		}
		if err := p.pushOne(ctx, d.HostIP, wire); err != nil {
			report.Failed++
			continue
		}
		report.Sent++
	}
	p.log.Info(ctx, "endpoint initialization complete",
		logging.Int("sent", report.Sent),
		logging.Int("skipped", report.Skipped),
		logging.Int("failed", report.Failed),
	)
	return report
}

func (p *Pusher) stopped() bool {
	return p.sems != nil && p.sems.IsStopped()
}

func (p *Pusher) cancelOnStop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(stopPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.sems.IsStopped() {
				p.log.Info(ctx, "stop observed; abandoning endpoint initialization")
				cancel()
				return
			}
		}
	}
}

func (p *Pusher) pushOne(ctx context.Context, host, wire string) error {
	ctx, span := observability.StartSpan(ctx, "discovery.push",
		observability.AttrRole.String(string(RolePush)),
		observability.AttrEndpoint.String(host),
	)
	ack, err := p.req.Request(ctx, host, []byte(wire))
	observability.EndSpan(span, err)
	p.metrics.ObserveDiscovery(string(RolePush), err)
	if err != nil {
		p.log.Warn(ctx, "endpoint did not acknowledge descriptor",
			logging.String("endpoint", host),
			logging.Err(err),
		)
		return err
	}
	p.log.Info(ctx, "endpoint acknowledged descriptor",
		logging.String("endpoint", host),
		logging.String("ack", string(ack)),
	)
	return nil
}
