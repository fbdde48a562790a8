package broker

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/internal/logging"
	"github.com/signalsfoundry/ot-databroker/internal/observability"
	"github.com/signalsfoundry/ot-databroker/model"
	"github.com/signalsfoundry/ot-databroker/timectrl"
)

// Telemetry receives the per-step snapshot and the final stop marker.
// Implementations must not block the step loop on delivery.
type Telemetry interface {
	Publish(ctx context.Context, snap model.Snapshot)
	PublishStop(ctx context.Context)
}

// Bridge runs the step loop that keeps the simulator and the session in
// lockstep.
type Bridge struct {
	session *Session
	link    SimLink
	sems    *ipc.Bank
	out     Telemetry

	mode    timectrl.Mode
	log     logging.Logger
	metrics *observability.BrokerCollector
	stats   *StepStats
	dump    bool
}

// BridgeOption customises Bridge construction.
type BridgeOption func(*Bridge)

// WithMode selects real-time or accelerated pacing.
func WithMode(m timectrl.Mode) BridgeOption {
	return func(b *Bridge) { b.mode = m }
}

// WithLogger attaches a logger.
func WithLogger(log logging.Logger) BridgeOption {
	return func(b *Bridge) { b.log = logging.OrNoop(log) }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *observability.BrokerCollector) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

// WithStepStats records every paced step into s.
func WithStepStats(s *StepStats) BridgeOption {
	return func(b *Bridge) { b.stats = s }
}

// WithPointDump logs every point of every step at debug level.
func WithPointDump(enabled bool) BridgeOption {
	return func(b *Bridge) { b.dump = enabled }
}

// NewBridge wires a step loop. out may be nil.
func NewBridge(session *Session, link SimLink, sems *ipc.Bank, out Telemetry, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		session: session,
		link:    link,
		sems:    sems,
		out:     out,
		mode:    timectrl.RealTime,
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.log = b.log.With(logging.Component("sim_bridge"))
	return b
}

// Run performs the handshake and steps until stop is signaled. A handshake
// failure is returned before any step runs. On a normal stop the telemetry
// stop marker is sent and Run returns nil; no semaphore is posted after
// that.
func (b *Bridge) Run(ctx context.Context) error {
	ctx = logging.ContextWithSessionID(ctx, b.session.ID)

	b.log.Info(ctx, "waiting for simulator handshake")
	if err := b.sems.HandshakeReady.Wait(ctx); err != nil {
		return fmt.Errorf("wait for handshake: %w", err)
	}
	meta, err := b.link.Handshake()
	if err != nil {
		return fmt.Errorf("simulator handshake: %w", err)
	}
	if err := b.session.Start(meta, b.link); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	b.metrics.SetSessionPoints(meta.PublishCount, meta.UpdateCount)
	b.log.Info(ctx, "session started",
		logging.Int("publish_points", meta.PublishCount),
		logging.Int("update_points", meta.UpdateCount),
		logging.Float("timestep_ms", meta.TimestepMs),
		logging.String("pacing", b.mode.String()),
	)

	pacer := timectrl.NewPacer(meta.Timestep(), b.mode)
	if err := b.sems.PublishReady.Post(); err != nil {
		return err
	}
	if err := b.sems.UpdateReady.Post(); err != nil {
		return err
	}

	for {
		if err := b.sems.PublishReady.Wait(ctx); err != nil {
			return fmt.Errorf("wait for publish: %w", err)
		}

		snap, err := b.session.Exchange(b.link)
		if err != nil {
			return err
		}
		if b.dump {
			b.dumpSnapshot(ctx, snap)
		}
		if b.out != nil {
			b.out.Publish(ctx, snap)
		}

		elapsed, overran := pacer.Wait()
		b.metrics.ObserveStep(elapsed, overran)
		if b.stats != nil {
			b.stats.Add(elapsed, overran)
		}

		if err := b.sems.UpdateReady.Post(); err != nil {
			return err
		}
		if b.sems.IsStopped() {
			b.log.Info(ctx, "stop observed; leaving step loop",
				logging.Any("steps", snap.Step),
				logging.Float("sim_time", snap.SimTime),
			)
			if b.out != nil {
				b.out.PublishStop(ctx)
			}
			return nil
		}
	}
}

func (b *Bridge) dumpSnapshot(ctx context.Context, snap model.Snapshot) {
	dump := func(table string, points []model.Point) {
		for _, p := range points {
			b.log.Debug(ctx, "point",
				logging.String("table", table),
				logging.String("name", p.Name),
				logging.String("kind", p.Kind),
				logging.Float("value", p.Value),
				logging.Float("time", p.Time),
			)
		}
	}
	dump("publish", snap.Publish)
	dump("update", snap.Update)
}
