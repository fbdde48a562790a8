package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/signalsfoundry/ot-databroker/internal/logging"
	"github.com/signalsfoundry/ot-databroker/internal/observability"
	"github.com/signalsfoundry/ot-databroker/model"
)

// Sink delivers one encoded sample. Delivery is best effort.
type Sink interface {
	Name() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Broadcaster formats each snapshot once and hands it to every sink. A
// failing sink loses that sample; nothing is retried or escalated.
type Broadcaster struct {
	mu      sync.Mutex
	buf     []byte
	sinks   []Sink
	log     logging.Logger
	metrics *observability.BrokerCollector
}

// NewBroadcaster returns a broadcaster over sinks. log and metrics may be nil.
func NewBroadcaster(log logging.Logger, metrics *observability.BrokerCollector, sinks ...Sink) *Broadcaster {
	return &Broadcaster{
		sinks:   sinks,
		log:     logging.OrNoop(log).With(logging.Component("telemetry")),
		metrics: metrics,
	}
}

// Publish sends the snapshot to every sink.
func (b *Broadcaster) Publish(ctx context.Context, snap model.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = FormatSnapshot(b.buf[:0], snap)
	b.sendLocked(ctx, b.buf)
}

// PublishStop sends the end-of-session marker to every sink.
func (b *Broadcaster) PublishStop(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendLocked(ctx, stopMessage)
}

func (b *Broadcaster) sendLocked(ctx context.Context, payload []byte) {
	for _, s := range b.sinks {
		err := s.Send(ctx, payload)
		b.metrics.ObserveTelemetry(s.Name(), err)
		if err != nil {
			b.log.Debug(ctx, "telemetry sample lost",
				logging.String("sink", s.Name()),
				logging.Int("bytes", len(payload)),
				logging.Err(err),
			)
		}
	}
}

// Close closes every sink.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for _, s := range b.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
