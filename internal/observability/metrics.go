package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Ingress outcomes recorded by ObserveIngress.
const (
	IngressApplied   = "applied"
	IngressUnknown   = "unknown_point"
	IngressMalformed = "malformed"
)

// BrokerCollector bundles the broker's Prometheus metrics. Every recording
// method is safe on a nil collector so components can run without metrics.
type BrokerCollector struct {
	gatherer prometheus.Gatherer

	Steps          prometheus.Counter
	StepDurations  prometheus.Histogram
	PacingOverruns prometheus.Counter
	SessionPoints  *prometheus.GaugeVec

	IngressMessages    *prometheus.CounterVec
	TelemetrySamples   *prometheus.CounterVec
	DiscoveryExchanges *prometheus.CounterVec

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewBrokerCollector registers broker metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewBrokerCollector(reg prometheus.Registerer) (*BrokerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_steps_total",
		Help: "Simulation steps exchanged with the simulator.",
	}), "broker_steps_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_step_duration_seconds",
		Help:    "Wall-clock duration of each paced simulation step.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "broker_step_duration_seconds")
	if err != nil {
		return nil, err
	}
	overruns, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_pacing_overruns_total",
		Help: "Steps whose work alone took longer than the simulation timestep.",
	}), "broker_pacing_overruns_total")
	if err != nil {
		return nil, err
	}
	points, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "broker_session_points",
		Help: "Points in the current session, labeled by table.",
	}, []string{"table"}), "broker_session_points")
	if err != nil {
		return nil, err
	}

	ingress, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_ingress_messages_total",
		Help: "PLC update messages received, labeled by outcome.",
	}, []string{"result"}), "broker_ingress_messages_total")
	if err != nil {
		return nil, err
	}
	telemetry, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_telemetry_samples_total",
		Help: "Telemetry samples emitted, labeled by sink and outcome.",
	}, []string{"sink", "result"}), "broker_telemetry_samples_total")
	if err != nil {
		return nil, err
	}
	discovery, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_discovery_descriptors_total",
		Help: "Endpoint descriptors exchanged, labeled by role and outcome.",
	}, []string{"role", "result"}), "broker_discovery_descriptors_total")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admin_rpc_requests_total",
		Help: "Total number of handled admin RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "admin_rpc_requests_total")
	if err != nil {
		return nil, err
	}
	rpcDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "admin_rpc_duration_seconds",
		Help:    "Admin RPC latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"service", "method"}), "admin_rpc_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &BrokerCollector{
		gatherer:           gatherer,
		Steps:              steps,
		StepDurations:      durations,
		PacingOverruns:     overruns,
		SessionPoints:      points,
		IngressMessages:    ingress,
		TelemetrySamples:   telemetry,
		DiscoveryExchanges: discovery,
		RPCRequests:        requests,
		RPCDurations:       rpcDurations,
	}, nil
}

// ObserveStep records one completed step.
func (c *BrokerCollector) ObserveStep(d time.Duration, overran bool) {
	if c == nil {
		return
	}
	if c.Steps != nil {
		c.Steps.Inc()
	}
	if c.StepDurations != nil {
		c.StepDurations.Observe(d.Seconds())
	}
	if overran && c.PacingOverruns != nil {
		c.PacingOverruns.Inc()
	}
}

// SetSessionPoints publishes the table sizes learned at handshake.
func (c *BrokerCollector) SetSessionPoints(publish, update int) {
	if c == nil || c.SessionPoints == nil {
		return
	}
	c.SessionPoints.WithLabelValues("publish").Set(float64(publish))
	c.SessionPoints.WithLabelValues("update").Set(float64(update))
}

// ObserveIngress counts one PLC message by outcome.
func (c *BrokerCollector) ObserveIngress(result string) {
	if c == nil || c.IngressMessages == nil {
		return
	}
	c.IngressMessages.WithLabelValues(result).Inc()
}

// ObserveTelemetry counts one sample handed to sink.
func (c *BrokerCollector) ObserveTelemetry(sink string, err error) {
	if c == nil || c.TelemetrySamples == nil {
		return
	}
	c.TelemetrySamples.WithLabelValues(sink, resultLabel(err)).Inc()
}

// ObserveDiscovery counts one descriptor sent or received by role.
func (c *BrokerCollector) ObserveDiscovery(role string, err error) {
	if c == nil || c.DiscoveryExchanges == nil {
		return
	}
	c.DiscoveryExchanges.WithLabelValues(role, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *BrokerCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *BrokerCollector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *BrokerCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds c to reg, returning the already registered collector of
// the same type when one exists under the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	return register(reg, counter, name)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	return register(reg, hist, name)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	return register(reg, vec, name)
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	return register(reg, vec, name)
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	return register(reg, vec, name)
}
