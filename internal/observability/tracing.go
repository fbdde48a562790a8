package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/ot-databroker/internal/logging"
)

const (
	tracerName = "github.com/signalsfoundry/ot-databroker"

	// Span and resource attribute keys specific to the broker.
	AttrSessionID = attribute.Key("databroker.session_id")
	AttrRole      = attribute.Key("databroker.discovery_role")
	AttrEndpoint  = attribute.Key("databroker.endpoint_ip")
)

// TracingConfig selects the exporter and identifies the broker run the
// spans belong to. SessionID and Role are set by the caller once the
// session exists; the rest comes from the environment.
type TracingConfig struct {
	Enabled     bool
	Exporter    string // stdout | otlp
	Endpoint    string // otlp collector, host:port
	SampleRatio float64

	ServiceName string
	Version     string
	SessionID   string
	Role        string

	// Out receives stdout-exporter spans; nil means os.Stdout.
	Out io.Writer
}

// TracingConfigFromEnv reads BROKER_TRACING_ENABLED, BROKER_TRACING_EXPORTER,
// BROKER_TRACING_SERVICE_NAME, BROKER_TRACING_SAMPLE_RATIO and
// BROKER_OTLP_ENDPOINT.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("BROKER_TRACING_ENABLED"), "true"),
		Exporter:    envOr("BROKER_TRACING_EXPORTER", "stdout"),
		Endpoint:    os.Getenv("BROKER_OTLP_ENDPOINT"),
		SampleRatio: 1,
		ServiceName: envOr("BROKER_TRACING_SERVICE_NAME", "ot-databroker"),
	}
	cfg.Exporter = strings.ToLower(cfg.Exporter)
	if raw := os.Getenv("BROKER_TRACING_SAMPLE_RATIO"); raw != "" {
		if r, err := strconv.ParseFloat(raw, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// resourceAttributes describe this broker run. Every span exported during
// the session carries them.
func (c TracingConfig) resourceAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.namespace", "databroker"),
	}
	if c.Version != "" {
		attrs = append(attrs, attribute.String("service.version", c.Version))
	}
	if c.SessionID != "" {
		attrs = append(attrs,
			attribute.String("service.instance.id", c.SessionID),
			AttrSessionID.String(c.SessionID),
		)
	}
	if c.Role != "" {
		attrs = append(attrs, AttrRole.String(c.Role))
	}
	return attrs
}

// InitTracing installs the global tracer provider for one broker run and
// returns its shutdown function. With tracing disabled the provider is a
// noop and shutdown does nothing.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log).With(logging.Component("tracing"))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(cfg.resourceAttributes()...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("role", cfg.Role),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout", "":
		out := cfg.Out
		if out == nil {
			// The console prompt shares stdout; spans are printed compactly.
			out = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q (want stdout or otlp)", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans, giving up after five seconds.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logging.OrNoop(log).Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

// Tracer returns the broker's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span tagged with the session ID carried by ctx, if
// any, and the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if id := logging.SessionIDFromContext(ctx); id != "" {
		attrs = append(attrs, AttrSessionID.String(id))
	}
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if non-nil, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
