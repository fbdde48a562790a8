package admin

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/internal/observability"
)

// ServiceName is the name the broker reports under in the health service.
const ServiceName = "databroker.Broker"

// HealthServer is a gRPC server carrying only the standard health service.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
}

// NewHealthServer builds the server. metrics may be nil.
func NewHealthServer(metrics *observability.BrokerCollector) *HealthServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(metrics.UnaryServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	h := &HealthServer{server: srv, health: hs}
	h.SetServing(true)
	return h
}

// SetServing flips both the overall and the broker service status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving lis.
func (h *HealthServer) Serve(lis net.Listener) error {
	return h.server.Serve(lis)
}

// WatchStop reports NOT_SERVING once stop is signaled.
func (h *HealthServer) WatchStop(ctx context.Context, sems *ipc.Bank, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sems.IsStopped() {
				h.SetServing(false)
				return
			}
		}
	}
}

// Stop drains in-flight RPCs and stops the server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
