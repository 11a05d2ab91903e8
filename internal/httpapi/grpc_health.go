package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer is the gRPC health surface, used by orchestrators that probe
// over gRPC instead of HTTP.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
}

// NewHealthServer builds a gRPC server exposing the standard health service.
func NewHealthServer() *HealthServer {
	h := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, h)
	return &HealthServer{server: srv, health: h}
}

// GRPC returns the underlying server for Serve/GracefulStop.
func (s *HealthServer) GRPC() *grpc.Server { return s.server }

// Watch periodically re-evaluates readiness until the context ends.
func (s *HealthServer) Watch(ctx context.Context, probe ReadyProbe, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.update(ctx, probe)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.update(ctx, probe)
		}
	}
}

func (s *HealthServer) update(ctx context.Context, probe ReadyProbe) {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	if err := probe.Check(checkCtx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
}
