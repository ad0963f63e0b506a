package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"coachline.org/internal/obs"
)

// HealthServer exposes the standard gRPC health service for orchestrators
// that probe over gRPC instead of HTTP.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	probe  ReadyProbe
}

// NewHealthServer builds a gRPC server carrying only the health service.
func NewHealthServer(probe ReadyProbe) *HealthServer {
	h := health.NewServer()
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, h)
	h.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{srv: srv, health: h, probe: probe}
}

// GRPC returns the underlying server for Serve/GracefulStop.
func (s *HealthServer) GRPC() *grpc.Server { return s.srv }

// Watch polls the readiness probe and publishes the result until the context
// is canceled.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.publish(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *HealthServer) publish(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := s.probe.Check(checkCtx); err != nil {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		obs.SetReady(false)
	} else {
		obs.SetReady(true)
	}
	s.health.SetServingStatus(serviceName, status)
	s.health.SetServingStatus("", status)
}
