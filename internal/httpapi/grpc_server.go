package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"paybook.org/internal/obs"
)

const serviceName = "paybook-api"

// GRPCHealthServer exposes readiness over the standard gRPC health protocol.
type GRPCHealthServer struct {
	grpc_health_v1.UnimplementedHealthServer

	readyProbe ReadyProbe
}

// NewGRPCHealthServer creates the gRPC health service wrapper.
func NewGRPCHealthServer(rp ReadyProbe) *GRPCHealthServer {
	return &GRPCHealthServer{readyProbe: rp}
}

// RegisterGRPC attaches the health service to the given server.
func RegisterGRPC(s *grpc.Server, rp ReadyProbe) {
	grpc_health_v1.RegisterHealthServer(s, NewGRPCHealthServer(rp))
}

// Check evaluates readiness. On failure reports NOT_SERVING.
func (s *GRPCHealthServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := s.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		return &grpc_health_v1.HealthCheckResponse{
			Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		}, nil
	}
	obs.SetReady(true)
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

// Watch sends the current status once and holds the stream open. Readiness
// changes are not pushed; clients should poll Check for updates.
func (s *GRPCHealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	resp, err := s.Check(stream.Context(), req)
	if err != nil {
		return err
	}
	if err := stream.Send(resp); err != nil {
		return status.Errorf(codes.Unavailable, "send health status: %v", err)
	}
	<-stream.Context().Done()
	return stream.Context().Err()
}
