package grpcserver

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/consumer"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/runtime"
)

// ConsumersService is the health service name that reports NOT_SERVING
// when a configured consumer has stopped.
const ConsumersService = "eventbus.consumers"

type healthSvc struct {
	grpc_health_v1.UnimplementedHealthServer
	rt        *runtime.Runtime
	consumers func() []consumer.Status
}

func (h *healthSvc) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	serving := &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}
	notServing := &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}
	switch req.GetService() {
	case "":
		if err := h.rt.CheckHealth(ctx); err != nil {
			return notServing, nil
		}
		return serving, nil
	case ConsumersService:
		if h.consumers == nil {
			return serving, nil
		}
		for _, s := range h.consumers() {
			if !s.Running {
				return notServing, nil
			}
		}
		return serving, nil
	default:
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
}
